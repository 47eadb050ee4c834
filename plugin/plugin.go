// Package plugin loads out-of-process tools via hashicorp/go-plugin,
// exposing each as a registry.CallableTool so the Worker Loop dispatches
// to them exactly like an in-process tool. Grounded on
// plugins/grpc/loader.go's Load/Unload/handshake shape, adapted from
// go-plugin's gRPC transport (which needs generated stubs this exercise
// cannot produce without running protoc) onto go-plugin's net/rpc
// transport, which hashicorp/go-plugin supports natively via
// encoding/gob and requires no code generation.
package plugin

import (
	"fmt"
	"net/rpc"
	"os/exec"
	"sync"

	"github.com/hashicorp/go-hclog"
	hcplugin "github.com/hashicorp/go-plugin"

	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/registry"
)

// Handshake verifies the plugin and host are compatible before any RPC
// is attempted, mirroring plugins/grpc/loader.go's magic-cookie pattern.
var Handshake = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "ORCHESTRIX_PLUGIN",
	MagicCookieValue: "orchestrix_tool_plugin_v1",
}

// pluginMap is the set go-plugin dispenses from; "tool" is the only
// plugin kind this loader supports.
var pluginMap = map[string]hcplugin.Plugin{
	"tool": &ToolPlugin{},
}

// Descriptor is the wire-safe shape of a tool's static metadata, sent
// once at load time over net/rpc (gob cannot encode the policy.Scope/
// registry.Mode method set directly, so the RPC client re-derives the
// CallableTool interface from this struct instead of proxying method
// calls for the read-only accessors).
type Descriptor struct {
	Name        string
	Description string
	Scope       policy.Scope
	Mode        registry.Mode
	Schema      map[string]any
}

// CallArgs/CallResult are the net/rpc request/response pair for the one
// method that does cross the process boundary on every invocation.
type CallArgs struct {
	RunID      string
	StepIndex  int
	SubAgentID string
	Args       map[string]any
}

type CallResult struct {
	Output map[string]any
	Error  string
}

// ToolRPC is what a plugin binary implements.
type ToolRPC interface {
	Descriptor() (Descriptor, error)
	Call(args CallArgs) (CallResult, error)
}

// ToolPlugin implements hcplugin.Plugin for the net/rpc transport.
type ToolPlugin struct {
	Impl ToolRPC
}

func (p *ToolPlugin) Server(*hcplugin.MuxBroker) (any, error) {
	return &toolRPCServer{impl: p.Impl}, nil
}

func (p *ToolPlugin) Client(b *hcplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &toolRPCClient{client: c}, nil
}

type toolRPCServer struct {
	impl ToolRPC
}

func (s *toolRPCServer) Descriptor(_ struct{}, resp *Descriptor) error {
	d, err := s.impl.Descriptor()
	if err != nil {
		return err
	}
	*resp = d
	return nil
}

func (s *toolRPCServer) Call(args CallArgs, resp *CallResult) error {
	r, err := s.impl.Call(args)
	if err != nil {
		return err
	}
	*resp = r
	return nil
}

type toolRPCClient struct {
	client *rpc.Client
}

func (c *toolRPCClient) Descriptor() (Descriptor, error) {
	var resp Descriptor
	err := c.client.Call("Plugin.Descriptor", struct{}{}, &resp)
	return resp, err
}

func (c *toolRPCClient) Call(args CallArgs) (CallResult, error) {
	var resp CallResult
	err := c.client.Call("Plugin.Call", args, &resp)
	return resp, err
}

// adapter makes a loaded plugin satisfy registry.CallableTool.
type adapter struct {
	desc   Descriptor
	client *toolRPCClient
}

func (a *adapter) Name() string        { return a.desc.Name }
func (a *adapter) Description() string { return a.desc.Description }
func (a *adapter) Scope() policy.Scope { return a.desc.Scope }
func (a *adapter) Mode() registry.Mode { return a.desc.Mode }
func (a *adapter) Schema() map[string]any { return a.desc.Schema }

func (a *adapter) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	result, err := a.client.Call(CallArgs{
		RunID: ctx.RunID, StepIndex: ctx.StepIndex, SubAgentID: ctx.SubAgentID, Args: args,
	})
	if err != nil {
		return nil, fmt.Errorf("plugin %q: rpc call failed: %w", a.desc.Name, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("plugin %q: %s", a.desc.Name, result.Error)
	}
	return result.Output, nil
}

// Loader launches and tracks out-of-process tool plugins.
type Loader struct {
	logger hclog.Logger

	mu      sync.Mutex
	clients map[string]*hcplugin.Client // tool name -> process handle
}

// NewLoader constructs a Loader.
func NewLoader() *Loader {
	return &Loader{
		logger:  hclog.New(&hclog.LoggerOptions{Name: "orchestrix-plugin", Level: hclog.Info}),
		clients: make(map[string]*hcplugin.Client),
	}
}

// Load starts the plugin binary at path and returns a registry.CallableTool
// backed by it.
func (l *Loader) Load(path string) (registry.CallableTool, error) {
	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         pluginMap,
		Cmd:             exec.Command(path),
		Logger:          l.logger,
		AllowedProtocols: []hcplugin.Protocol{hcplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugin: connect to %s: %w", path, err)
	}

	raw, err := rpcClient.Dispense("tool")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugin: dispense %s: %w", path, err)
	}

	toolClient, ok := raw.(*toolRPCClient)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin: %s did not dispense a tool plugin", path)
	}

	desc, err := toolClient.Descriptor()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugin: %s descriptor call failed: %w", path, err)
	}

	l.mu.Lock()
	l.clients[desc.Name] = client
	l.mu.Unlock()

	return &adapter{desc: desc, client: toolClient}, nil
}

// Unload kills the subprocess backing the named tool, if loaded.
func (l *Loader) Unload(toolName string) {
	l.mu.Lock()
	client, ok := l.clients[toolName]
	delete(l.clients, toolName)
	l.mu.Unlock()
	if ok {
		client.Kill()
	}
}

// Shutdown kills every loaded plugin process.
func (l *Loader) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, client := range l.clients {
		client.Kill()
		delete(l.clients, name)
	}
}
