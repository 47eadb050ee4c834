// Package registry implements the Tool Registry: stable dotted tool
// names, JSON-Schema input/output descriptors, scope, a Plan/Build
// mode-filter, and schema-validated dispatch. The CallableTool/Context
// shapes are grounded on their usage in
// v2/tool/approvaltool/approval.go (ctx.Actions()/ctx.FunctionCallID(),
// tool.CallableTool interface assertion) — the base interface file itself
// was not present in the retrieved pack, so the shape here is inferred
// from that call site and kept minimal to what this orchestrator needs.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemaval "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ifBars/orchestrix/orcherr"
	"github.com/ifBars/orchestrix/policy"
)

// Mode is the orchestrator phase a tool is visible in.
type Mode int

const (
	ModePlan Mode = iota
	ModeBuild
	ModeBoth
)

// Actions lets a tool signal side-effects back to the worker loop beyond
// its return value, mirroring the teacher's EventActions (RequireInput /
// InputPrompt) used by approvaltool.
type Actions struct {
	RequireApproval bool
	ApprovalReason  string
}

// Context is passed to every tool Call. It carries correlation and the
// side-channel Actions the tool can set.
type Context struct {
	context.Context
	RunID        string
	StepIndex    int
	SubAgentID   string
	FunctionCallID string
	actions      *Actions
}

// Actions returns the mutable side-channel for this call.
func (c *Context) Actions() *Actions {
	if c.actions == nil {
		c.actions = &Actions{}
	}
	return c.actions
}

// CallableTool is the interface every registered tool implements.
type CallableTool interface {
	Name() string
	Description() string
	Scope() policy.Scope
	Mode() Mode
	Schema() map[string]any
	Call(ctx *Context, args map[string]any) (map[string]any, error)
}

// Descriptor is the prompt/wire-visible shape of a registered tool.
type Descriptor struct {
	Name        string
	Description string
	Scope       policy.Scope
	Mode        Mode
	InputSchema map[string]any
}

// Registry holds the set of tools available to the orchestrator and
// dispatches validated calls to them.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]CallableTool
	schemas map[string]*jsonschemaval.Schema
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tools:   make(map[string]CallableTool),
		schemas: make(map[string]*jsonschemaval.Schema),
	}
}

// Register adds a tool, compiling its JSON schema for dispatch-time
// validation. Panics on duplicate names or invalid schemas since these are
// wiring bugs, not runtime conditions.
func (r *Registry) Register(t CallableTool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		panic(fmt.Sprintf("registry: duplicate tool name %q", t.Name()))
	}
	r.tools[t.Name()] = t

	compiler := jsonschemaval.NewCompiler()
	resourceName := t.Name() + ".schema.json"
	if err := compiler.AddResource(resourceName, t.Schema()); err != nil {
		panic(fmt.Sprintf("registry: invalid schema for %q: %v", t.Name(), err))
	}
	sch, err := compiler.Compile(resourceName)
	if err != nil {
		panic(fmt.Sprintf("registry: schema compile failed for %q: %v", t.Name(), err))
	}
	r.schemas[t.Name()] = sch
}

// Descriptors lists every tool visible in the given mode, for inclusion in
// prompts and native tool-call manifests.
func (r *Registry) Descriptors(mode Mode) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, t := range r.tools {
		if t.Mode() != ModeBoth && t.Mode() != mode {
			continue
		}
		out = append(out, Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Scope:       t.Scope(),
			Mode:        t.Mode(),
			InputSchema: t.Schema(),
		})
	}
	return out
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (CallableTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Dispatch validates args against the tool's schema and, if valid,
// invokes it. Schema violations are reported as orcherr.ToolExecution so
// the worker loop records them as a failed ToolCall rather than crashing.
func (r *Registry) Dispatch(ctx *Context, name string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	sch := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return nil, orcherr.New(orcherr.ToolExecution, "registry", "dispatch", fmt.Sprintf("unknown tool %q", name), nil)
	}
	if sch != nil {
		if err := sch.Validate(args); err != nil {
			return nil, orcherr.New(orcherr.ToolExecution, "registry", "dispatch", fmt.Sprintf("invalid arguments for %q", name), err)
		}
	}
	out, err := t.Call(ctx, args)
	if err != nil {
		return nil, orcherr.New(orcherr.ToolExecution, "registry", "dispatch", fmt.Sprintf("tool %q failed", name), err)
	}
	return out, nil
}

// GenerateSchema derives a JSON schema from a Go struct via the
// invopop/jsonschema reflector (SPEC_FULL.md §11). The built-in tools
// hand-write their Schema maps and do not call it.
func GenerateSchema(v any) map[string]any {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(v)
	b, _ := s.MarshalJSON()
	out := map[string]any{}
	_ = json.Unmarshal(b, &out)
	return out
}

// ToolCallEvent is the payload shape for agent.tool_calls_preparing.
type ToolCallEvent struct {
	Label    string
	ToolName string
	Args     map[string]any
}

// EventPayload renders a ToolCallEvent for inclusion in a model.Event.
func (e ToolCallEvent) EventPayload() map[string]any {
	return map[string]any{
		"label":     e.Label,
		"tool_name": e.ToolName,
		"args":      e.Args,
	}
}
