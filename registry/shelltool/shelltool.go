// Package shelltool implements cmd.exec, the shell-scoped tool. Its scope
// classification (policy.ScopeShell) routes it through the Approval
// Gateway for agent presets that require approval on shell execution.
package shelltool

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/registry"
)

// Exec implements cmd.exec.
type Exec struct {
	WorkingDir string
	Timeout    time.Duration
}

func (t *Exec) Name() string        { return "cmd.exec" }
func (t *Exec) Description() string { return "Execute a shell command in the workspace directory." }
func (t *Exec) Scope() policy.Scope { return policy.ScopeShell }
func (t *Exec) Mode() registry.Mode { return registry.ModeBuild }

func (t *Exec) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"cmd":  map[string]any{"type": "string", "description": "executable to run"},
			"args": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"cmd"},
	}
}

func (t *Exec) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	cmdName, _ := args["cmd"].(string)
	var cmdArgs []string
	if raw, ok := args["args"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				cmdArgs = append(cmdArgs, s)
			}
		}
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, cmdName, cmdArgs...)
	cmd.Dir = t.WorkingDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	result := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}
	if err != nil {
		return result, err
	}
	return result, nil
}
