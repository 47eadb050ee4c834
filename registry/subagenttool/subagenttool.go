// Package subagenttool implements subagent.spawn: the native tool-call
// path a worker uses to delegate part of its goal to a child worker,
// converging with the legacy markup decision.KindDelegate path onto the
// same Spawner so both entry points drive one Supervisor.Spawn call.
// Grounded on team.Team's delegate-to-member dispatch, adapted onto the
// registry.CallableTool contract instead of hector's internal team
// routing.
package subagenttool

import (
	"context"
	"fmt"

	"github.com/ifBars/orchestrix/decision"
	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/registry"
)

// Spawner is satisfied by the composition root's worker.Spawner bridge.
// Declared locally rather than imported so this tool package does not
// pull in worker (which already imports registry). It takes a plain
// context.Context (not *registry.Context) so the same bridge method also
// satisfies worker.Spawner, which is called from the legacy markup
// delegate path with a bare context.
type Spawner interface {
	Spawn(ctx context.Context, runID string, stepIndex int, delegate decision.Delegate, contract policy.DelegationContract, currentDepth int) error
}

// Tool implements subagent.spawn.
type Tool struct {
	Spawner      Spawner
	Contract     policy.DelegationContract
	CurrentDepth int
}

func (t *Tool) Name() string        { return "subagent.spawn" }
func (t *Tool) Description() string { return "Delegate part of the current goal to a new sub-agent working in its own worktree." }
func (t *Tool) Scope() policy.Scope { return policy.ScopeDestructive }
func (t *Tool) Mode() registry.Mode { return registry.ModeBuild }

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string", "description": "short label for the sub-agent"},
			"goal":     map[string]any{"type": "string", "description": "the objective to delegate"},
			"base_ref": map[string]any{"type": "string", "description": "git ref the sub-agent's worktree should branch from"},
		},
		"required": []string{"name", "goal"},
	}
}

func (t *Tool) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	name, _ := args["name"].(string)
	goal, _ := args["goal"].(string)
	baseRef, _ := args["base_ref"].(string)
	if name == "" || goal == "" {
		return nil, fmt.Errorf("subagent.spawn: name and goal are required")
	}

	delegate := decision.Delegate{Name: name, Goal: goal, BaseRef: baseRef}
	if err := t.Spawner.Spawn(ctx, ctx.RunID, ctx.StepIndex, delegate, t.Contract, t.CurrentDepth); err != nil {
		return nil, err
	}
	return map[string]any{"status": "spawned", "name": name}, nil
}
