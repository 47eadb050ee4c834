// Package artifacttool implements the Plan-mode "write-like" surface
// named in spec.md §4.11: agent.create_artifact records a produced
// output in storage without touching the workspace, and
// agent.request_plan_mode/agent.request_build_mode let a worker signal a
// mode change for a human to confirm. Grounded on
// v2/tool/approvaltool/approval.go's ctx.Actions() side-channel pattern
// (used here for the mode-switch signal) and store.CreateArtifact for
// the artifact write.
package artifacttool

import (
	"fmt"
	"time"

	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/registry"
	"github.com/ifBars/orchestrix/store"
)

// ModeSwitcher is satisfied by *orchestrator.Orchestrator. Declared
// locally so this tool package does not import orchestrator, which would
// otherwise need to import registry's tool packages to wire them.
type ModeSwitcher interface {
	RequestModeSwitch(runID string, to registry.Mode)
}

// CreateArtifact implements agent.create_artifact: the one write-shaped
// operation available in Plan mode, since it only inserts a row and never
// touches the workspace filesystem.
type CreateArtifact struct {
	Store *store.Store
}

func (t *CreateArtifact) Name() string        { return "agent.create_artifact" }
func (t *CreateArtifact) Description() string { return "Record a produced output (plan, report, note, data) against the current run." }
func (t *CreateArtifact) Scope() policy.Scope { return policy.ScopeRead }
func (t *CreateArtifact) Mode() registry.Mode { return registry.ModeBoth }

func (t *CreateArtifact) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"kind": map[string]any{
				"type": "string",
				"enum": []string{"file", "plan", "report", "data", "notes"},
			},
			"body": map[string]any{"type": "string", "description": "artifact content, or a URI referencing it"},
		},
		"required": []string{"kind", "body"},
	}
}

func (t *CreateArtifact) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	kind, _ := args["kind"].(string)
	body, _ := args["body"].(string)
	if kind == "" || body == "" {
		return nil, fmt.Errorf("agent.create_artifact: kind and body are required")
	}

	artifact := model.Artifact{
		ID:        model.NewID(),
		RunID:     ctx.RunID,
		Kind:      model.ArtifactKind(kind),
		URIOrBody: body,
		CreatedAt: time.Now(),
	}
	if err := t.Store.CreateArtifact(artifact); err != nil {
		return nil, err
	}
	return map[string]any{"artifact_id": artifact.ID}, nil
}

// RequestPlanMode implements agent.request_plan_mode.
type RequestPlanMode struct {
	Orchestrator ModeSwitcher
}

func (t *RequestPlanMode) Name() string        { return "agent.request_plan_mode" }
func (t *RequestPlanMode) Description() string { return "Signal that the run should drop back into Plan mode for human review." }
func (t *RequestPlanMode) Scope() policy.Scope { return policy.ScopeRead }
func (t *RequestPlanMode) Mode() registry.Mode { return registry.ModeBuild }

func (t *RequestPlanMode) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *RequestPlanMode) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	t.Orchestrator.RequestModeSwitch(ctx.RunID, registry.ModePlan)
	ctx.Actions().RequireApproval = true
	ctx.Actions().ApprovalReason = "worker requested a return to Plan mode"
	return map[string]any{"status": "requested"}, nil
}

// RequestBuildMode implements agent.request_build_mode.
type RequestBuildMode struct {
	Orchestrator ModeSwitcher
}

func (t *RequestBuildMode) Name() string        { return "agent.request_build_mode" }
func (t *RequestBuildMode) Description() string { return "Signal that the plan is ready and the run should proceed into Build mode." }
func (t *RequestBuildMode) Scope() policy.Scope { return policy.ScopeRead }
func (t *RequestBuildMode) Mode() registry.Mode { return registry.ModePlan }

func (t *RequestBuildMode) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *RequestBuildMode) Call(ctx *registry.Context, args map[string]any) (map[string]any, error) {
	t.Orchestrator.RequestModeSwitch(ctx.RunID, registry.ModeBuild)
	ctx.Actions().RequireApproval = true
	ctx.Actions().ApprovalReason = "worker requested to proceed to Build mode"
	return map[string]any{"status": "requested"}, nil
}
