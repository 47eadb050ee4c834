// Package orchestrator owns a Run end-to-end: Plan -> Approval -> Build,
// mode switches, and the write-event-after-row rule that keeps observers
// from ever seeing an event for an unpersisted state. Grounded on
// workflow/workflow.go's phase-sequencing and team.Team's step-execution
// loop, generalized onto the Plan/Approval/Build state machine of
// spec.md §4.11.
package orchestrator

import (
	"time"

	"github.com/ifBars/orchestrix/approval"
	"github.com/ifBars/orchestrix/bus"
	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/orcherr"
	"github.com/ifBars/orchestrix/registry"
	"github.com/ifBars/orchestrix/store"
)

// StepRunner builds and runs the worker loop for one build-phase step,
// returning the step's result payload.
type StepRunner func(runID string, step model.Step) ([]byte, error)

// PlanRunner drives the plan-phase Worker Loop (restricted to read-only +
// agent.create_artifact + agent.request_build_mode) and returns the
// produced plan artifact bytes.
type PlanRunner func(runID, taskPrompt string) ([]byte, error)

// Orchestrator drives runs through their full lifecycle.
type Orchestrator struct {
	store    *store.Store
	bus      *bus.Bus
	approval *approval.Gateway
	plan     PlanRunner
	step     StepRunner
}

// New constructs an Orchestrator.
func New(st *store.Store, b *bus.Bus, gw *approval.Gateway, plan PlanRunner, step StepRunner) *Orchestrator {
	return &Orchestrator{store: st, bus: b, approval: gw, plan: plan, step: step}
}

// StartRun creates and drives a fresh run for a task through the plan
// phase, returning once the run reaches awaiting-approval or fails.
func (o *Orchestrator) StartRun(taskID, taskPrompt string) (model.Run, error) {
	run := model.Run{ID: model.NewID(), TaskID: taskID, Status: model.RunQueued, StartedAt: time.Now()}
	if err := o.store.CreateRun(run); err != nil {
		return model.Run{}, err
	}
	o.transitionTask(taskID, model.TaskPlanning)

	run.Status = model.RunRunning
	if err := o.store.UpdateRunStatus(run.ID, run.Status, "", nil); err != nil {
		return run, err
	}
	o.emitRun(run.ID, "run.started", nil)

	return o.runPlanPhase(run, taskPrompt)
}

// Resume re-enters a crash-recovered run at the phase its owning Task's
// persisted status implies: TaskBuilding re-runs the build phase (which
// skips already-completed/skipped steps by their own persisted status,
// so it is safe to call on a partially-built run), anything else
// (TaskPlanning/TaskAwaitingApproval, meaning the plan phase never
// finished or was never confirmed) restarts the plan phase from scratch,
// since the plan phase has no partial-progress checkpoint of its own.
func (o *Orchestrator) Resume(run model.Run, task model.Task) (model.Run, error) {
	if task.Status == model.TaskBuilding {
		return o.runBuildPhase(run)
	}
	o.transitionTask(task.ID, model.TaskPlanning)
	return o.runPlanPhase(run, task.Prompt)
}

func (o *Orchestrator) runPlanPhase(run model.Run, taskPrompt string) (model.Run, error) {
	artifact, err := o.plan(run.ID, taskPrompt)
	if err != nil {
		return o.failRun(run, "plan phase failed: "+err.Error())
	}

	if err := o.store.SetPlanArtifact(run.ID, artifact); err != nil {
		return run, err
	}
	if err := o.store.CreateArtifact(model.Artifact{
		ID: model.NewID(), RunID: run.ID, Kind: model.ArtifactPlan,
		URIOrBody: string(artifact), CreatedAt: time.Now(),
	}); err != nil {
		return run, err
	}
	o.emitRun(run.ID, "artifact.created", map[string]any{"kind": string(model.ArtifactPlan)})

	o.transitionTask(run.TaskID, model.TaskAwaitingApproval)
	o.emitRun(run.ID, "run.awaiting_approval", nil)
	return run, nil
}

// ResolveApproval applies a user decision on a run's plan. Approval moves
// the run into the build phase; rejection re-enters planning with
// feedback appended to context (feedback is the caller's responsibility
// to thread into the next plan-phase prompt).
func (o *Orchestrator) ResolveApproval(run model.Run, approved bool, feedback string) (model.Run, error) {
	if !approved {
		o.transitionTask(run.TaskID, model.TaskPlanning)
		o.emitRun(run.ID, "run.plan_rejected", map[string]any{"feedback": feedback})
		return run, nil
	}

	o.transitionTask(run.TaskID, model.TaskBuilding)
	o.emitRun(run.ID, "run.building", nil)
	return o.runBuildPhase(run)
}

// runBuildPhase executes every pending step of the run in order,
// persisting a Checkpoint after each completes and honoring per-step
// max-retries before failing the run.
func (o *Orchestrator) runBuildPhase(run model.Run) (model.Run, error) {
	steps, err := o.store.ListSteps(run.ID)
	if err != nil {
		return run, err
	}

	for _, step := range steps {
		if step.Status == model.StepCompleted || step.Status == model.StepSkipped {
			continue
		}

		result, err := o.runStepWithRetries(run.ID, step)
		if err != nil {
			return o.failRun(run, "step "+step.Title+" exhausted retries: "+err.Error())
		}

		now := time.Now()
		if err := o.store.UpdateStepStatus(step.ID, model.StepCompleted, result, nil, &now); err != nil {
			return run, err
		}
		if err := o.store.UpsertCheckpoint(model.Checkpoint{
			RunID: run.ID, LastStepIndex: step.Index, UpdatedAt: now,
		}); err != nil {
			return run, err
		}
		o.emitRun(run.ID, "step.completed", map[string]any{"step_index": step.Index})
	}

	run.Status = model.RunSucceeded
	now := time.Now()
	run.EndedAt = &now
	if err := o.store.UpdateRunStatus(run.ID, run.Status, "", run.EndedAt); err != nil {
		return run, err
	}
	o.transitionTask(run.TaskID, model.TaskCompleted)
	o.emitRun(run.ID, "run.succeeded", nil)
	return run, nil
}

func (o *Orchestrator) runStepWithRetries(runID string, step model.Step) ([]byte, error) {
	var lastErr error
	attempts := step.MaxRetries + 1
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		now := time.Now()
		_ = o.store.UpdateStepStatus(step.ID, model.StepRunning, nil, &now, nil)
		o.emitRun(runID, "step.started", map[string]any{"step_index": step.Index, "attempt": attempt})

		result, err := o.step(runID, step)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if orcherr.IsControlFlow(err) {
			return nil, err
		}
		endedAt := time.Now()
		_ = o.store.UpdateStepStatus(step.ID, model.StepFailed, nil, nil, &endedAt)
		o.emitRun(runID, "step.failed", map[string]any{"step_index": step.Index, "attempt": attempt, "error": err.Error()})
	}
	return nil, lastErr
}

// RequestModeSwitch records a worker-initiated mode-change signal
// (agent.request_plan_mode / agent.request_build_mode). It only emits the
// run.mode_switch_requested event; the Orchestrator has no confirmation
// step and does not change a run's mode in response to it.
func (o *Orchestrator) RequestModeSwitch(runID string, to registry.Mode) {
	o.emitRun(runID, "run.mode_switch_requested", map[string]any{"to_mode": int(to)})
}

func (o *Orchestrator) failRun(run model.Run, reason string) (model.Run, error) {
	run.Status = model.RunFailed
	run.FailureReason = reason
	now := time.Now()
	run.EndedAt = &now
	if err := o.store.UpdateRunStatus(run.ID, run.Status, run.FailureReason, run.EndedAt); err != nil {
		return run, err
	}
	o.transitionTask(run.TaskID, model.TaskFailed)
	o.emitRun(run.ID, "run.failed", map[string]any{"reason": reason})
	return run, orcherr.New(orcherr.BudgetExhausted, "orchestrator", "run", reason, nil)
}

func (o *Orchestrator) transitionTask(taskID string, status model.TaskStatus) {
	_ = o.store.UpdateTaskStatus(taskID, status, time.Now())
}

func (o *Orchestrator) emitRun(runID string, eventType string, payload map[string]any) {
	o.bus.Publish(model.Event{
		RunID:     &runID,
		Category:  model.CategoryTask,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
}
