// Package recovery implements startup checkpoint re-hydration (spec.md
// §4.12): find every non-terminal run, resume it from its last completed
// step, and fail any run whose checkpoint cannot be deserialized rather
// than silently dropping it. Grounded on the teacher's session-store
// rehydration comment in v2/session/store.go, generalized from a single
// session load into a full run-resume sweep.
package recovery

import (
	"encoding/json"
	"time"

	"github.com/ifBars/orchestrix/bus"
	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/orcherr"
	"github.com/ifBars/orchestrix/store"
)

// Resumer resumes one run's build phase starting at the given step index.
type Resumer func(run model.Run, resumeFromStep int) error

// Stats summarizes one startup recovery sweep, surfaced to the operator
// (supplemented beyond spec.md's bare description, per SPEC_FULL.md §12).
type Stats struct {
	RunsScanned  int
	RunsResumed  int
	RunsFailed   int
	FailedRunIDs []string
}

// Recovery owns the startup resume sweep.
type Recovery struct {
	store   *store.Store
	bus     *bus.Bus
	resumer Resumer
}

// New constructs a Recovery bound to storage, the event bus, and the
// resume callback the Orchestrator provides.
func New(st *store.Store, b *bus.Bus, resumer Resumer) *Recovery {
	return &Recovery{store: st, bus: b, resumer: resumer}
}

// Run performs one full recovery sweep, returning aggregate stats. It
// never panics on a malformed checkpoint; such runs are marked failed
// with reason "unrecoverable checkpoint" and counted, not dropped.
func (r *Recovery) Run() (Stats, error) {
	runs, err := r.store.ListNonTerminalRuns()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{RunsScanned: len(runs)}
	for _, run := range runs {
		cp, ok, err := r.store.GetCheckpoint(run.ID)
		if err != nil {
			return stats, err
		}
		if !ok {
			// No checkpoint yet means the run never completed a step; resume
			// from the beginning.
			if err := r.resumer(run, 0); err != nil {
				r.markUnrecoverable(run, err, &stats)
				continue
			}
			stats.RunsResumed++
			continue
		}

		if !validRuntimeState(cp.RuntimeState) {
			r.markUnrecoverable(run, orcherr.New(orcherr.Recovery, "recovery", "run", "checkpoint runtime_state failed to deserialize", nil), &stats)
			continue
		}

		if err := r.resumer(run, cp.LastStepIndex+1); err != nil {
			r.markUnrecoverable(run, err, &stats)
			continue
		}
		stats.RunsResumed++
	}
	return stats, nil
}

// validRuntimeState reports whether the persisted runtime-state blob is
// either empty (nothing beyond the checkpoint index itself) or
// well-formed JSON.
func validRuntimeState(blob []byte) bool {
	if len(blob) == 0 {
		return true
	}
	var v any
	return json.Unmarshal(blob, &v) == nil
}

func (r *Recovery) markUnrecoverable(run model.Run, cause error, stats *Stats) {
	now := time.Now()
	reason := "unrecoverable checkpoint"
	_ = r.store.UpdateRunStatus(run.ID, model.RunFailed, reason, &now)
	_ = r.store.UpdateTaskStatus(run.TaskID, model.TaskFailed, now)
	r.bus.Publish(model.Event{
		RunID:     &run.ID,
		Category:  model.CategoryTask,
		Type:      "run.recovery_failed",
		Payload:   map[string]any{"reason": reason, "cause": cause.Error()},
		CreatedAt: now,
	})
	stats.RunsFailed++
	stats.FailedRunIDs = append(stats.FailedRunIDs, run.ID)
}

// ResumeTask is a supplemented operator-facing entry point (SPEC_FULL.md
// §12): manually re-trigger recovery for one task's live run instead of
// waiting for the next full startup sweep. The CLI's `resume` subcommand
// does not call it; it runs the full Run sweep.
func ResumeTask(r *Recovery, st *store.Store, taskID string) (model.Run, error) {
	runs, err := st.ListNonTerminalRuns()
	if err != nil {
		return model.Run{}, err
	}
	for _, run := range runs {
		if run.TaskID != taskID {
			continue
		}
		cp, ok, err := st.GetCheckpoint(run.ID)
		resumeFrom := 0
		if err != nil {
			return model.Run{}, err
		}
		if ok {
			resumeFrom = cp.LastStepIndex + 1
		}
		if err := r.resumer(run, resumeFrom); err != nil {
			return run, err
		}
		return run, nil
	}
	return model.Run{}, orcherr.New(orcherr.Recovery, "recovery", "resume_task", "no non-terminal run found for task "+taskID, nil)
}
