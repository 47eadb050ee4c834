package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/orcherr"
	"github.com/ifBars/orchestrix/store"
)

// SubAgentContext is the payload persisted into model.SubAgent.ContextBlob
// at spawn time: the goal text and rendered system prompt a Loop needs to
// run that sub-agent.
type SubAgentContext struct {
	Goal         string
	SystemPrompt string
}

// LoopFactory builds the Loop a particular sub-agent should run against,
// letting the caller vary provider/model/contract per spawn without the
// Runner needing to know about wiring.
type LoopFactory func(sa model.SubAgent) *Loop

// Runner adapts Loop to supervisor.WorkerRunner: given a sub-agent id, it
// loads the persisted context, builds the right Loop via factory, and
// records the resulting summary as an assistant message.
type Runner struct {
	store   *store.Store
	factory LoopFactory
}

// NewRunner constructs a Runner.
func NewRunner(st *store.Store, factory LoopFactory) *Runner {
	return &Runner{store: st, factory: factory}
}

// RunSubAgent implements supervisor.WorkerRunner.
func (r *Runner) RunSubAgent(ctx context.Context, subAgentID string) error {
	sa, err := r.store.GetSubAgent(subAgentID)
	if err != nil {
		return err
	}

	var sctx SubAgentContext
	if len(sa.ContextBlob) > 0 {
		if err := json.Unmarshal(sa.ContextBlob, &sctx); err != nil {
			return orcherr.New(orcherr.Recovery, "worker", "run_sub_agent", "malformed sub-agent context blob", err)
		}
	}

	loop := r.factory(sa)
	summary, err := loop.Run(ctx, sa.RunID, sa.StepIndex, sctx.SystemPrompt, sctx.Goal)
	if err != nil {
		return err
	}

	run, err := r.store.GetRun(sa.RunID)
	if err != nil {
		return err
	}
	msg := model.AgentMessage{
		ID: model.NewID(), RunID: sa.RunID, TaskID: run.TaskID, Role: model.RoleAssistant,
		Content: summary, TokenCount: model.NewTokenCounter("").Count(summary),
		CreatedAt: time.Now(),
	}
	return r.store.CreateAgentMessage(msg)
}
