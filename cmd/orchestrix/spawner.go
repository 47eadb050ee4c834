package main

import (
	"context"

	"github.com/ifBars/orchestrix/decision"
	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/supervisor"
)

// spawnBridge is the one concrete type that satisfies both
// worker.Spawner (called from the legacy markup decision.KindDelegate
// path with a bare context.Context) and subagenttool.Spawner (called
// from the native subagent.spawn tool with a *registry.Context, which
// embeds context.Context and is passed positionally). Both interfaces
// were deliberately declared with a bare context.Context parameter so a
// single method here can back both call sites.
type spawnBridge struct {
	supervisor *supervisor.Supervisor
}

func (b *spawnBridge) Spawn(ctx context.Context, runID string, stepIndex int, delegate decision.Delegate, contract policy.DelegationContract, currentDepth int) error {
	_, err := b.supervisor.Spawn(ctx, supervisor.SpawnRequest{
		RunID:        runID,
		StepIndex:    stepIndex,
		Name:         delegate.Name,
		BaseRef:      delegate.BaseRef,
		CurrentDepth: currentDepth,
		Contract:     contract,
		MaxAttempts:  3,
	})
	return err
}
