package supervisor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ifBars/orchestrix/bus"
	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/orcherr"
	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/store"
)

// WorkerRunner is satisfied by worker.Loop; kept as an interface here so
// supervisor does not import worker (worker already imports supervisor's
// spawn tool contract via registry), avoiding an import cycle.
type WorkerRunner interface {
	RunSubAgent(ctx context.Context, subAgentID string) error
}

// Supervisor owns the spawn -> worktree -> attempt/retry -> merge ->
// closed lifecycle for every sub-agent of a run.
type Supervisor struct {
	store    *store.Store
	bus      *bus.Bus
	worktree *WorktreeManager
	runner   WorkerRunner

	mu        sync.Mutex
	cancelled map[string]context.CancelFunc // subAgentID -> cancel
}

// New creates a Supervisor bound to storage, the event bus, a worktree
// manager and the worker implementation that actually runs a sub-agent's
// decide/act/observe loop.
func New(st *store.Store, b *bus.Bus, wt *WorktreeManager, runner WorkerRunner) *Supervisor {
	return &Supervisor{
		store:     st,
		bus:       b,
		worktree:  wt,
		runner:    runner,
		cancelled: make(map[string]context.CancelFunc),
	}
}

// SpawnRequest is what a worker's subagent.spawn tool call carries.
type SpawnRequest struct {
	RunID           string
	StepIndex       int
	Name            string
	BaseRef         string
	CurrentDepth    int
	Contract        policy.DelegationContract
	MaxAttempts     int
}

// Spawn validates the delegation contract, provisions a worktree, and
// drives the attempt/retry loop to completion (or exhaustion), merging
// on success.
func (s *Supervisor) Spawn(ctx context.Context, req SpawnRequest) (model.SubAgent, error) {
	if err := policy.ValidateDelegation(req.CurrentDepth, req.Contract); err != nil {
		return model.SubAgent{}, orcherr.New(orcherr.PolicyDenied, "supervisor", "spawn", err.Error(), err)
	}

	now := time.Now()
	sa := model.SubAgent{
		ID:              model.NewID(),
		RunID:           req.RunID,
		StepIndex:       req.StepIndex,
		Name:            req.Name,
		Status:          model.SubAgentQueued,
		DelegationDepth: req.CurrentDepth + 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateSubAgent(sa); err != nil {
		return model.SubAgent{}, err
	}
	s.emitStatus(sa)

	path, branch, err := s.worktree.Create(ctx, sa.ID, req.BaseRef)
	if err != nil {
		return s.fail(sa, "worktree creation failed: "+err.Error())
	}
	sa.WorktreePath, sa.BranchName = path, branch

	sa.Status = model.SubAgentRunning
	sa.UpdatedAt = time.Now()
	if err := s.store.UpdateSubAgentStatus(sa.ID, sa.Status, "", sa.UpdatedAt); err != nil {
		return model.SubAgent{}, err
	}
	s.emitStatus(sa)

	subCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelled[sa.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancelled, sa.ID)
		s.mu.Unlock()
	}()

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, attemptCancel := context.WithTimeout(subCtx, AttemptTimeout)
		s.bus.Publish(model.Event{
			RunID:     &sa.RunID,
			Category:  model.CategoryAgent,
			Type:      "agent.subagent_attempt",
			Payload:   map[string]any{"sub_agent_id": sa.ID, "attempt": attempt},
			CreatedAt: time.Now(),
		})
		lastErr = s.runner.RunSubAgent(attemptCtx, sa.ID)
		attemptCancel()

		if lastErr == nil {
			sa.Status = model.SubAgentAwaitingMerge
			sa.UpdatedAt = time.Now()
			_ = s.store.UpdateSubAgentStatus(sa.ID, sa.Status, "", sa.UpdatedAt)
			s.emitStatus(sa)
			break
		}

		if orcherr.Is(lastErr, orcherr.Cancellation) {
			return s.closeCancelled(sa)
		}

		sa.Status = model.SubAgentFailed
		sa.Error = lastErr.Error()
		sa.UpdatedAt = time.Now()
		_ = s.store.UpdateSubAgentStatus(sa.ID, sa.Status, sa.Error, sa.UpdatedAt)
		s.emitStatus(sa)

		if attempt < maxAttempts {
			sa.Status = model.SubAgentRunning
			sa.UpdatedAt = time.Now()
			_ = s.store.UpdateSubAgentStatus(sa.ID, sa.Status, "", sa.UpdatedAt)
			s.emitStatus(sa)
		}
	}

	if sa.Status != model.SubAgentAwaitingMerge {
		return sa, lastErr
	}

	outcome, err := s.worktree.Merge(subCtx, sa.BranchName, req.BaseRef)
	if err != nil {
		return s.fail(sa, "merge attempt error: "+err.Error())
	}
	sa.MergeStatus = outcome.Strategy
	if !outcome.Succeeded {
		sa.Error = "merge conflict"
		sa.Status = model.SubAgentFailed
		sa.UpdatedAt = time.Now()
		_ = s.store.UpdateSubAgentStatus(sa.ID, sa.Status, sa.Error, sa.UpdatedAt)
		s.emitStatus(sa)
		return sa, orcherr.New(orcherr.ToolExecution, "supervisor", "merge", "merge conflict, manual resolution required", nil)
	}

	sa.Status = model.SubAgentCompleted
	sa.UpdatedAt = time.Now()
	_ = s.store.UpdateSubAgentStatus(sa.ID, sa.Status, "", sa.UpdatedAt)
	s.emitStatus(sa)

	_ = s.worktree.Remove(subCtx, sa.WorktreePath)
	sa.Status = model.SubAgentClosed
	sa.UpdatedAt = time.Now()
	_ = s.store.UpdateSubAgentStatus(sa.ID, sa.Status, "", sa.UpdatedAt)
	s.emitStatus(sa)

	return sa, nil
}

// CancelRun propagates cancellation top-down to every live sub-agent of a
// run, concurrently, using errgroup so callers observe all cancellations
// complete together.
func (s *Supervisor) CancelRun(ctx context.Context, runID string) error {
	running, err := s.store.ListRunningSubAgents(runID)
	if err != nil {
		return err
	}
	g, _ := errgroup.WithContext(ctx)
	for _, sa := range running {
		sa := sa
		g.Go(func() error {
			s.mu.Lock()
			cancel, ok := s.cancelled[sa.ID]
			s.mu.Unlock()
			if ok {
				cancel()
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) fail(sa model.SubAgent, reason string) (model.SubAgent, error) {
	sa.Status = model.SubAgentFailed
	sa.Error = reason
	sa.UpdatedAt = time.Now()
	_ = s.store.UpdateSubAgentStatus(sa.ID, sa.Status, sa.Error, sa.UpdatedAt)
	s.emitStatus(sa)
	return sa, orcherr.New(orcherr.ToolExecution, "supervisor", "spawn", reason, nil)
}

func (s *Supervisor) closeCancelled(sa model.SubAgent) (model.SubAgent, error) {
	sa.Status = model.SubAgentClosed
	sa.UpdatedAt = time.Now()
	_ = s.store.UpdateSubAgentStatus(sa.ID, sa.Status, "cancelled", sa.UpdatedAt)
	s.bus.Publish(model.Event{
		RunID:     &sa.RunID,
		Category:  model.CategoryAgent,
		Type:      "agent.subagent_closed",
		Payload:   map[string]any{"sub_agent_id": sa.ID, "reason": "cancelled"},
		CreatedAt: time.Now(),
	})
	return sa, orcherr.New(orcherr.Cancellation, "supervisor", "spawn", "sub-agent cancelled", nil)
}

func (s *Supervisor) emitStatus(sa model.SubAgent) {
	s.bus.Publish(model.Event{
		RunID:    &sa.RunID,
		Category: model.CategoryAgent,
		Type:     "subagent.status_changed",
		Payload: map[string]any{
			"sub_agent_id": sa.ID,
			"status":       string(sa.Status),
			"step_index":   sa.StepIndex,
		},
		CreatedAt: time.Now(),
	})
}
