// Package approval implements the Approval Gateway: a per-request state
// machine (pending -> approved | denied | expired) that suspends the
// calling goroutine until a UI-originated resolution arrives. Grounded on
// the HITL pattern in tool/approvaltool (RequireInput/InputPrompt +
// function-call-id correlation), generalized into a standalone awaitable
// component instead of a single tool's side channel.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/orcherr"
)

// Resolution is what a consumer awaiting a request eventually observes.
type Resolution struct {
	Decision model.ApprovalDecision
	Decider  string
}

type pendingRequest struct {
	req    model.ApprovalRequest
	waitCh chan Resolution
	once   sync.Once
	done   bool
}

// Gateway tracks all in-flight approval requests for a process.
type Gateway struct {
	mu       sync.Mutex
	pending  map[string]*pendingRequest
	onCreate func(model.ApprovalRequest)
}

// New creates an empty Gateway. onCreate, if non-nil, is invoked
// synchronously whenever a request is created, so callers can persist it
// and emit the corresponding event before any resolution can race in.
func New(onCreate func(model.ApprovalRequest)) *Gateway {
	return &Gateway{
		pending:  make(map[string]*pendingRequest),
		onCreate: onCreate,
	}
}

// Request creates a new pending approval request and returns it
// alongside a function that waits for its resolution.
func (g *Gateway) Request(toolCallID string, scope model.ApprovalScope, reason string) (model.ApprovalRequest, <-chan Resolution) {
	req := model.ApprovalRequest{
		ID:         model.NewID(),
		ToolCallID: toolCallID,
		Scope:      scope,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	pr := &pendingRequest{req: req, waitCh: make(chan Resolution, 1)}

	g.mu.Lock()
	g.pending[req.ID] = pr
	g.mu.Unlock()

	if g.onCreate != nil {
		g.onCreate(req)
	}
	return req, pr.waitCh
}

// Wait blocks until the request is resolved, ctx is cancelled (mapped to
// Cancellation), or timeout elapses (mapped to an "expired" Resolution).
func (g *Gateway) Wait(ctx context.Context, requestID string, timeout time.Duration) (Resolution, error) {
	g.mu.Lock()
	pr, ok := g.pending[requestID]
	g.mu.Unlock()
	if !ok {
		return Resolution{}, orcherr.New(orcherr.ApprovalRequired, "approval", "wait", fmt.Sprintf("unknown request %s", requestID), nil)
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-pr.waitCh:
		return res, nil
	case <-timeoutCh:
		g.Resolve(requestID, "system", model.DecisionExpired)
		return Resolution{Decision: model.DecisionExpired}, nil
	case <-ctx.Done():
		return Resolution{}, orcherr.New(orcherr.Cancellation, "approval", "wait", "cancelled while awaiting approval", ctx.Err())
	}
}

// Resolve transitions exactly one request to a terminal decision and
// wakes its single awaiting consumer. Concurrent resolution attempts race
// cleanly: the first call wins; subsequent calls observe "already
// resolved" via the returned bool and have no side effects.
func (g *Gateway) Resolve(requestID, decider string, decision model.ApprovalDecision) (resolved bool) {
	g.mu.Lock()
	pr, ok := g.pending[requestID]
	g.mu.Unlock()
	if !ok {
		return false
	}

	pr.once.Do(func() {
		resolved = true
		pr.done = true
		pr.waitCh <- Resolution{Decision: decision, Decider: decider}
		close(pr.waitCh)
	})
	return resolved
}

// IsResolved reports whether a request has already received a decision.
func (g *Gateway) IsResolved(requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	pr, ok := g.pending[requestID]
	return ok && pr.done
}

// Forget drops bookkeeping for a resolved request. Safe to call multiple
// times; safe to call on an unknown id.
func (g *Gateway) Forget(requestID string) {
	g.mu.Lock()
	delete(g.pending, requestID)
	g.mu.Unlock()
}
