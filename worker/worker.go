// Package worker implements the Worker Loop (spec.md §4.9): the
// decide/act/observe cycle that drives one sub-agent's turns against a
// provider.Adapter, dispatching tool calls through policy, the approval
// gateway and the registry. Grounded on agent/agent.go's decide-act loop
// and team.Team's per-turn event emission, generalized onto
// provider.Adapter/decision.Normalize instead of hector's internal
// reasoning strategies.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ifBars/orchestrix/approval"
	"github.com/ifBars/orchestrix/bus"
	"github.com/ifBars/orchestrix/decision"
	"github.com/ifBars/orchestrix/model"
	"github.com/ifBars/orchestrix/orcherr"
	"github.com/ifBars/orchestrix/policy"
	"github.com/ifBars/orchestrix/provider"
	"github.com/ifBars/orchestrix/registry"
	"github.com/ifBars/orchestrix/store"
)

// Spawner lets a worker dispatch a subagent.spawn tool call back up to the
// Supervisor without the worker package importing supervisor directly
// (supervisor already depends on worker's public WorkerRunner contract,
// so the dependency is inverted through this interface instead).
type Spawner interface {
	Spawn(ctx context.Context, runID string, stepIndex int, delegate decision.Delegate, contract policy.DelegationContract, currentDepth int) error
}

// Params configures one Loop instance.
type Params struct {
	MaxTurns       int
	MaxActionsPerTurn int
	TurnTimeout    time.Duration
	Mode           registry.Mode
	Contract       policy.DelegationContract
	CurrentDepth   int
}

// Loop runs the decide/act/observe cycle for one sub-agent against one
// provider.Adapter.
type Loop struct {
	store    *store.Store
	bus      *bus.Bus
	adapter  provider.Adapter
	registry *registry.Registry
	policy   *policy.Engine
	approval *approval.Gateway
	spawner  Spawner
	params   Params
}

// New constructs a Loop.
func New(st *store.Store, b *bus.Bus, adapter provider.Adapter, reg *registry.Registry, pol *policy.Engine, gw *approval.Gateway, params Params) *Loop {
	return &Loop{store: st, bus: b, adapter: adapter, registry: reg, policy: pol, approval: gw, params: params}
}

// WithSpawner attaches the supervisor-facing spawn bridge, used when the
// registry's subagent.spawn tool is reached during dispatch.
func (l *Loop) WithSpawner(s Spawner) *Loop {
	l.spawner = s
	return l
}

// turnState accumulates the strict historical message order the provider
// contract requires across turns of one Loop.Run invocation.
type turnState struct {
	messages []provider.Message
}

// Run drives turns until a terminal decision, a budget is exhausted, or
// ctx is cancelled. goal is the sub-agent's objective; systemPrompt is the
// rendered prompt (persona + tool manifest context the caller assembled).
func (l *Loop) Run(ctx context.Context, runID string, stepIndex int, systemPrompt, goal string) (summary string, err error) {
	ts := &turnState{messages: []provider.Message{{Role: "user", Content: goal}}}
	maxTurns := l.params.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 1
	}

	for turn := 0; turn < maxTurns; turn++ {
		select {
		case <-ctx.Done():
			return "", orcherr.New(orcherr.Cancellation, "worker", "run", "cancelled", ctx.Err())
		default:
		}

		turnCtx := ctx
		var cancel context.CancelFunc
		if l.params.TurnTimeout > 0 {
			turnCtx, cancel = context.WithTimeout(ctx, l.params.TurnTimeout)
		}

		l.emit(runID, "agent.deciding", map[string]any{"turn": turn})

		req := provider.Request{
			SystemPrompt: systemPrompt,
			Messages:     ts.messages,
			Tools:        l.toolDescriptors(),
		}
		resp, cerr := l.adapter.Complete(turnCtx, req, func(d provider.Delta) {
			switch d.Kind {
			case provider.DeltaContent:
				l.emit(runID, "agent.message_delta", map[string]any{"text": d.Text})
			case provider.DeltaReasoning:
				l.emit(runID, "agent.thinking_delta", map[string]any{"text": d.Text})
			}
		})
		if cancel != nil {
			cancel()
		}
		if cerr != nil {
			return "", cerr
		}

		assistantMsg := provider.Message{Role: "assistant", Content: resp.Content}
		if len(resp.ToolCalls) > 0 {
			assistantMsg.ToolCalls = resp.ToolCalls
		}
		ts.messages = append(ts.messages, assistantMsg)

		dec := decision.Normalize(resp)
		switch dec.Kind {
		case decision.KindComplete:
			return dec.Summary, nil

		case decision.KindDelegate:
			if l.spawner == nil {
				return "", orcherr.New(orcherr.ToolExecution, "worker", "delegate", "no spawner configured for this loop", nil)
			}
			if err := l.spawner.Spawn(ctx, runID, stepIndex, dec.Delegate, l.params.Contract, l.params.CurrentDepth); err != nil {
				return "", err
			}
			return "", nil

		case decision.KindToolCalls:
			actionCap := l.params.MaxActionsPerTurn
			if actionCap <= 0 {
				actionCap = len(dec.Calls)
			}
			calls := dec.Calls
			if len(calls) > actionCap {
				calls = calls[:actionCap]
			}
			observations := l.executeCalls(ctx, runID, stepIndex, calls)
			ts.messages = append(ts.messages, observations...)
			if len(dec.Calls) > actionCap {
				// Forced turn advance: remaining calls from this decision are
				// dropped and will be re-decided on the next turn instead of
				// silently executed past the per-turn cap.
				continue
			}
		}
	}

	return "", orcherr.New(orcherr.BudgetExhausted, "worker", "run", "max turns reached without a terminal decision", nil)
}

func (l *Loop) toolDescriptors() []provider.ToolDescriptor {
	descs := l.registry.Descriptors(l.params.Mode)
	out := make([]provider.ToolDescriptor, 0, len(descs))
	for _, d := range descs {
		out = append(out, provider.ToolDescriptor{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return out
}

// executeCalls runs each decided tool call in order through policy ->
// (deny | approve | allow) -> dispatch, producing one tool observation
// message per call.
func (l *Loop) executeCalls(ctx context.Context, runID string, stepIndex int, calls []decision.Call) []provider.Message {
	var out []provider.Message
	for _, call := range calls {
		l.emit(runID, "agent.tool_calls_preparing", registry.ToolCallEvent{ToolName: call.Name, Args: call.Args}.EventPayload())

		tc := model.ToolCall{
			ID: model.NewID(), RunID: runID, StepIndex: stepIndex,
			ToolName: call.Name, Status: model.ToolCallPending,
		}
		_ = l.store.CreateToolCall(tc)

		scope := l.scopeOf(call.Name)
		verdict := l.policy.Evaluate(call.Name, call.Args, scope)

		var result map[string]any
		var callErr error

		switch verdict.Decision {
		case policy.Deny:
			callErr = orcherr.New(orcherr.PolicyDenied, "worker", "dispatch", verdict.Reason, nil)
			l.finishToolCall(tc.ID, model.ToolCallDenied, nil, callErr)

		case policy.Approve:
			_ = l.store.UpdateToolCallStatus(tc.ID, model.ToolCallAwaitingApproval, nil, "", nil)
			l.emit(runID, "tool.approval_requested", map[string]any{"tool_call_id": tc.ID, "scope": string(scope)})
			result, callErr = l.awaitApprovalThenDispatch(ctx, runID, tc.ID, call, scope, verdict.Reason)

		default: // Allow
			result, callErr = l.dispatch(ctx, runID, stepIndex, call)
			if callErr != nil {
				l.finishToolCall(tc.ID, model.ToolCallFailed, nil, callErr)
			} else {
				l.finishToolCall(tc.ID, model.ToolCallSucceeded, result, nil)
			}
		}

		out = append(out, observationMessage(tc.ID, call.ID, call.Name, result, callErr))
	}
	return out
}

// approvalTimeout bounds how long a tool call waits on a human decision
// before the gateway resolves it "expired" on its own.
const approvalTimeout = 15 * time.Minute

func (l *Loop) awaitApprovalThenDispatch(ctx context.Context, runID, toolCallID string, call decision.Call, scope policy.Scope, reason string) (map[string]any, error) {
	req, _ := l.approval.Request(toolCallID, model.ApprovalScope(scope), reason)
	res, err := l.approval.Wait(ctx, req.ID, approvalTimeout)
	if err != nil {
		l.finishToolCall(toolCallID, model.ToolCallDenied, nil, err)
		return nil, err
	}
	if res.Decision != model.DecisionApproved {
		denyErr := orcherr.New(orcherr.PolicyDenied, "worker", "dispatch", "approval "+string(res.Decision), nil)
		l.finishToolCall(toolCallID, model.ToolCallDenied, nil, denyErr)
		return nil, denyErr
	}
	result, err := l.dispatch(ctx, runID, 0, call)
	if err != nil {
		l.finishToolCall(toolCallID, model.ToolCallFailed, nil, err)
		return nil, err
	}
	l.finishToolCall(toolCallID, model.ToolCallSucceeded, result, nil)
	return result, nil
}

func (l *Loop) dispatch(ctx context.Context, runID string, stepIndex int, call decision.Call) (map[string]any, error) {
	rc := &registry.Context{Context: ctx, RunID: runID, StepIndex: stepIndex}
	return l.registry.Dispatch(rc, call.Name, call.Args)
}

func (l *Loop) scopeOf(toolName string) policy.Scope {
	t, ok := l.registry.Get(toolName)
	if !ok {
		return policy.ScopeDestructive // unknown tool: default to the most conservative scope
	}
	return t.Scope()
}

func (l *Loop) finishToolCall(id string, status model.ToolCallStatus, result map[string]any, err error) {
	now := time.Now()
	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}
	_ = l.store.UpdateToolCallStatus(id, status, marshalResult(result), errMsg, &now)
}

// observationMessage builds the tool-result message that closes out one
// call. Its ToolCallID must echo the id the provider itself issued
// (providerCallID, from decision.Call.ID) so the next turn's assistant/tool
// message pair round-trips the same id the provider will look for; storeID
// (the model.ToolCall row id) is only a fallback for legacy markup-derived
// calls, which carry no provider-issued id at all.
func observationMessage(storeID, providerCallID, name string, result map[string]any, err error) provider.Message {
	id := providerCallID
	if id == "" {
		id = storeID
	}
	content := ""
	if err != nil {
		content = `{"ok":false,"error":"` + err.Error() + `"}`
	} else {
		content = marshalResultString(result)
	}
	return provider.Message{Role: "tool", Content: content, ToolCallID: id}
}

func marshalResult(m map[string]any) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func marshalResultString(m map[string]any) string {
	return string(marshalResult(m))
}

func (l *Loop) emit(runID string, eventType string, payload map[string]any) {
	l.bus.Publish(model.Event{
		RunID:     &runID,
		Category:  model.CategoryAgent,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
}
