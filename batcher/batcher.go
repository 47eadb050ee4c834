// Package batcher consumes a bus subscription and coalesces high-volume
// event classes (message deltas, log entries, tool I/O) into periodic
// batches while forwarding lifecycle-significant events immediately,
// flushing any pending batch first to preserve arrival order.
package batcher

import (
	"context"
	"time"

	"github.com/ifBars/orchestrix/bus"
	"github.com/ifBars/orchestrix/model"
)

// FlushWindow and FlushThreshold bound how long batched events can
// accumulate before being emitted.
const (
	FlushWindow    = 100 * time.Millisecond
	FlushThreshold = 50
)

// immediateTypes are event classes that must never be delayed: task
// lifecycle, step transitions, "agent is deciding", "tool calls preparing".
var immediateTypes = map[string]bool{
	"task.created":               true,
	"task.status_changed":        true,
	"run.started":                true,
	"run.status_changed":         true,
	"step.started":               true,
	"step.status_changed":        true,
	"agent.deciding":             true,
	"agent.tool_calls_preparing": true,
	"agent.request_plan_mode":    true,
	"agent.request_build_mode":   true,
	"subagent.status_changed":    true,
	"subagent.closed":            true,
	"approval.requested":         true,
	"approval.resolved":          true,
}

// IsImmediate reports whether an event type must be flushed immediately
// rather than batched. Registered here so producers and the batcher agree
// on the classification.
func IsImmediate(eventType string) bool {
	return immediateTypes[eventType]
}

// Out is the sink the batcher delivers to: either a single immediate
// event or an ordered batch of coalesced events.
type Out struct {
	Immediate *model.Event
	Batch     []model.Event
}

// Batcher reads from a bus.Subscription and writes coalesced Out values
// to its output channel until the subscription or context ends.
type Batcher struct {
	sub    *bus.Subscription
	outCh  chan Out
	window time.Duration
	thresh int
}

// New creates a Batcher over sub, delivering to an internally owned
// channel returned by Run.
func New(sub *bus.Subscription) *Batcher {
	return &Batcher{
		sub:    sub,
		outCh:  make(chan Out, bus.DefaultCapacity),
		window: FlushWindow,
		thresh: FlushThreshold,
	}
}

// Output returns the channel Run delivers coalesced batches to.
func (b *Batcher) Output() <-chan Out { return b.outCh }

// Run drives the batcher until ctx is cancelled or the subscription's
// channel is closed, then flushes any residual batch before returning.
func (b *Batcher) Run(ctx context.Context) {
	defer close(b.outCh)

	var pending []model.Event
	timer := time.NewTimer(b.window)
	defer timer.Stop()
	stopTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		// Deliver without waiting when the output buffer has room, so a
		// residual flush after cancellation is not lost to the ctx.Done race.
		select {
		case b.outCh <- Out{Batch: batch}:
			return
		default:
		}
		select {
		case b.outCh <- Out{Batch: batch}:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case evt, ok := <-b.sub.Events():
			if !ok {
				flush()
				return
			}
			if IsImmediate(evt.Type) {
				// Flush any pending batch first so ordering is preserved.
				stopTimer()
				flush()
				e := evt
				select {
				case b.outCh <- Out{Immediate: &e}:
				case <-ctx.Done():
					return
				}
				timer.Reset(b.window)
				continue
			}
			if len(pending) == 0 {
				stopTimer()
				timer.Reset(b.window)
			}
			pending = append(pending, evt)
			if len(pending) >= b.thresh {
				stopTimer()
				flush()
				timer.Reset(b.window)
			}
		case <-timer.C:
			flush()
			timer.Reset(b.window)
		}
	}
}
