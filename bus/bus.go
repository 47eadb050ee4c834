// Package bus implements the single-process event broadcast channel: a
// bounded, lossy-by-lag fanout of model.Event to subscribers, with a
// process-wide monotonically increasing sequence number stamped on
// publish. Modeled on the subscriber-fanout pattern team.Team uses in
// ExecuteStreaming, generalized into a standalone reusable component.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/ifBars/orchestrix/model"
)

// DefaultCapacity is the default per-subscriber channel buffer size.
const DefaultCapacity = 1024

// Bus is a bounded broadcast channel. Publish never blocks: a subscriber
// that cannot keep up has events dropped for it, and the drop count is
// reported back to it rather than stalling the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	capacity    int
	seq         atomic.Uint64
}

// New creates a Bus with the given per-subscriber buffer capacity. A
// capacity of 0 uses DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		subscribers: make(map[*Subscription]struct{}),
		capacity:    capacity,
	}
}

// Subscription is a single subscriber's view of the bus.
type Subscription struct {
	bus     *Bus
	ch      chan model.Event
	dropped atomic.Uint64
}

// Events returns the channel of events delivered to this subscription.
func (s *Subscription) Events() <-chan model.Event { return s.ch }

// Dropped returns the number of events dropped for this subscriber so far
// because its buffer was full (overflow, not an error).
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unregisters the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subscribers, s)
	s.bus.mu.Unlock()
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		bus: b,
		ch:  make(chan model.Event, b.capacity),
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish stamps evt with the next process-wide seq and broadcasts it to
// all subscribers without blocking. Overflowing a subscriber's buffer
// increments that subscriber's dropped counter instead of blocking the
// publisher; correctness never depends on a subscriber seeing every event
// because the Store is the authoritative log.
func (b *Bus) Publish(evt model.Event) model.Event {
	evt.Seq = b.seq.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped.Add(1)
		}
	}
	return evt
}

// LastSeq returns the most recently assigned sequence number, or 0 if no
// event has been published yet.
func (b *Bus) LastSeq() uint64 { return b.seq.Load() }
