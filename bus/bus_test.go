package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifBars/orchestrix/model"
)

func TestBus_New_DefaultsCapacity(t *testing.T) {
	b := New(0)
	assert.Equal(t, DefaultCapacity, b.capacity)
}

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Close()

	published := b.Publish(model.Event{Type: "task.created"})
	assert.Equal(t, uint64(1), published.Seq)

	select {
	case evt := <-sub.Events():
		assert.Equal(t, "task.created", evt.Type)
		assert.Equal(t, uint64(1), evt.Seq)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestBus_SeqMonotonic(t *testing.T) {
	b := New(4)
	e1 := b.Publish(model.Event{Type: "a"})
	e2 := b.Publish(model.Event{Type: "b"})
	assert.Less(t, e1.Seq, e2.Seq)
	assert.Equal(t, e2.Seq, b.LastSeq())
}

func TestBus_ClosedSubscriptionStopsReceiving(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	sub.Close()

	b.Publish(model.Event{Type: "after-close"})

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "channel should not deliver after close, or be closed")
	case <-time.After(50 * time.Millisecond):
		// No delivery is also an acceptable outcome for a closed subscription.
	}
}

func TestBus_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := New(1)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(model.Event{Type: "1"})
	b.Publish(model.Event{Type: "2"}) // buffer full, should be dropped not block

	require.Eventually(t, func() bool { return sub.Dropped() == 1 }, time.Second, time.Millisecond)
}

func TestBus_MultipleSubscribersAllReceive(t *testing.T) {
	b := New(4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	b.Publish(model.Event{Type: "broadcast"})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case evt := <-sub.Events():
			assert.Equal(t, "broadcast", evt.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive broadcast event")
		}
	}
}
