package batcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifBars/orchestrix/bus"
	"github.com/ifBars/orchestrix/model"
)

func TestIsImmediate_KnownAndUnknownTypes(t *testing.T) {
	assert.True(t, IsImmediate("task.created"))
	assert.True(t, IsImmediate("approval.requested"))
	assert.False(t, IsImmediate("message.delta"))
}

func TestBatcher_ImmediateEventPassesThroughAlone(t *testing.T) {
	b := bus.New(16)
	sub := b.Subscribe()
	batcher := New(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { batcher.Run(ctx); close(done) }()

	b.Publish(model.Event{Type: "task.created"})

	select {
	case out := <-batcher.Output():
		require.NotNil(t, out.Immediate)
		assert.Equal(t, "task.created", out.Immediate.Type)
		assert.Nil(t, out.Batch)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for immediate event")
	}

	cancel()
	<-done
}

func TestBatcher_NonImmediateEventsCoalesceOnFlush(t *testing.T) {
	b := bus.New(16)
	sub := b.Subscribe()
	batcher := New(sub)
	batcher.window = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { batcher.Run(ctx); close(done) }()

	b.Publish(model.Event{Type: "message.delta", Payload: map[string]any{"i": 1}})
	b.Publish(model.Event{Type: "message.delta", Payload: map[string]any{"i": 2}})

	select {
	case out := <-batcher.Output():
		require.Nil(t, out.Immediate)
		require.Len(t, out.Batch, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch flush")
	}

	cancel()
	<-done
}

func TestBatcher_ThresholdFlushesWithoutWaitingForWindow(t *testing.T) {
	b := bus.New(64)
	sub := b.Subscribe()
	batcher := New(sub)
	batcher.window = time.Hour
	batcher.thresh = 3

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { batcher.Run(ctx); close(done) }()

	for i := 0; i < 3; i++ {
		b.Publish(model.Event{Type: "message.delta"})
	}

	select {
	case out := <-batcher.Output():
		require.Len(t, out.Batch, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for threshold flush")
	}

	cancel()
	<-done
}

func TestBatcher_ContextCancelFlushesPendingBeforeClosing(t *testing.T) {
	b := bus.New(16)
	sub := b.Subscribe()
	batcher := New(sub)
	batcher.window = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { batcher.Run(ctx); close(done) }()

	b.Publish(model.Event{Type: "message.delta"})
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case out, ok := <-batcher.Output():
		require.True(t, ok)
		assert.Len(t, out.Batch, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation flush")
	}

	<-done
	_, open := <-batcher.Output()
	assert.False(t, open)
}
