package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDropsOldestNonTerminalUnderBackpressure(t *testing.T) {
	b := NewBus()
	execID := uuid.New()

	// Fill the backlog past capacity with distinct progress events.
	for i := 0; i < defaultCapacity+10; i++ {
		b.Publish(NewExecutionProgress(execID, 10, i, 0, 0, 0, 0))
	}

	require.Len(t, b.ch, defaultCapacity, "channel should be at capacity, never blocked on a full send")

	// The oldest entries (low Completed counts) should have been dropped;
	// the most recent value must have survived.
	var last ExecutionProgress
	drained := 0
	for {
		select {
		case ev := <-b.ch:
			last = ev.(ExecutionProgress)
			drained++
			continue
		default:
		}
		break
	}
	assert.Equal(t, defaultCapacity, drained)
	assert.Equal(t, defaultCapacity+9, last.Completed, "the newest event should be the last one retained")
}

func TestBusTerminalEventAlwaysDelivered(t *testing.T) {
	b := NewBus()
	execID := uuid.New()

	// Fill the backlog completely with non-terminal events first.
	for i := 0; i < defaultCapacity; i++ {
		b.Publish(NewExecutionProgress(execID, 1, 0, 0, 0, 0, 0))
	}

	done := make(chan struct{})
	go func() {
		b.Publish(NewExecutionCompleted(execID))
		close(done)
	}()

	// The backlog is full, so the blocking terminal send needs a subscriber
	// to free a slot before it can land.
	<-b.ch

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish of a terminal event should not block indefinitely once the subscriber drains")
	}
}

func TestBusPublishAfterCloseIsNoop(t *testing.T) {
	b := NewBus()
	b.Close()
	b.Close() // safe to call twice

	require.NotPanics(t, func() {
		b.Publish(NewExecutionCompleted(uuid.New()))
	})
}

func TestEventMarkerTerminal(t *testing.T) {
	assert.False(t, NewTaskStarted(uuid.New(), uuid.New(), uuid.New()).Terminal())
	assert.False(t, NewExecutionProgress(uuid.New(), 1, 0, 0, 0, 0, 0).Terminal())
	assert.True(t, NewExecutionCompleted(uuid.New()).Terminal())
	assert.True(t, NewExecutionFailed(uuid.New(), 0, "boom").Terminal())
}
