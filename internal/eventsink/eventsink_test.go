package eventsink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsys/orchestrator/internal/orchestrator"
)

func TestFanoutBroadcastsToAllSubscribers(t *testing.T) {
	source := make(chan orchestrator.Event, 4)
	f := NewFanout(source, nil)
	defer f.Stop()

	chA, cancelA := f.Subscribe(2)
	defer cancelA()
	chB, cancelB := f.Subscribe(2)
	defer cancelB()

	source <- orchestrator.Event{At: time.Now(), Kind: "phase_transition"}

	evA := requireEvent(t, chA)
	evB := requireEvent(t, chB)
	assert.Equal(t, "phase_transition", evA.Kind)
	assert.Equal(t, "phase_transition", evB.Kind)
}

func TestFanoutSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	source := make(chan orchestrator.Event, 4)
	f := NewFanout(source, nil)
	defer f.Stop()

	slow, cancel := f.Subscribe(1)
	defer cancel()

	source <- orchestrator.Event{Kind: "one"}
	time.Sleep(20 * time.Millisecond)
	source <- orchestrator.Event{Kind: "two"}
	time.Sleep(20 * time.Millisecond)

	// Only the first event should be buffered; the second is dropped
	// because the subscriber never drained it, and the pump must not block.
	ev := requireEvent(t, slow)
	assert.Equal(t, "one", ev.Kind)

	select {
	case <-slow:
		t.Fatal("expected no second event, subscriber buffer should have dropped it")
	default:
	}
}

func TestFanoutUnsubscribeClosesChannel(t *testing.T) {
	source := make(chan orchestrator.Event, 4)
	f := NewFanout(source, nil)
	defer f.Stop()

	ch, cancel := f.Subscribe(1)
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func requireEvent(t *testing.T, ch <-chan orchestrator.Event) orchestrator.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for event")
		return orchestrator.Event{}
	}
}
