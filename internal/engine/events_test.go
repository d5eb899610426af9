package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SubscribeReceivesEmittedEvent(t *testing.T) {
	b := NewEventBus()
	_, ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Emit(Event{Type: EventMetricTick, DistanceM: 42})

	select {
	case e := <-ch:
		assert.Equal(t, EventMetricTick, e.Type)
		assert.Equal(t, 42.0, e.DistanceM)
		assert.NotEmpty(t, e.ID, "Emit must stamp an id when the caller left it empty")
	default:
		t.Fatal("expected an event on the subscriber channel")
	}
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewEventBus()
	_, ch, unsubscribe := b.Subscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after unsubscribe")
}

func TestEventBus_FanOutToMultipleSubscribers(t *testing.T) {
	b := NewEventBus()
	_, ch1, unsub1 := b.Subscribe()
	_, ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Emit(Event{Type: EventSessionStarted})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, EventSessionStarted, e.Type)
		default:
			t.Fatal("every active subscriber must receive the emitted event")
		}
	}
}

func TestEventBus_EmitToFullBufferDoesNotBlock(t *testing.T) {
	b := NewEventBus()
	_, ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	// The subscriber channel is buffered at 64; flood past capacity and
	// confirm Emit never blocks the single-writer caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Emit(Event{Type: EventMetricTick})
		}
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done // Emit must return promptly even once the buffer saturates.

	// Drain what did make it through without blocking the test.
	drained := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
			drained++
		default:
			require.LessOrEqual(t, drained, 64)
			return
		}
	}
}
