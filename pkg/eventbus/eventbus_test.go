package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublish_DeliversInOrder(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("task-1")
	defer unsubscribe()

	b.Publish(Event{Type: TypeProgress, TaskID: "task-1", StepID: "s1", Progress: 0.25})
	b.Publish(Event{Type: TypeProgress, TaskID: "task-1", StepID: "s2", Progress: 0.5})
	b.Publish(Event{Type: TypeCompletion, TaskID: "task-1", SuccessRate: 1.0})

	first := recv(t, ch)
	assert.Equal(t, "s1", first.StepID)

	second := recv(t, ch)
	assert.Equal(t, "s2", second.StepID)

	third := recv(t, ch)
	assert.Equal(t, TypeCompletion, third.Type)
}

func TestPublish_UnrelatedTaskNotDelivered(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("task-1")
	defer unsubscribe()

	b.Publish(Event{Type: TypeProgress, TaskID: "task-2"})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered to unrelated subscriber: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublish_FullBufferDropsOldestProgress(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("task-1")
	defer unsubscribe()

	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(Event{Type: TypeProgress, TaskID: "task-1", StepID: "overflow"})
	}

	// The channel should not block or panic, and should still contain the
	// buffer's worth of progress events without deadlocking the publisher.
	count := 0
drain:
	for {
		select {
		case <-ch:
			count++
		default:
			break drain
		}
	}
	assert.LessOrEqual(t, count, subscriberBufferSize)
	assert.Greater(t, count, 0)
}

func TestPublish_CompletionNeverDroppedEvenWhenBufferFull(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe("task-1")
	defer unsubscribe()

	for i := 0; i < subscriberBufferSize; i++ {
		b.Publish(Event{Type: TypeProgress, TaskID: "task-1"})
	}
	b.Publish(Event{Type: TypeCompletion, TaskID: "task-1", SuccessRate: 1.0})

	var last Event
	for {
		select {
		case ev := <-ch:
			last = ev
		default:
			assert.Equal(t, TypeCompletion, last.Type)
			return
		}
	}
}

func TestClose_ClosesSubscriberChannels(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe("task-1")

	b.Close("task-1")

	_, ok := <-ch
	assert.False(t, ok)
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	b := New()
	_, unsubscribe := b.Subscribe("task-1")
	unsubscribe()
	require.NotPanics(t, unsubscribe)
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}
