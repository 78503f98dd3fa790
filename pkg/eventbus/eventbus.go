// Package eventbus implements the Realtime Event Bus: a per-task
// publish/subscribe channel carrying progress, completion, and failure
// events to external clients.
//
// Grounded in spec.md §4.7/§6: per-task FIFO ordering, best-effort delivery
// to slow subscribers with oldest-progress-drop (completion/failure are
// never dropped), and the re-architecture note in §9 rejecting "ad-hoc
// event-loop mixing" in favor of a single process-wide scheduler — here, a
// single bus instance owns all per-task topics rather than a loop per
// request.
package eventbus

import (
	"sync"
	"time"
)

// Type discriminates the three wire event kinds.
type Type string

const (
	TypeProgress   Type = "progress"
	TypeCompletion Type = "completion"
	TypeFailure    Type = "failure"
)

// Event is the wire payload pushed to subscribers of a task's topic.
type Event struct {
	Type      Type      `json:"type"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`

	// Progress fields.
	StepID            string  `json:"step_id,omitempty"`
	Progress          float64 `json:"progress,omitempty"` // 0..1
	CurrentStepTitle  string  `json:"current_step_title,omitempty"`
	TotalSteps        int     `json:"total_steps,omitempty"`

	// Completion fields.
	SuccessRate        float64 `json:"success_rate,omitempty"`
	TotalExecutionTime float64 `json:"total_execution_time,omitempty"` // seconds
	Summary            string  `json:"summary,omitempty"`

	// Failure fields.
	Error   string                 `json:"error,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// subscriberBufferSize bounds how many undelivered events a slow
// subscriber accumulates before progress events start being dropped.
const subscriberBufferSize = 64

// topic is one task's event stream: its set of fan-out subscriber channels.
type topic struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
	closed      bool
}

// Bus is the process-wide event bus. One instance is shared by the engine
// and every HTTP/SSE subscriber; topics are created lazily on first
// publish or subscribe and removed on Close.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

func (b *Bus) topicFor(taskID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[taskID]
	if !ok {
		t = &topic{subscribers: make(map[int]chan Event)}
		b.topics[taskID] = t
	}
	return t
}

// Subscribe returns a channel that receives events for taskID in emission
// order, and an unsubscribe function. Call unsubscribe when done to free
// the channel; it is safe to call more than once.
func (b *Bus) Subscribe(taskID string) (<-chan Event, func()) {
	t := b.topicFor(taskID)

	t.mu.Lock()
	id := t.nextSubID
	t.nextSubID++
	ch := make(chan Event, subscriberBufferSize)
	t.subscribers[id] = ch
	t.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			t.mu.Lock()
			if sub, ok := t.subscribers[id]; ok {
				delete(t.subscribers, id)
				close(sub)
			}
			t.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

// Publish pushes ev to every current subscriber of its TaskID. Per-task
// ordering is guaranteed by serializing all publishes for a topic under
// the topic's lock. For progress events, a full subscriber buffer causes
// the oldest queued progress event for that subscriber to be dropped and
// replaced — completion and failure events are never dropped; when the
// buffer is full, Publish evicts the oldest queued event to make room for
// them, without blocking.
func (b *Bus) Publish(ev Event) {
	t := b.topicFor(ev.TaskID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	for _, ch := range t.subscribers {
		b.send(ch, ev)
	}
}

func (b *Bus) send(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}

	if ev.Type != TypeProgress {
		// Never drop completion/failure: make room by evicting the oldest
		// queued event (which, by construction of this bus, is only ever
		// progress — completion/failure are terminal and close the topic
		// shortly after), then deliver.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
		return
	}

	// Progress buffer full: drop the oldest queued progress event and
	// enqueue the new one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Close tears down a task's topic, closing every subscriber channel. Call
// after the terminal completion/failure event has been published.
func (b *Bus) Close(taskID string) {
	b.mu.Lock()
	t, ok := b.topics[taskID]
	if ok {
		delete(b.topics, taskID)
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	t.mu.Lock()
	t.closed = true
	for id, ch := range t.subscribers {
		delete(t.subscribers, id)
		close(ch)
	}
	t.mu.Unlock()
}
