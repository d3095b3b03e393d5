// Package queue provides the thread-safe FIFO shared between the ingest
// listener and the session consumer loops.
package queue

import (
	"errors"
	"sync"

	"github.com/zjrosen/statusrelay/internal/event"
)

// DefaultMaxSize is the bound used when a queue is built from zero config.
const DefaultMaxSize = 1000

// Unbounded disables the size limit.
const Unbounded = 0

// ErrQueueFull is returned when pushing onto a full bounded queue.
var ErrQueueFull = errors.New("queue is full")

// EventQueue is a mutex-guarded FIFO of status events. Push and PopFront are
// atomic with respect to each other; Peek and Len never mutate.
type EventQueue struct {
	mu      sync.Mutex
	entries []event.StatusEvent
	maxSize int
}

// New creates an EventQueue. maxSize <= 0 means unbounded.
func New(maxSize int) *EventQueue {
	if maxSize < 0 {
		maxSize = Unbounded
	}
	return &EventQueue{
		entries: make([]event.StatusEvent, 0),
		maxSize: maxSize,
	}
}

// Push appends ev to the tail.
// Returns ErrQueueFull if the queue is bounded and at capacity.
func (q *EventQueue) Push(ev event.StatusEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize != Unbounded && len(q.entries) >= q.maxSize {
		return ErrQueueFull
	}
	q.entries = append(q.entries, ev)
	return nil
}

// PopFront removes and returns the oldest event.
// Returns (zero value, false) if the queue is empty.
func (q *EventQueue) PopFront() (event.StatusEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return event.StatusEvent{}, false
	}

	ev := q.entries[0]
	q.entries[0] = event.StatusEvent{}
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		// Reset so the backing array does not grow without bound.
		q.entries = q.entries[:0:0]
	}
	return ev, true
}

// Peek returns the oldest event without removing it.
func (q *EventQueue) Peek() (event.StatusEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return event.StatusEvent{}, false
	}
	return q.entries[0], true
}

// Len returns the current depth.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Cap returns the configured bound, or Unbounded.
func (q *EventQueue) Cap() int {
	return q.maxSize
}

// Clear empties the queue and returns how many events were discarded.
func (q *EventQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = make([]event.StatusEvent, 0)
	return n
}

// Drain removes and returns all events in FIFO order.
func (q *EventQueue) Drain() []event.StatusEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return []event.StatusEvent{}
	}

	result := q.entries
	q.entries = make([]event.StatusEvent, 0)
	return result
}
