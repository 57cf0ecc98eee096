package engine

import (
	"sync"

	"github.com/roach88/cashutrack/internal/token"
)

// outbox is a thread-safe FIFO of lifecycle events awaiting delivery.
//
// The outbox is unbounded so that pollers never block on a slow sink.
// Events are appended under the engine mutex and removed by the single
// dispatcher goroutine.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the dispatcher.
type outbox struct {
	mu     sync.Mutex
	events []token.Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newOutbox creates an empty outbox.
func newOutbox() *outbox {
	return &outbox{
		events: make([]token.Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *outbox) Enqueue(e token.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (token.Event{}, false) if queue is empty.
func (q *outbox) TryDequeue() (token.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return token.Event{}, false
	}

	e := q.events[0]

	// Release the handles slice held by the vacated slot.
	q.events[0] = token.Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed once the outbox is closed.
func (q *outbox) Wait() <-chan struct{} {
	return q.signal
}

// Drained reports whether the outbox is closed and empty.
func (q *outbox) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *outbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
