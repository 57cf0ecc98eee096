package engine

import (
	"fmt"
	"sync"

	"github.com/roach88/cashutrack/internal/token"
)

// resourceQueue is the FIFO of live records for one funding source.
//
// Only the head is ever Verifying. Track appends through Enqueue; the
// source's poller is the only caller of updateHead and Advance.
type resourceQueue struct {
	source string

	mu      sync.Mutex
	records []token.Record
}

func newResourceQueue(source string) *resourceQueue {
	return &resourceQueue{source: source}
}

// Enqueue appends r and reports whether the queue was empty, meaning r is
// the new head and must start being polled.
func (q *resourceQueue) Enqueue(r token.Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	wasEmpty := len(q.records) == 0
	q.records = append(q.records, r.Clone())
	return wasEmpty
}

// Head returns a copy of the first record, or false if the queue is empty.
func (q *resourceQueue) Head() (token.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return token.Record{}, false
	}
	return q.records[0].Clone(), true
}

// Advance removes the head, which must already be terminal, and returns the
// new head if there is one.
func (q *resourceQueue) Advance() (token.Record, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) == 0 {
		return token.Record{}, false, fmt.Errorf("advance %s: queue is empty", q.source)
	}
	if head := q.records[0]; !head.State.Terminal() {
		return token.Record{}, false, fmt.Errorf("advance %s: head %s is %s, not terminal",
			q.source, token.ShortID(head.ID), head.State)
	}

	q.records[0] = token.Record{}
	q.records = q.records[1:]
	if len(q.records) == 0 {
		q.records = nil
		return token.Record{}, false, nil
	}
	return q.records[0].Clone(), true, nil
}

// updateHead applies fn to the head in place. The head id must equal id so
// a stale caller cannot mutate a record it no longer owns.
func (q *resourceQueue) updateHead(id string, fn func(*token.Record) error) (token.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) == 0 {
		return token.Record{}, fmt.Errorf("update %s: queue is empty", q.source)
	}
	head := &q.records[0]
	if head.ID != id {
		return token.Record{}, fmt.Errorf("update %s: head is %s, expected %s",
			q.source, token.ShortID(head.ID), token.ShortID(id))
	}
	if err := fn(head); err != nil {
		return token.Record{}, err
	}
	return head.Clone(), nil
}

// Len returns the number of records, terminal head included.
func (q *resourceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Snapshot returns copies of the live records in admission order.
func (q *resourceQueue) Snapshot() []token.Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]token.Record, 0, len(q.records))
	for _, r := range q.records {
		if r.State.Live() {
			out = append(out, r.Clone())
		}
	}
	return out
}

// verifyingCount returns how many records are Verifying. Always 0 or 1.
func (q *resourceQueue) verifyingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, r := range q.records {
		if r.State == token.StateVerifying {
			n++
		}
	}
	return n
}
