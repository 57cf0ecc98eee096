package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/cashutrack/internal/token"
)

// RecordingSink collects delivered events in order.
//
// Err, when set, is returned from every Notify after the event is recorded.
// Block, when set, holds each Notify until closed or the context ends.
type RecordingSink struct {
	Err   error
	Block <-chan struct{}

	mu      sync.Mutex
	events  []token.Event
	changed chan struct{}
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{changed: make(chan struct{})}
}

// Notify records ev.
func (s *RecordingSink) Notify(ctx context.Context, ev token.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.Err
}

// Events returns a copy of everything delivered so far.
func (s *RecordingSink) Events() []token.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]token.Event(nil), s.events...)
}

// Kinds returns the kind of every delivered event, in order.
func (s *RecordingSink) Kinds() []token.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]token.EventKind, len(s.events))
	for i, ev := range s.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// ForToken returns the events delivered for one token id.
func (s *RecordingSink) ForToken(id string) []token.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []token.Event
	for _, ev := range s.events {
		if ev.TokenID == id {
			out = append(out, ev)
		}
	}
	return out
}

// BlockUntilEvents waits, in real time, until at least n events arrived.
func (s *RecordingSink) BlockUntilEvents(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		count := len(s.events)
		changed := s.changed
		s.mu.Unlock()

		if count >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}
