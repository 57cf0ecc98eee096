package engine

import (
	"sync/atomic"
	"time"
)

// Clock is the engine's time source. Tests substitute a manual clock to
// step through poll intervals and backoff delays deterministically.
type Clock interface {
	Now() time.Time
	// After returns a channel that fires once d has elapsed, and a function
	// that stops the timer.
	After(d time.Duration) (<-chan time.Time, func() bool)
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// After arms a time.Timer.
func (SystemClock) After(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// Sequence is a monotonic logical counter stamped on every emitted event.
//
// Wall-clock timestamps can tie or go backwards; Seq gives sinks a total
// order over everything the engine reports.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next sequence number and increments the counter.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
