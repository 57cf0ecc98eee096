package testutil

import (
	"sort"
	"sync"
	"time"
)

// ManualClock is a wall clock that only moves when a test advances it.
//
// Timers created through After fire when Advance moves the clock to or past
// their deadline. Every requested delay is recorded so tests can assert on
// the exact wait schedule (e.g. backoff growth).
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*manualTimer
	delays  []time.Duration
	changed chan struct{}
}

type manualTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewManualClock creates a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{
		now:     start,
		changed: make(chan struct{}),
	}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives the clock time once the clock has
// been advanced by at least d, and a stop function that cancels the timer.
// A non-positive d fires immediately and is not recorded.
func (c *ManualClock) After(d time.Duration) (<-chan time.Time, func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch, func() bool { return false }
	}

	t := &manualTimer{deadline: c.now.Add(d), ch: ch}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	c.notifyLocked()

	return ch, func() bool { return c.stop(t) }
}

func (c *ManualClock) stop(t *manualTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			c.notifyLocked()
			return true
		}
	}
	return false
}

// Advance moves the clock forward by d and fires every timer whose deadline
// has been reached, earliest first.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)

	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if t.deadline.After(c.now) {
			remaining = append(remaining, t)
			continue
		}
		t.ch <- c.now
	}
	c.timers = remaining
	c.notifyLocked()
}

// Waiters returns the number of armed timers.
func (c *ManualClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Delays returns every positive delay requested through After, in order.
func (c *ManualClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.delays))
	copy(out, c.delays)
	return out
}

// BlockUntilWaiters waits, in real time, until at least n timers are armed.
// Returns false if timeout elapses first.
func (c *ManualClock) BlockUntilWaiters(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		count := len(c.timers)
		changed := c.changed
		c.mu.Unlock()

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

// BlockUntilDelays waits, in real time, until at least n delays have been
// requested. Returns false if timeout elapses first.
func (c *ManualClock) BlockUntilDelays(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		count := len(c.delays)
		changed := c.changed
		c.mu.Unlock()

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

// notifyLocked wakes every BlockUntil* caller. Caller must hold c.mu.
func (c *ManualClock) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
