package engine

import "time"

// Backoff computes rate-limit delays: min(Base * 2^retryCount, Cap).
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the next check of a record that has already
// been rate limited retryCount times. The result never exceeds Cap.
func (b Backoff) Delay(retryCount int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}

	d := b.Base
	for i := 0; i < retryCount; i++ {
		if d >= b.Cap/2 {
			return b.Cap
		}
		d *= 2
	}
	return min(d, b.Cap)
}
