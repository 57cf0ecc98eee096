package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/cashutrack/internal/oracle"
	"github.com/roach88/cashutrack/internal/token"
)

// poller owns one resource queue and rechecks its head until the queue
// drains or the engine shuts down.
type poller struct {
	engine *Engine
	queue  *resourceQueue

	// headID and failures track consecutive transient failures of the
	// current head. They are not persisted: a restart grants a fresh budget.
	headID   string
	failures int
}

func (p *poller) run(ctx context.Context) {
	defer p.engine.workers.Done()

	e := p.engine
	e.logger.Debug("poller started", "source", p.queue.source)

	var delay time.Duration
	for {
		if delay > 0 {
			fire, stop := e.clock.After(delay)
			select {
			case <-ctx.Done():
				stop()
				return
			case <-fire:
			}
		} else if ctx.Err() != nil {
			return
		}

		next, done := p.tick(ctx)
		if done {
			e.logger.Debug("poller exiting", "source", p.queue.source)
			return
		}
		delay = next
	}
}

// tick checks the head once and returns the delay before the next check.
// done is true when the queue retired or the engine is shutting down.
func (p *poller) tick(ctx context.Context) (delay time.Duration, done bool) {
	e := p.engine
	q := p.queue

	head, ok := q.Head()
	if !ok {
		if e.retire(q) {
			return 0, true
		}
		return 0, false
	}

	if head.ID != p.headID {
		p.headID = head.ID
		p.failures = 0
	}

	if head.State != token.StateVerifying {
		updated, err := q.updateHead(head.ID, func(r *token.Record) error {
			return r.Transition(token.StateVerifying)
		})
		if err != nil {
			e.logger.Error("cannot start verifying head",
				"token", token.ShortID(head.ID),
				"source", q.source,
				"error", err,
			)
			return e.pollInterval, false
		}
		head = updated
		e.requestSave()
	}

	checkCtx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	status, err := e.oracle.Check(checkCtx, head.Payload)
	cancel()

	// Shutting down: the result is discarded and re-polled after Resume.
	if ctx.Err() != nil {
		return 0, true
	}

	if err == nil {
		switch status {
		case oracle.StatusRedeemed:
			e.resolve(q, head, token.StateRedeemed, "")
			p.headID = ""
			return 0, false
		case oracle.StatusOutstanding:
			p.failures = 0
			e.logger.Debug("token outstanding",
				"token", token.ShortID(head.ID),
				"source", q.source,
			)
			return e.pollInterval, false
		default:
			err = fmt.Errorf("%w: unknown status %v", ErrUnavailable, status)
		}
	}

	if classify(err) == ErrCodeRateLimited {
		return p.backoff(head, err), false
	}
	return p.transient(head, err)
}

// backoff schedules the next check after the rate-limit delay for head's
// current retry count, then increments it.
func (p *poller) backoff(head token.Record, cause error) time.Duration {
	e := p.engine
	p.failures = 0

	delay := e.backoff.Delay(head.RetryCount)
	updated, err := p.queue.updateHead(head.ID, func(r *token.Record) error {
		r.RetryCount++
		return nil
	})
	if err != nil {
		e.logger.Error("cannot record backoff",
			"token", token.ShortID(head.ID),
			"source", p.queue.source,
			"error", err,
		)
		return delay
	}
	e.requestSave()

	e.logger.Warn("rate limited; backing off",
		"token", token.ShortID(head.ID),
		"source", p.queue.source,
		"retry_count", updated.RetryCount,
		"delay", delay,
		"error", cause,
		"event", "rate_limited",
	)
	return delay
}

// transient counts a failed check and abandons the head once the budget of
// consecutive failures is spent.
func (p *poller) transient(head token.Record, cause error) (time.Duration, bool) {
	e := p.engine
	p.failures++

	if p.failures >= e.maxTransient {
		reason := fmt.Sprintf("verification failed %d times in a row: %v", p.failures, cause)
		e.resolve(p.queue, head, token.StateAbandoned, reason)
		p.headID = ""
		return 0, false
	}

	e.logger.Warn("verification failed; will retry",
		"token", token.ShortID(head.ID),
		"source", p.queue.source,
		"failures", p.failures,
		"max_failures", e.maxTransient,
		"error", cause,
		"event", "check_failed",
	)
	return e.pollInterval, false
}
