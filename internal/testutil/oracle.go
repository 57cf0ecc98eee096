package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/cashutrack/internal/oracle"
)

// Step is one scripted oracle answer.
type Step struct {
	Status oracle.Status
	Err    error
	// Block, when non-nil, holds the call until it is closed or the call's
	// context ends.
	Block <-chan struct{}
}

// Outstanding, Redeemed, RateLimited and Unavailable are shorthand steps.
var (
	Outstanding = Step{Status: oracle.StatusOutstanding}
	Redeemed    = Step{Status: oracle.StatusRedeemed}
	RateLimited = Step{Err: oracle.ErrRateLimited}
	Unavailable = Step{Err: oracle.ErrUnavailable}
)

// ScriptedOracle answers verification checks from per-payload scripts.
//
// Each payload consumes its script in order; the last step repeats once the
// script is exhausted. Payloads without a script get the default step
// (Outstanding unless changed with SetDefault).
//
// GroupBy, when set, maps a payload to a group (usually its funding source)
// so tests can assert how many checks per group ran concurrently.
type ScriptedOracle struct {
	GroupBy func(payload string) string

	mu          sync.Mutex
	scripts     map[string][]Step
	fallback    Step
	calls       map[string]int
	order       []string
	inFlight    map[string]int
	maxInFlight map[string]int
	changed     chan struct{}
}

// NewScriptedOracle returns an oracle that reports every token outstanding.
func NewScriptedOracle() *ScriptedOracle {
	return &ScriptedOracle{
		scripts:     make(map[string][]Step),
		fallback:    Outstanding,
		calls:       make(map[string]int),
		inFlight:    make(map[string]int),
		maxInFlight: make(map[string]int),
		changed:     make(chan struct{}),
	}
}

// Script sets the answers for payload, replacing any remaining script.
func (o *ScriptedOracle) Script(payload string, steps ...Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scripts[payload] = append([]Step(nil), steps...)
}

// SetDefault sets the answer for payloads without a script.
func (o *ScriptedOracle) SetDefault(step Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallback = step
}

// Check implements the engine's verification oracle.
func (o *ScriptedOracle) Check(ctx context.Context, payload string) (oracle.Status, error) {
	o.mu.Lock()
	step := o.fallback
	if script := o.scripts[payload]; len(script) > 0 {
		step = script[0]
		if len(script) > 1 {
			o.scripts[payload] = script[1:]
		}
	}
	group := o.group(payload)
	o.calls[payload]++
	o.order = append(o.order, payload)
	o.inFlight[group]++
	if o.inFlight[group] > o.maxInFlight[group] {
		o.maxInFlight[group] = o.inFlight[group]
	}
	o.notifyLocked()
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.inFlight[group]--
		o.notifyLocked()
		o.mu.Unlock()
	}()

	if step.Block != nil {
		select {
		case <-step.Block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if step.Err != nil {
		return 0, step.Err
	}
	return step.Status, nil
}

// Calls returns how many times payload has been checked.
func (o *ScriptedOracle) Calls(payload string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[payload]
}

// TotalCalls returns the number of checks across all payloads.
func (o *ScriptedOracle) TotalCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}

// CallOrder returns the checked payloads in call order.
func (o *ScriptedOracle) CallOrder() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

// InFlight returns the number of checks currently running for group.
func (o *ScriptedOracle) InFlight(group string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight[group]
}

// MaxInFlight returns the highest observed concurrency for group.
func (o *ScriptedOracle) MaxInFlight(group string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxInFlight[group]
}

// BlockUntilCalls waits, in real time, until at least n checks have started.
func (o *ScriptedOracle) BlockUntilCalls(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		o.mu.Lock()
		count := len(o.order)
		changed := o.changed
		o.mu.Unlock()

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

func (o *ScriptedOracle) group(payload string) string {
	if o.GroupBy == nil {
		return ""
	}
	return o.GroupBy(payload)
}

func (o *ScriptedOracle) notifyLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}
