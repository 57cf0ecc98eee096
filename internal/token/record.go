package token

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a tracked token.
type State string

const (
	// StatePending means admitted but not yet polled as queue head.
	StatePending State = "pending"
	// StateVerifying means the record is queue head and is being polled.
	StateVerifying State = "verifying"
	// StateRedeemed means the oracle reported the token as claimed.
	StateRedeemed State = "redeemed"
	// StateAbandoned means tracking stopped after the failure budget ran out.
	StateAbandoned State = "abandoned"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateVerifying, StateRedeemed, StateAbandoned:
		return true
	}
	return false
}

// Live reports whether a record in state s is still tracked.
func (s State) Live() bool {
	return s == StatePending || s == StateVerifying
}

// Terminal reports whether s is Redeemed or Abandoned.
func (s State) Terminal() bool {
	return s == StateRedeemed || s == StateAbandoned
}

// Record is a token admitted for claim tracking.
//
// Payload, FundingSource, Owner, Handles and EnqueuedAt are fixed at admission.
// State and RetryCount are mutated only by the engine.
type Record struct {
	ID            string    `json:"id"`
	Payload       string    `json:"payload"`
	FundingSource string    `json:"funding_source"`
	Owner         string    `json:"owner"`
	Handles       []string  `json:"correlation_handles,omitempty"`
	State         State     `json:"state"`
	RetryCount    int       `json:"retry_count"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Clone returns a copy that shares no slices with r.
func (r Record) Clone() Record {
	if r.Handles != nil {
		handles := make([]string, len(r.Handles))
		copy(handles, r.Handles)
		r.Handles = handles
	}
	return r
}

// Transition moves the record to the given state.
//
// Returns an error when leaving a terminal state, when moving back to
// Pending, or when the target state is unknown. Transitioning to the current
// live state is a no-op.
func (r *Record) Transition(to State) error {
	if !to.Valid() {
		return fmt.Errorf("token %s: unknown state %q", r.ID, to)
	}
	if r.State.Terminal() {
		return fmt.Errorf("token %s: cannot leave terminal state %s for %s", r.ID, r.State, to)
	}
	if to == StatePending && r.State != StatePending {
		return fmt.Errorf("token %s: cannot return to pending from %s", r.ID, r.State)
	}
	r.State = to
	return nil
}
