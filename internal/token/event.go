package token

import "time"

// EventKind identifies a lifecycle event delivered to the notification sink.
type EventKind string

const (
	// EventTracked is emitted once when a token is admitted.
	EventTracked EventKind = "tracked"
	// EventRedeemed is emitted once when the oracle reports the token claimed.
	EventRedeemed EventKind = "redeemed"
	// EventAbandoned is emitted once when tracking stops without resolution.
	EventAbandoned EventKind = "abandoned"
)

// Event is a lifecycle notification for one token.
//
// Seq is a monotonic sequence number assigned by the engine at emission time;
// events are delivered to the sink in Seq order.
type Event struct {
	ID            string        `json:"id"`
	Seq           int64         `json:"seq"`
	Kind          EventKind     `json:"kind"`
	TokenID       string        `json:"token_id"`
	FundingSource string        `json:"funding_source"`
	Owner         string        `json:"owner"`
	Handles       []string      `json:"correlation_handles,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	DisposeAfter  time.Duration `json:"dispose_after,omitempty"`
	At            time.Time     `json:"at"`
}
