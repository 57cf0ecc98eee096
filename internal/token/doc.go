// Package token defines the unit of claim tracking: the Token Record, its
// lifecycle states, the events emitted as a record moves through them, and the
// decoder that extracts a funding source (mint URL) from an encoded Cashu token.
//
// # State Machine
//
//	Pending ──► Verifying ──► Redeemed  (terminal)
//	                     └──► Abandoned (terminal)
//
// Pending and Verifying are both "live". Only the head of a funding source's
// queue is ever Verifying. No transition leaves a terminal state.
//
// # Identity
//
// A record's ID is content-addressed: SHA-256 over the trimmed payload with a
// versioned domain prefix (see ID). The same token announced twice yields the
// same ID, which the engine uses to reject duplicate admission.
package token
