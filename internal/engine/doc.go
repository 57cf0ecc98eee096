// Package engine implements the cashutrack claim-tracking engine.
//
// The engine admits announced tokens, polls a verification oracle for each
// token's redemption status, and reports lifecycle events (tracked, redeemed,
// abandoned) to a notification sink. Live state survives restarts through a
// TokenStore snapshot.
//
// ARCHITECTURE:
//
// Resource Queues:
// Tokens are grouped by funding source (the mint URL) into FIFO queues. Only
// the head of a queue is ever verified, so each mint sees at most one
// in-flight check from this process at any time.
//
// One Worker Per Queue:
// Every non-empty queue is owned by exactly one poller goroutine. The poller
// is the only writer of its queue's head; Track only appends. A poller exits
// when its queue drains, and Track starts a new one when a token arrives for
// a source without a queue. Queue creation and retirement both happen under
// the engine mutex, so a token can never land in a queue nobody polls.
//
// Outbox:
// Lifecycle events are appended to an unbounded outbox while the engine
// mutex is held, which fixes their order (and their Seq), and a single
// dispatcher goroutine delivers them to the sink. A slow or failing sink
// never stalls polling.
//
// Persister:
// Mutations request a save through a coalescing signal. The persister writes
// the full live snapshot, retrying on the poll interval after a failure.
// In-memory state stays authoritative while writes fail.
//
// Poll tick:
//  1. Head becomes Verifying.
//  2. Oracle check, bounded by the check timeout.
//  3. Redeemed: emit Redeemed, drop the head, poll the next head immediately.
//  4. Outstanding: poll again after the poll interval.
//  5. Rate limited: wait min(base * 2^retryCount, cap), then retryCount++.
//  6. Any other failure: poll again after the poll interval; after
//     MaxTransientFailures consecutive failures the head is Abandoned.
//
// Lock order: Engine.mu before resourceQueue.mu, never the reverse.
package engine
