package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/cashutrack/internal/oracle"
	"github.com/roach88/cashutrack/internal/store"
	"github.com/roach88/cashutrack/internal/token"
)

// Defaults for engine options.
const (
	DefaultPollInterval         = 4 * time.Second
	DefaultBackoffCap           = 24 * time.Hour
	DefaultMaxTransientFailures = 10
	DefaultCheckTimeout         = 10 * time.Second
	DefaultStoreTimeout         = 5 * time.Second
	DefaultNotifyTimeout        = 10 * time.Second
)

// TokenStore persists the live record set. Implemented by store.Store and
// store.FileStore.
type TokenStore interface {
	LoadAll(ctx context.Context) (store.Snapshot, error)
	SaveAll(ctx context.Context, snap store.Snapshot) error
}

// Decoder derives a funding source from a token payload.
// Implemented by token.Decoder.
type Decoder interface {
	FundingSource(payload string) (string, error)
}

// Oracle reports whether a token has been redeemed.
// Implemented by oracle.Client.
type Oracle interface {
	Check(ctx context.Context, payload string) (oracle.Status, error)
}

// Sink receives lifecycle events. Delivery is best effort: errors are
// logged and never affect tracking.
type Sink interface {
	Notify(ctx context.Context, ev token.Event) error
}

// IDGenerator generates unique event ids.
// Implemented by UUIDv7Generator (production) and testutil.SequentialIDs.
type IDGenerator interface {
	Generate() string
}

// Announcement is one observed token handed to Track.
type Announcement struct {
	// Payload is the encoded token.
	Payload string
	// FundingSource overrides decoding when non-empty.
	FundingSource string
	// Owner is the display identity of whoever shared the token.
	Owner string
	// Handles are caller references (e.g. message ids) passed through to the sink.
	Handles []string
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateStopped
)

// Engine tracks announced tokens until each is redeemed or abandoned.
//
// Thread-safety model:
//   - Track(), Pending(), Flush(): safe from any goroutine
//   - Resume(): once, before Track
//   - Shutdown(): once
type Engine struct {
	store   TokenStore
	decoder Decoder
	oracle  Oracle
	sink    Sink
	logger  *slog.Logger
	clock   Clock
	seq     *Sequence
	ids     IDGenerator

	pollInterval  time.Duration
	backoff       Backoff
	maxTransient  int
	checkTimeout  time.Duration
	storeTimeout  time.Duration
	notifyTimeout time.Duration
	disposeAfter  time.Duration

	mu     sync.Mutex
	state  lifecycle
	queues map[string]*resourceQueue
	index  map[string]string // token id -> funding source
	ctx    context.Context
	cancel context.CancelFunc

	outbox       *outbox
	dispatchDone chan struct{}
	saveSignal   chan struct{}
	workers      sync.WaitGroup

	saveMu        sync.Mutex
	storeFailures int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithPollInterval sets the recheck interval for outstanding tokens.
// Unless WithBackoff is also given, the backoff base follows it.
//
// Default: 4s (DefaultPollInterval)
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithBackoff sets the rate-limit backoff base and cap.
//
// Default: base = poll interval, cap = 24h (DefaultBackoffCap)
func WithBackoff(base, cap time.Duration) EngineOption {
	return func(e *Engine) {
		if base > 0 {
			e.backoff.Base = base
		}
		if cap > 0 {
			e.backoff.Cap = cap
		}
	}
}

// WithMaxTransientFailures sets how many consecutive non-rate-limit oracle
// failures abandon a token.
//
// Default: 10 (DefaultMaxTransientFailures)
func WithMaxTransientFailures(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxTransient = n
		}
	}
}

// WithCheckTimeout bounds each oracle call.
func WithCheckTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.checkTimeout = d
		}
	}
}

// WithStoreTimeout bounds each snapshot write.
func WithStoreTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// WithNotifyTimeout bounds each sink delivery.
func WithNotifyTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.notifyTimeout = d
		}
	}
}

// WithDisposeAfter sets the DisposeAfter hint carried by Redeemed events.
// Zero means the claimed message should be kept.
func WithDisposeAfter(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.disposeAfter = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEventIDs replaces the event id generator. Default: UUIDv7Generator.
func WithEventIDs(g IDGenerator) EngineOption {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// New creates an Engine. Nothing runs until Resume.
func New(s TokenStore, d Decoder, o Oracle, sink Sink, opts ...EngineOption) *Engine {
	e := &Engine{
		store:         s,
		decoder:       d,
		oracle:        o,
		sink:          sink,
		logger:        slog.Default(),
		clock:         SystemClock{},
		seq:           NewSequence(),
		ids:           UUIDv7Generator{},
		pollInterval:  DefaultPollInterval,
		backoff:       Backoff{Cap: DefaultBackoffCap},
		maxTransient:  DefaultMaxTransientFailures,
		checkTimeout:  DefaultCheckTimeout,
		storeTimeout:  DefaultStoreTimeout,
		notifyTimeout: DefaultNotifyTimeout,
		queues:        make(map[string]*resourceQueue),
		index:         make(map[string]string),
		outbox:        newOutbox(),
		dispatchDone:  make(chan struct{}),
		saveSignal:    make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.backoff.Base <= 0 {
		e.backoff.Base = e.pollInterval
	}
	if e.backoff.Cap < e.backoff.Base {
		e.backoff.Cap = e.backoff.Base
	}

	return e
}

// Resume loads the persisted snapshot, rebuilds every resource queue in
// admission order and starts polling each queue head. It must be called
// exactly once, before Track. No events are emitted for resumed tokens.
//
// Background work is detached from ctx's cancellation; stop it with Shutdown.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.state != stateIdle {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	snap, err := e.store.LoadAll(loadCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("resume: load store: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateIdle {
		return ErrAlreadyStarted
	}

	dropped := 0
	for _, source := range snap.Sources() {
		for _, r := range snap[source] {
			if !e.admitResumed(source, r) {
				dropped++
			}
		}
	}

	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.state = stateRunning

	go e.dispatch()
	e.workers.Add(1)
	go e.persistLoop(e.ctx)
	for _, q := range e.queues {
		e.startWorker(q)
	}

	if dropped > 0 {
		e.requestSave()
	}

	e.logger.Info("engine resumed",
		"tokens", len(e.index),
		"queues", len(e.queues),
		"dropped", dropped,
		"event", "engine_resumed",
	)
	return nil
}

// admitResumed adds one persisted record to its queue. Only the head may
// stay Verifying; later records are reset to Pending. Caller holds e.mu.
func (e *Engine) admitResumed(source string, r token.Record) bool {
	if r.FundingSource == "" {
		r.FundingSource = source
	}
	if r.FundingSource != source {
		e.logger.Warn("resumed record listed under another source; using listing",
			"token", token.ShortID(r.ID),
			"record_source", r.FundingSource,
			"source", source,
		)
		r.FundingSource = source
	}
	if r.ID == "" || !r.State.Live() {
		e.logger.Warn("skipping persisted record",
			"token", token.ShortID(r.ID),
			"state", r.State,
			"source", source,
		)
		return false
	}
	if prev, dup := e.index[r.ID]; dup {
		e.logger.Warn("skipping duplicate persisted record",
			"token", token.ShortID(r.ID),
			"source", source,
			"first_source", prev,
		)
		return false
	}

	q := e.queues[source]
	if q == nil {
		q = newResourceQueue(source)
		e.queues[source] = q
	}
	if q.Len() > 0 {
		r.State = token.StatePending
	}
	q.Enqueue(r)
	e.index[r.ID] = source
	return true
}

// Track admits a token and returns its id. It never blocks on the oracle or
// the store: polling starts asynchronously and persistence is handed to the
// persister.
//
// Returns a TrackError with ErrCodeInvalidPayload when no funding source can
// be derived. Tracking an id that is already live returns that id again
// without a second Tracked event.
func (e *Engine) Track(a Announcement) (string, error) {
	payload := strings.TrimSpace(a.Payload)
	if payload == "" {
		return "", &TrackError{
			Code:    ErrCodeInvalidPayload,
			Message: "empty payload",
			Err:     ErrInvalidPayload,
		}
	}
	id := token.ID(payload)

	source := strings.TrimSpace(a.FundingSource)
	if source == "" {
		derived, err := e.decoder.FundingSource(payload)
		if err != nil {
			return "", &TrackError{
				Code:    ErrCodeInvalidPayload,
				Message: "cannot derive funding source",
				TokenID: id,
				Err:     err,
			}
		}
		source = derived
	}

	r := token.Record{
		ID:            id,
		Payload:       payload,
		FundingSource: source,
		Owner:         token.NormalizeText(a.Owner),
		Handles:       append([]string(nil), a.Handles...),
		State:         token.StatePending,
		EnqueuedAt:    e.clock.Now().UTC(),
	}

	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return "", &TrackError{
			Code:          ErrCodeNotRunning,
			Message:       "track before resume or after shutdown",
			TokenID:       id,
			FundingSource: source,
			Err:           ErrNotRunning,
		}
	}
	if existing, dup := e.index[id]; dup {
		e.mu.Unlock()
		e.logger.Debug("token already tracked",
			"token", token.ShortID(id),
			"source", existing,
		)
		return id, nil
	}

	q := e.queues[source]
	created := q == nil
	if created {
		q = newResourceQueue(source)
		e.queues[source] = q
	}

	// Tracked is queued before the record is visible to the poller, so it is
	// always delivered ahead of the token's resolution.
	e.emitLocked(token.EventTracked, r, "")
	becameHead := q.Enqueue(r)
	e.index[id] = source
	if created {
		e.startWorker(q)
	}
	queued := q.Len()
	e.mu.Unlock()

	e.requestSave()

	e.logger.Info("token tracked",
		"token", token.ShortID(id),
		"source", source,
		"owner", r.Owner,
		"head", becameHead,
		"queue_len", queued,
		"event", "token_tracked",
	)
	return id, nil
}

// Pending returns a copy of every live record grouped by funding source.
func (e *Engine) Pending() store.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Flush synchronously persists the current live snapshot.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	running := e.state == stateRunning
	e.mu.Unlock()
	if !running {
		return &TrackError{Code: ErrCodeNotRunning, Message: "flush", Err: ErrNotRunning}
	}
	return e.flush(ctx)
}

// Shutdown stops every poller, delivers already queued events, and writes a
// final snapshot. In-flight oracle results are discarded; Resume re-polls
// them from the persisted state. ctx bounds the whole shutdown.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.state = stateStopped
	cancel := e.cancel
	e.mu.Unlock()

	e.logger.Info("engine stopping", "event", "engine_stopping")
	cancel()

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown: waiting for pollers: %w", ctx.Err())
	}

	e.outbox.Close()
	select {
	case <-e.dispatchDone:
	case <-ctx.Done():
		return fmt.Errorf("shutdown: draining events: %w", ctx.Err())
	}

	if err := e.flush(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	e.logger.Info("engine stopped",
		"events_emitted", e.seq.Current(),
		"event", "engine_stopped",
	)
	return nil
}

// startWorker launches the poller owning q. Caller holds e.mu.
func (e *Engine) startWorker(q *resourceQueue) {
	e.workers.Add(1)
	p := &poller{engine: e, queue: q}
	go p.run(e.ctx)
}

// retire removes q once it has drained. It returns false if a record arrived
// in the meantime, in which case the poller keeps running.
func (e *Engine) retire(q *resourceQueue) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q.Len() > 0 {
		return false
	}
	if e.queues[q.source] == q {
		delete(e.queues, q.source)
	}
	e.logger.Debug("queue drained", "source", q.source)
	return true
}

// resolve moves the head of q to a terminal state, emits the matching event
// and advances the queue.
func (e *Engine) resolve(q *resourceQueue, head token.Record, to token.State, reason string) {
	e.mu.Lock()
	resolved, err := q.updateHead(head.ID, func(r *token.Record) error {
		return r.Transition(to)
	})
	if err != nil {
		e.mu.Unlock()
		e.logger.Error("resolve failed",
			"token", token.ShortID(head.ID),
			"source", q.source,
			"to", to,
			"error", err,
		)
		return
	}

	kind := token.EventRedeemed
	if to == token.StateAbandoned {
		kind = token.EventAbandoned
	}
	e.emitLocked(kind, resolved, reason)

	next, hasNext, err := q.Advance()
	delete(e.index, head.ID)
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("advance failed", "source", q.source, "error", err)
	}

	e.requestSave()

	attrs := []any{
		"token", token.ShortID(head.ID),
		"source", q.source,
		"owner", head.Owner,
		"retry_count", head.RetryCount,
		"event", "token_" + string(kind),
	}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if hasNext {
		attrs = append(attrs, "next", token.ShortID(next.ID))
	}
	if kind == token.EventAbandoned {
		e.logger.Warn("token abandoned", attrs...)
	} else {
		e.logger.Info("token redeemed", attrs...)
	}
}

// emitLocked stamps and queues an event for r. Caller holds e.mu, which
// makes Seq order match outbox order.
func (e *Engine) emitLocked(kind token.EventKind, r token.Record, reason string) {
	ev := token.Event{
		ID:            e.ids.Generate(),
		Seq:           e.seq.Next(),
		Kind:          kind,
		TokenID:       r.ID,
		FundingSource: r.FundingSource,
		Owner:         r.Owner,
		Handles:       append([]string(nil), r.Handles...),
		Reason:        reason,
		At:            e.clock.Now().UTC(),
	}
	if kind == token.EventRedeemed {
		ev.DisposeAfter = e.disposeAfter
	}
	if !e.outbox.Enqueue(ev) {
		e.logger.Warn("event dropped after shutdown",
			"kind", kind,
			"token", token.ShortID(r.ID),
		)
	}
}

// dispatch delivers outbox events to the sink in order until the outbox is
// closed and drained.
func (e *Engine) dispatch() {
	defer close(e.dispatchDone)

	for {
		if ev, ok := e.outbox.TryDequeue(); ok {
			e.deliver(ev)
			continue
		}
		if e.outbox.Drained() {
			return
		}
		<-e.outbox.Wait()
	}
}

func (e *Engine) deliver(ev token.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
	defer cancel()

	if err := e.sink.Notify(ctx, ev); err != nil {
		e.logger.Warn("notification failed",
			"kind", ev.Kind,
			"token", token.ShortID(ev.TokenID),
			"seq", ev.Seq,
			"error", err,
			"event", "notify_failed",
		)
	}
}

// requestSave asks the persister to write a snapshot. Requests coalesce.
func (e *Engine) requestSave() {
	select {
	case e.saveSignal <- struct{}{}:
	default:
	}
}

// persistLoop writes snapshots on request, retrying failed writes every
// poll interval until one succeeds or ctx ends.
func (e *Engine) persistLoop(ctx context.Context) {
	defer e.workers.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.saveSignal:
		}

		for e.flush(ctx) != nil {
			retry, stop := e.clock.After(e.pollInterval)
			select {
			case <-ctx.Done():
				stop()
				return
			case <-retry:
			case <-e.saveSignal:
				stop()
			}
		}
	}
}

// flush writes the live snapshot. Concurrent flushes are serialized so an
// older snapshot can never overwrite a newer one.
func (e *Engine) flush(ctx context.Context) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	snap := e.Pending()

	saveCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	err := e.store.SaveAll(saveCtx, snap)
	cancel()

	if err != nil {
		e.storeFailures++
		e.logger.Error("store write failed; in-memory state remains authoritative",
			"tokens", snap.Len(),
			"consecutive_failures", e.storeFailures,
			"error", err,
			"event", "store_write_failed",
		)
		return &TrackError{
			Code:    ErrCodeStoreWriteFailed,
			Message: "save snapshot",
			Err:     fmt.Errorf("%w: %w", ErrStoreWriteFailed, err),
		}
	}

	if e.storeFailures > 0 {
		e.logger.Info("store write recovered",
			"after_failures", e.storeFailures,
			"tokens", snap.Len(),
			"event", "store_write_recovered",
		)
		e.storeFailures = 0
	}
	return nil
}

// snapshotLocked copies the live records of every queue. Caller holds e.mu.
func (e *Engine) snapshotLocked() store.Snapshot {
	snap := make(store.Snapshot, len(e.queues))
	for source, q := range e.queues {
		if records := q.Snapshot(); len(records) > 0 {
			snap[source] = records
		}
	}
	return snap
}
