package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/cashutrack/internal/store"
	"github.com/roach88/cashutrack/internal/token"
)

// ErrInjectedWrite is returned by MemoryStore.SaveAll while failing.
var ErrInjectedWrite = errors.New("injected store write failure")

// MemoryStore is an in-memory token store with failure injection.
type MemoryStore struct {
	mu      sync.Mutex
	snap    store.Snapshot
	saves   int
	failing bool
	loadErr error
	changed chan struct{}
}

// NewMemoryStore creates a store preloaded with snap (which may be nil).
func NewMemoryStore(snap store.Snapshot) *MemoryStore {
	return &MemoryStore{snap: cloneSnapshot(snap), changed: make(chan struct{})}
}

// LoadAll returns a copy of the stored snapshot.
func (s *MemoryStore) LoadAll(ctx context.Context) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return cloneSnapshot(s.snap), nil
}

// SaveAll replaces the stored snapshot unless failures are injected.
func (s *MemoryStore) SaveAll(ctx context.Context, snap store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		close(s.changed)
		s.changed = make(chan struct{})
	}()

	s.saves++
	if s.failing {
		return ErrInjectedWrite
	}
	s.snap = cloneSnapshot(snap)
	return nil
}

// SetFailing toggles write failure injection.
func (s *MemoryStore) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// SetLoadError makes LoadAll fail with err.
func (s *MemoryStore) SetLoadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// Saved returns a copy of the last successfully saved snapshot.
func (s *MemoryStore) Saved() store.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snap)
}

// Saves returns the number of SaveAll attempts, failed ones included.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Changed returns a channel closed on the next SaveAll attempt.
func (s *MemoryStore) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func cloneSnapshot(snap store.Snapshot) store.Snapshot {
	out := make(store.Snapshot, len(snap))
	for source, records := range snap {
		cp := make([]token.Record, len(records))
		for i, r := range records {
			cp[i] = r.Clone()
		}
		out[source] = cp
	}
	return out
}
