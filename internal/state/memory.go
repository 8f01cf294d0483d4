package state

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	latest  map[string][]byte
	history map[string][]Version
	closed  bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latest:  make(map[string][]byte),
		history: make(map[string][]Version),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.latest[key]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

// History implements Store. The returned iterator works on a copy taken under
// the read lock, so later commits are not visible to it.
func (s *MemoryStore) History(_ context.Context, key string) (HistoryIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	src := s.history[key]
	out := make([]Version, len(src))
	for i, v := range src {
		v.Value = bytes.Clone(v.Value)
		out[i] = v
	}
	return newSliceIterator(out), nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(_ context.Context, tx *Tx) error {
	if err := validateTx(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, w := range tx.Writes {
		v := Version{TxID: tx.ID, Timestamp: tx.Timestamp, IsDelete: w.Delete}
		if w.Delete {
			delete(s.latest, w.Key)
		} else {
			v.Value = bytes.Clone(w.Value)
			s.latest[w.Key] = bytes.Clone(w.Value)
		}
		s.history[w.Key] = append(s.history[w.Key], v)
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
