package txlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/herbledger/internal/state"
)

// MemoryLog is an in-process Log. Its chain starts over on every restart.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryLog creates a MemoryLog holding only the genesis entry.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: []*Entry{{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Function:  "genesis",
		WriteHash: GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	}}}
}

// Append implements Log.
func (l *MemoryLog) Append(_ context.Context, tx *state.Tx, function, org string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[len(l.entries)-1]
	e, err := newEntry(len(l.entries), prev.Hash, tx, function, org)
	if err != nil {
		return nil, err
	}
	l.entries = append(l.entries, e)
	return e, nil
}

// Get implements Log.
func (l *MemoryLog) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	e := *l.entries[index]
	return &e, nil
}

// Len implements Log.
func (l *MemoryLog) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Log.
func (l *MemoryLog) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var prev *Entry
	for _, curr := range l.entries {
		if err := verifyNext(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}

// Tip implements Log.
func (l *MemoryLog) Tip(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}
