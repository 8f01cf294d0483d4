// Package state implements the versioned key-value store the ledger contract
// runs against.
//
// Every committed write becomes a new Version of its key; nothing is ever
// rewritten in place, so a key's full history stays replayable in commit
// order. Four drivers implement the Store interface:
//   - MemoryStore: in-process, for tests and embedded gateways.
//   - LevelStore: goleveldb on local disk.
//   - SQLiteStore: a single SQLite file.
//   - PostgresStore: durable, for production hosts.
package state

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by operations on a store that has been closed.
	ErrClosed = errors.New("state store closed")

	// ErrInvalidKey is returned when a write names an empty key or a key
	// containing a NUL byte.
	ErrInvalidKey = errors.New("invalid state key")
)

// Version is one committed write (or delete) of a key.
type Version struct {
	TxID      string    `json:"tx_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     []byte    `json:"value,omitempty"`
	IsDelete  bool      `json:"is_delete,omitempty"`
}

// Write is a single entry of a transaction's write set.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Tx is a transaction ready to be committed: an id, a commit timestamp, and
// the write set it produced. All writes become visible together or not at all.
type Tx struct {
	ID        string
	Timestamp time.Time
	Writes    []Write
}

// Store is the contract-facing state store.
type Store interface {
	// Get returns the latest value of key, or nil if the key has never been
	// written or its latest version is a delete.
	Get(ctx context.Context, key string) ([]byte, error)

	// History returns every version of key, oldest first. The caller must
	// Close the iterator.
	History(ctx context.Context, key string) (HistoryIterator, error)

	// Commit applies tx atomically.
	Commit(ctx context.Context, tx *Tx) error

	// Close releases the store's resources.
	Close() error
}

// HistoryIterator is a single-pass cursor over a key's versions.
type HistoryIterator interface {
	Next() bool
	Version() Version
	Err() error
	Close() error
}

// Versions adapts History to a range-over-func sequence. The underlying
// iterator is always closed, including when the loop body breaks early.
func Versions(ctx context.Context, s Store, key string) iter.Seq2[Version, error] {
	return func(yield func(Version, error) bool) {
		it, err := s.History(ctx, key)
		if err != nil {
			yield(Version{}, err)
			return
		}
		defer it.Close() //nolint:errcheck

		for it.Next() {
			if !yield(it.Version(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Version{}, err)
		}
	}
}

// validateTx rejects write sets no driver can store.
func validateTx(tx *Tx) error {
	if tx == nil {
		return fmt.Errorf("commit: nil transaction")
	}
	if tx.ID == "" {
		return fmt.Errorf("commit: empty transaction id")
	}
	for _, w := range tx.Writes {
		if err := ValidateKey(w.Key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateKey reports whether key can be stored.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidKey, key)
	}
	return nil
}

// sliceIterator serves versions already copied out of a store.
type sliceIterator struct {
	versions []Version
	pos      int
	closed   bool
}

func newSliceIterator(versions []Version) *sliceIterator {
	return &sliceIterator{versions: versions, pos: -1}
}

func (it *sliceIterator) Next() bool {
	if it.closed || it.pos+1 >= len(it.versions) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Version() Version {
	if it.pos < 0 || it.pos >= len(it.versions) {
		return Version{}
	}
	return it.versions[it.pos]
}

func (it *sliceIterator) Err() error { return nil }

func (it *sliceIterator) Close() error {
	it.closed = true
	it.versions = nil
	return nil
}
