// Package txlog keeps a hash-chained log of committed ledger transactions.
//
// The chain starts with a genesis entry whose Hash is GenesisHash (64 hex
// zeros). Each later entry carries the SHA-256 of its write set and the hash
// of its predecessor, so rewriting any committed transaction, or the state
// history it produced, is detectable with Verify.
package txlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmerrifield20/herbledger/internal/state"
)

// GenesisHash is the hash of the genesis entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one committed transaction in the log.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	TxID      string    `json:"txId"`
	Function  string    `json:"function"`
	Org       string    `json:"org"`
	WriteHash string    `json:"writeHash"`
	PrevHash  string    `json:"prevHash"`
	Hash      string    `json:"hash"`
}

// Log is an append-only chain of Entries.
type Log interface {
	// Append chains a committed transaction onto the log.
	Append(ctx context.Context, tx *state.Tx, function, org string) (*Entry, error)
	Get(ctx context.Context, index int) (*Entry, error)
	// Len counts entries, genesis included.
	Len(ctx context.Context) (int, error)
	// Verify walks the chain and returns nil if it is intact.
	Verify(ctx context.Context) error
	// Tip returns the hash of the newest entry.
	Tip(ctx context.Context) (string, error)
}

// WriteHash returns the SHA-256 of a transaction's writes in commit order.
func WriteHash(writes []state.Write) (string, error) {
	type write struct {
		Key    string `json:"key"`
		Value  []byte `json:"value,omitempty"`
		Delete bool   `json:"delete,omitempty"`
	}
	ws := make([]write, len(writes))
	for i, w := range writes {
		ws[i] = write{Key: w.Key, Value: w.Value, Delete: w.Delete}
	}
	b, err := json.Marshal(ws)
	if err != nil {
		return "", fmt.Errorf("marshal write set: %w", err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

// hashEntry must never be called on the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.TxID, e.Function, e.Org, e.WriteHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func newEntry(index int, prevHash string, tx *state.Tx, function, org string) (*Entry, error) {
	wh, err := WriteHash(tx.Writes)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Index:     index,
		// PostgreSQL keeps microseconds; hash what every backend can store.
		Timestamp: tx.Timestamp.UTC().Truncate(time.Microsecond),
		TxID:      tx.ID,
		Function:  function,
		Org:       org,
		WriteHash: wh,
		PrevHash:  prevHash,
	}
	e.Hash = hashEntry(e)
	return e, nil
}

// verifyNext checks curr against its predecessor. prev is nil for genesis.
func verifyNext(prev, curr *Entry) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d (tx %s) has invalid hash", curr.Index, curr.TxID)
	}
	return nil
}
