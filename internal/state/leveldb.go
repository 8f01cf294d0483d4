package state

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	s/<key>                 latest value
//	h/<key>\x00<seq:be64>   one version record (JSON)
//	m/seq                   last assigned sequence number
var (
	latestPrefix  = []byte("s/")
	historyPrefix = []byte("h/")
	seqKey        = []byte("m/seq")
)

// LevelStore persists state and history in a goleveldb database.
// Versions are ordered by a store-wide sequence number assigned at commit.
type LevelStore struct {
	db *leveldb.DB

	mu  sync.Mutex // serialises Commit and guards seq
	seq uint64
}

// OpenLevelStore opens (or creates) a LevelDB database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}

	s := &LevelStore{db: db}
	raw, err := db.Get(seqKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("read sequence: %w", err)
	default:
		if len(raw) != 8 {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("corrupt sequence record (%d bytes)", len(raw))
		}
		s.seq = binary.BigEndian.Uint64(raw)
	}
	return s, nil
}

func latestKey(key string) []byte {
	return append(bytes.Clone(latestPrefix), key...)
}

func historyKeyPrefix(key string) []byte {
	p := append(bytes.Clone(historyPrefix), key...)
	return append(p, 0)
}

func historyKey(key string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(historyKeyPrefix(key), seq)
}

// Get implements Store.
func (s *LevelStore) Get(_ context.Context, key string) ([]byte, error) {
	v, err := s.db.Get(latestKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if errors.Is(err, leveldb.ErrClosed) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

// History implements Store. Versions are decoded lazily as the caller
// advances; the iterator reads from an implicit snapshot taken at creation.
func (s *LevelStore) History(_ context.Context, key string) (HistoryIterator, error) {
	if err := ValidateKey(key); err != nil {
		// Keys that can never be written have no history.
		return newSliceIterator(nil), nil
	}
	it := s.db.NewIterator(util.BytesPrefix(historyKeyPrefix(key)), nil)
	if err := it.Error(); err != nil {
		it.Release()
		if errors.Is(err, leveldb.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("history %q: %w", key, err)
	}
	return &levelIterator{it: it}, nil
}

// Commit implements Store.
func (s *LevelStore) Commit(_ context.Context, tx *Tx) error {
	if err := validateTx(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	seq := s.seq
	for _, w := range tx.Writes {
		seq++
		rec := Version{TxID: tx.ID, Timestamp: tx.Timestamp, IsDelete: w.Delete}
		if w.Delete {
			batch.Delete(latestKey(w.Key))
		} else {
			rec.Value = w.Value
			batch.Put(latestKey(w.Key), w.Value)
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode version: %w", err)
		}
		batch.Put(historyKey(w.Key, seq), encoded)
	}
	batch.Put(seqKey, binary.BigEndian.AppendUint64(nil, seq))

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		if errors.Is(err, leveldb.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("write batch: %w", err)
	}
	s.seq = seq
	return nil
}

// Close implements Store.
func (s *LevelStore) Close() error {
	return s.db.Close()
}

type levelIterator struct {
	it  iterator.Iterator
	cur Version
	err error
}

func (l *levelIterator) Next() bool {
	if l.err != nil || !l.it.Next() {
		return false
	}
	var v Version
	if err := json.Unmarshal(l.it.Value(), &v); err != nil {
		l.err = fmt.Errorf("decode version: %w", err)
		return false
	}
	l.cur = v
	return true
}

func (l *levelIterator) Version() Version { return l.cur }

func (l *levelIterator) Err() error {
	if l.err != nil {
		return l.err
	}
	return l.it.Error()
}

func (l *levelIterator) Close() error {
	l.it.Release()
	return nil
}
