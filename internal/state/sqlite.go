package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_state (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_history (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	key          TEXT    NOT NULL,
	tx_id        TEXT    NOT NULL,
	committed_at INTEGER NOT NULL,
	value        BLOB,
	is_delete    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS ledger_history_key_seq ON ledger_history (key, seq);`

// SQLiteStore keeps state and history in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "herbledger.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; one connection keeps commits and lazy
	// history cursors from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ledger_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

// History implements Store.
func (s *SQLiteStore) History(ctx context.Context, key string) (HistoryIterator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tx_id, committed_at, value, is_delete
		 FROM ledger_history WHERE key = ? ORDER BY seq ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", key, err)
	}
	return &sqlRowsIterator{rows: rows}, nil
}

// Commit implements Store.
func (s *SQLiteStore) Commit(ctx context.Context, tx *Tx) (retErr error) {
	if err := validateTx(tx); err != nil {
		return err
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = dbtx.Rollback()
		}
	}()

	ts := tx.Timestamp.UTC().UnixNano()
	for _, w := range tx.Writes {
		if w.Delete {
			if _, err := dbtx.ExecContext(ctx, `DELETE FROM ledger_state WHERE key = ?`, w.Key); err != nil {
				return fmt.Errorf("delete %q: %w", w.Key, err)
			}
		} else {
			if _, err := dbtx.ExecContext(ctx,
				`INSERT INTO ledger_state (key, value) VALUES (?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				w.Key, w.Value,
			); err != nil {
				return fmt.Errorf("put %q: %w", w.Key, err)
			}
		}
		if _, err := dbtx.ExecContext(ctx,
			`INSERT INTO ledger_history (key, tx_id, committed_at, value, is_delete)
			 VALUES (?, ?, ?, ?, ?)`,
			w.Key, tx.ID, ts, w.Value, w.Delete,
		); err != nil {
			return fmt.Errorf("append history %q: %w", w.Key, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlRowsIterator struct {
	rows *sql.Rows
	cur  Version
	err  error
}

func (it *sqlRowsIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	var (
		v  Version
		ns int64
	)
	if err := it.rows.Scan(&v.TxID, &ns, &v.Value, &v.IsDelete); err != nil {
		it.err = fmt.Errorf("scan history row: %w", err)
		return false
	}
	v.Timestamp = time.Unix(0, ns).UTC()
	it.cur = v
	return true
}

func (it *sqlRowsIterator) Version() Version { return it.cur }

func (it *sqlRowsIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *sqlRowsIterator) Close() error { return it.rows.Close() }
