package txlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/herbledger/internal/state"
	"go.uber.org/zap"
)

// advisoryLockKey serialises appends from every host sharing the database.
const advisoryLockKey = int64(1_482_551_908)

// PostgresLog persists the chain in the ledger_txlog table. The genesis row
// is inserted by migrations/002_ledger_txlog.up.sql.
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog creates a PostgresLog backed by pool.
func NewPostgresLog(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLog {
	return &PostgresLog{pool: pool, logger: logger}
}

const selectEntry = `SELECT idx, committed_at, tx_id, function, org, write_hash, prev_hash, hash FROM ledger_txlog`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	e := &Entry{}
	if err := row.Scan(&e.Index, &e.Timestamp, &e.TxID, &e.Function, &e.Org, &e.WriteHash, &e.PrevHash, &e.Hash); err != nil {
		return nil, err
	}
	return e, nil
}

// Append implements Log. The tail is read and the new entry inserted under a
// transaction-scoped advisory lock.
func (l *PostgresLog) Append(ctx context.Context, tx *state.Tx, function, org string) (*Entry, error) {
	dbtx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbtx.Rollback(ctx) //nolint:errcheck

	if _, err := dbtx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := dbtx.QueryRow(ctx,
		"SELECT idx, hash FROM ledger_txlog ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read txlog tail: %w", err)
	}

	e, err := newEntry(prevIdx+1, prevHash, tx, function, org)
	if err != nil {
		return nil, err
	}
	if _, err := dbtx.Exec(ctx,
		`INSERT INTO ledger_txlog (idx, committed_at, tx_id, function, org, write_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Index, e.Timestamp, e.TxID, e.Function, e.Org, e.WriteHash, e.PrevHash, e.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert txlog entry: %w", err)
	}
	if err := dbtx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit txlog entry: %w", err)
	}

	l.logger.Debug("txlog entry appended",
		zap.Int("idx", e.Index),
		zap.String("tx_id", e.TxID),
		zap.String("function", e.Function),
	)
	return e, nil
}

// Get implements Log.
func (l *PostgresLog) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx, selectEntry+` WHERE idx = $1`, index))
	if err != nil {
		return nil, fmt.Errorf("get txlog entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Log.
func (l *PostgresLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_txlog").Scan(&n); err != nil {
		return 0, fmt.Errorf("count txlog entries: %w", err)
	}
	return n, nil
}

// Verify implements Log. It streams the whole chain, so it is O(n).
func (l *PostgresLog) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, selectEntry+` ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query txlog: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan txlog row: %w", err)
		}
		if err := verifyNext(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Tip implements Log.
func (l *PostgresLog) Tip(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM ledger_txlog ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get txlog tip: %w", err)
	}
	return hash, nil
}
