package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// commits from every ledger host sharing the database, so that history
// sequence numbers follow commit order.
const advisoryLockKey = int64(1_482_551_907)

// PostgresStore persists state and history to PostgreSQL.
// The schema lives in migrations/ and is applied by cmd/migrate.
type PostgresStore struct {
	pool     *pgxpool.Pool
	ownsPool bool
	logger   *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
// The caller keeps ownership of the pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// ConnectPostgres dials dsn with pool limits suited to a ledger host and
// returns a store that closes the pool on Close.
func ConnectPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool, ownsPool: true, logger: logger}, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM ledger_state WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

// History implements Store. Rows are streamed as the caller advances.
func (s *PostgresStore) History(ctx context.Context, key string) (HistoryIterator, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tx_id, committed_at, value, is_delete
		 FROM ledger_history WHERE key = $1 ORDER BY seq ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", key, err)
	}
	return &pgRowsIterator{rows: rows}, nil
}

// Commit implements Store.
// It acquires a transaction-scoped advisory lock, applies every write, and
// appends the matching history rows inside a single transaction.
func (s *PostgresStore) Commit(ctx context.Context, tx *Tx) error {
	if err := validateTx(tx); err != nil {
		return err
	}

	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbtx.Rollback(ctx) //nolint:errcheck

	if _, err := dbtx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	ts := tx.Timestamp.UTC()
	for _, w := range tx.Writes {
		if w.Delete {
			if _, err := dbtx.Exec(ctx, `DELETE FROM ledger_state WHERE key = $1`, w.Key); err != nil {
				return fmt.Errorf("delete %q: %w", w.Key, err)
			}
		} else {
			if _, err := dbtx.Exec(ctx,
				`INSERT INTO ledger_state (key, value, tx_id, updated_at)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (key) DO UPDATE
				 SET value = EXCLUDED.value, tx_id = EXCLUDED.tx_id, updated_at = EXCLUDED.updated_at`,
				w.Key, w.Value, tx.ID, ts,
			); err != nil {
				return fmt.Errorf("put %q: %w", w.Key, err)
			}
		}
		if _, err := dbtx.Exec(ctx,
			`INSERT INTO ledger_history (key, tx_id, committed_at, value, is_delete)
			 VALUES ($1, $2, $3, $4, $5)`,
			w.Key, tx.ID, ts, w.Value, w.Delete,
		); err != nil {
			return fmt.Errorf("append history %q: %w", w.Key, err)
		}
	}

	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("state committed",
		zap.String("tx_id", tx.ID),
		zap.Int("writes", len(tx.Writes)),
	)
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

type pgRowsIterator struct {
	rows pgx.Rows
	cur  Version
	err  error
}

func (it *pgRowsIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	var v Version
	if err := it.rows.Scan(&v.TxID, &v.Timestamp, &v.Value, &v.IsDelete); err != nil {
		it.err = fmt.Errorf("scan history row: %w", err)
		return false
	}
	v.Timestamp = v.Timestamp.UTC()
	it.cur = v
	return true
}

func (it *pgRowsIterator) Version() Version { return it.cur }

func (it *pgRowsIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *pgRowsIterator) Close() error {
	it.rows.Close()
	return nil
}
