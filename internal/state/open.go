package state

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverLevelDB  = "leveldb"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and parameterises a Store driver.
type Config struct {
	Driver      string // memory (default), leveldb, sqlite, postgres
	Path        string // leveldb directory or sqlite file
	DatabaseURL string // postgres DSN
}

var openers = map[string]func(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error){
	DriverMemory: func(context.Context, Config, *zap.Logger) (Store, error) {
		return NewMemoryStore(), nil
	},
	DriverLevelDB: func(_ context.Context, cfg Config, _ *zap.Logger) (Store, error) {
		if cfg.Path == "" {
			return nil, fmt.Errorf("leveldb driver requires state.path")
		}
		return OpenLevelStore(cfg.Path)
	},
	DriverSQLite: func(_ context.Context, cfg Config, _ *zap.Logger) (Store, error) {
		return OpenSQLiteStore(cfg.Path)
	},
	DriverPostgres: func(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres driver requires database.url")
		}
		return ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	},
}

// Open constructs the Store named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}
	open, ok := openers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown state driver %q", driver)
	}
	s, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s state store: %w", driver, err)
	}
	return s, nil
}
