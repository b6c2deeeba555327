package storage

import (
	"context"
	"errors"
	"strings"

	"logingest/pkg/logx"
)

// Store is the persistence API units of work write through.
type Store interface {
	// EnsureSchema creates the logs table and indexes if missing.
	EnsureSchema(ctx context.Context) error
	// InsertEntries writes a batch atomically: all rows or none.
	InsertEntries(ctx context.Context, entries []Entry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
