package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"logingest/pkg/logx"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS logs (
	id SERIAL PRIMARY KEY,
	source VARCHAR(100) NOT NULL,
	product VARCHAR(100) NOT NULL,
	event_type VARCHAR(100) NOT NULL,
	severity VARCHAR(20) NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	raw_data JSONB NOT NULL,
	created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_logs_source ON logs(source);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
`

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Conn) == "" {
		return nil, errors.New("postgres conn string is required")
	}
	db, err := sql.Open("postgres", cfg.Conn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("postgres store opened")
	return &postgresStore{db: db, log: log}, nil
}

func (s *postgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	return err
}

func (s *postgresStore) InsertEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO logs (source, product, event_type, severity, timestamp, raw_data)
		 VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, e.Source, e.Product, e.EventType, e.Severity, ts, []byte(e.Raw)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
