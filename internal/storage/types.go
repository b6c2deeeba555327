package storage

import (
	"encoding/json"
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "postgres": PostgreSQL over lib/pq (DSN in Conn)
//   - "sqlite": local SQLite database file (path in Path)
//
// If Driver is empty or "none", storage is disabled and sources fetch
// without persisting (useful for dry runs).
type Config struct {
	Driver      string
	Conn        string        // postgres DSN
	Path        string        // sqlite file path
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one ingested log record. Keep it compact and schema-stable.
type Entry struct {
	Source    string
	Product   string
	EventType string
	Severity  string
	Timestamp time.Time
	Raw       json.RawMessage
}
