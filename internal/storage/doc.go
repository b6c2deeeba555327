// Package storage persists ingested log entries. The core never writes
// here directly; units of work do, through the Store interface.
package storage
