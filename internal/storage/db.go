// Package storage provides the SQLite storage layer for the coordination
// engine.
//
// The database lives under the coordination base path and is shared by every
// process that coordinates through it. All read-modify-write sequences run
// inside immediate transactions (the connection string sets
// _txlock=immediate), which take the single writer lock up front and give
// the linearizable exclusive section the claim path depends on. Readers are
// never blocked thanks to WAL journal mode.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DB wraps the SQLite handle for the coordination database.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the coordination database at path.
// busyTimeout bounds how long a writer waits for the exclusive lock before
// the operation fails as transient; spec target is low milliseconds under
// normal contention, so the default of 5s is generous headroom.
func Open(ctx context.Context, path string, busyTimeout time.Duration, logger *slog.Logger) (*DB, error) {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
		url.PathEscape(path), busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	return &DB{db: db, logger: logger}, nil
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close shuts down the database handle.
func (db *DB) Close() error {
	return db.db.Close()
}

// Tx is a transaction over the coordination collections. Obtained via InTx;
// every method call on it participates in the same exclusive section.
type Tx struct {
	tx *sql.Tx
}

// InTx runs fn inside a single immediate transaction. The transaction holds
// the writer lock from the first statement, so fn observes a stable snapshot
// and its writes commit atomically. fn returning an error rolls back.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit transaction: %w", err)
	}
	return nil
}

// ── Encoding helpers ──────────────────────────────────────────────────────────

// timeLayout is RFC3339 with a fixed-width nanosecond fraction. The fixed
// width keeps lexicographic TEXT comparison equal to chronological order,
// which the heartbeat-cutoff queries rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Timestamps persist as UTC RFC3339 TEXT so the database stays readable by
// non-Go consumers.
func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeMap(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// decodeMap tolerates malformed stored JSON: readers treat it as absent
// rather than failing the whole read.
func decodeMap(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func encodeStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	raw, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeStrings(s string) []string {
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil
	}
	return ss
}
