// Package sqlite is the default single-file backend for both the frontier and
// the entity index.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS frontier (
	url TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	page_index INTEGER NOT NULL DEFAULT 0,
	discovered_at INTEGER NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	last_error_kind TEXT NOT NULL DEFAULT '',
	last_attempt INTEGER NOT NULL DEFAULT 0,
	not_before INTEGER NOT NULL DEFAULT 0,
	permanent INTEGER NOT NULL DEFAULT 0,
	seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_frontier_kind_state ON frontier(kind, state);

CREATE TABLE IF NOT EXISTS entities (
	url TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	html_path TEXT NOT NULL,
	thumbnail_url TEXT NOT NULL DEFAULT '',
	thumbnail_path TEXT NOT NULL DEFAULT '',
	thumbnail_status TEXT NOT NULL DEFAULT 'none',
	content_hash TEXT NOT NULL DEFAULT '',
	html_bytes INTEGER NOT NULL DEFAULT 0,
	thumbnail_bytes INTEGER NOT NULL DEFAULT 0,
	status_code INTEGER NOT NULL DEFAULT 0,
	fetched_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
CREATE INDEX IF NOT EXISTS idx_entities_thumbnail_status ON entities(thumbnail_status);
`

// DB is an open SQLite database holding the frontier and entities tables.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite has a single writer; one connection serializes access without
	// SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// FrontierStore returns the frontier table view.
func (d *DB) FrontierStore() *FrontierStore {
	return &FrontierStore{db: d.db}
}

// IndexStore returns the entities table view.
func (d *DB) IndexStore() *IndexStore {
	return &IndexStore{db: d.db}
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
