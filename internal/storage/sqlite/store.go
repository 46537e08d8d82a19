// Package sqlite persists catalog state in an embedded SQLite database
// (modernc.org/sqlite, no cgo) for single-binary and development use.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// Store implements catalog.RecordStore, catalog.CategoryStore,
// catalog.ProgressStore and catalog.RunStore on one database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path (":memory:" for a private in-memory one),
// applies pragmas and migrates the schema. clock may be nil.
func Open(ctx context.Context, path string, clock catalog.Clock) (*Store, error) {
	if path == "" {
		return nil, errors.New("storage.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	s := &Store{db: db, now: now}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Ping reports whether the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	source         TEXT NOT NULL,
	name           TEXT NOT NULL,
	name_key       TEXT NOT NULL,
	category       TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	rating         REAL NOT NULL DEFAULT 0,
	review_count   INTEGER NOT NULL DEFAULT 0,
	features       TEXT NOT NULL DEFAULT '[]',
	pricing        TEXT NOT NULL DEFAULT '{}',
	vendor_name    TEXT NOT NULL DEFAULT '',
	vendor_website TEXT NOT NULL DEFAULT '',
	logo           TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	scraped_at     DATETIME NOT NULL,
	PRIMARY KEY (source, name_key, category)
);
CREATE INDEX IF NOT EXISTS idx_products_rank ON products(source, rating DESC, review_count DESC);

CREATE TABLE IF NOT EXISTS categories (
	source   TEXT NOT NULL,
	name     TEXT NOT NULL,
	name_key TEXT NOT NULL,
	url      TEXT NOT NULL,
	slug     TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL,
	PRIMARY KEY (source, name_key)
);

CREATE TABLE IF NOT EXISTS crawl_progress (
	source                  TEXT PRIMARY KEY,
	last_scraped_category   TEXT,
	last_scraped_page       INTEGER NOT NULL DEFAULT 0,
	total_pages_in_category INTEGER NOT NULL DEFAULT 0,
	is_completed            BOOLEAN NOT NULL DEFAULT 0,
	last_updated            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	trigger       TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME,
	status        TEXT NOT NULL,
	products      INTEGER NOT NULL DEFAULT 0,
	categories    INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_crawl_runs_started ON crawl_runs(started_at DESC);
`

func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
