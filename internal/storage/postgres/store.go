// Package postgres persists catalog state in Postgres through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

const uniqueViolation = "23505"

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the stores use, so pgxmock pools can
// be injected.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements catalog.RecordStore, catalog.CategoryStore,
// catalog.ProgressStore and catalog.RunStore on one pool.
type Store struct {
	pool pool
	now  func() time.Time
}

// Open connects to Postgres using cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewWithPool(p, nil)
}

// NewWithPool builds a Store on an existing pool (primarily for testing).
// clock may be nil.
func NewWithPool(p pool, clock catalog.Clock) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &Store{pool: p, now: now}, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	source         TEXT NOT NULL,
	name           TEXT NOT NULL,
	name_key       TEXT NOT NULL,
	category       TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	rating         DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_count   INTEGER NOT NULL DEFAULT 0,
	features       JSONB NOT NULL DEFAULT '[]',
	pricing        JSONB NOT NULL DEFAULT '{}',
	vendor_name    TEXT NOT NULL DEFAULT '',
	vendor_website TEXT NOT NULL DEFAULT '',
	logo           TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	scraped_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source, name_key, category)
);
CREATE INDEX IF NOT EXISTS idx_products_rank ON products (source, rating DESC, review_count DESC);

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
	is_completed            BOOLEAN NOT NULL DEFAULT FALSE,
	last_updated            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	trigger       TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	products      INTEGER NOT NULL DEFAULT 0,
	categories    INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_crawl_runs_started ON crawl_runs (started_at DESC);
`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
