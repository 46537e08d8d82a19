package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// LoadCheckpoint returns the stored checkpoint, creating a blank one when absent.
func (s *Store) LoadCheckpoint(ctx context.Context, source catalog.SourceID) (catalog.Progress, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_progress (source, last_updated) VALUES (?, ?) ON CONFLICT (source) DO NOTHING`,
		string(source), s.now().UTC()); err != nil {
		return catalog.Progress{}, fmt.Errorf("sqlite: create checkpoint: %w", err)
	}
	var (
		p        = catalog.Progress{Source: source}
		category sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT last_scraped_category, last_scraped_page, total_pages_in_category, is_completed, last_updated
FROM crawl_progress WHERE source = ?`, string(source)).Scan(
		&category, &p.LastScrapedPage, &p.TotalPagesInCategory, &p.IsCompleted, &p.LastUpdated,
	)
	if err != nil {
		return catalog.Progress{}, fmt.Errorf("sqlite: load checkpoint: %w", err)
	}
	if category.Valid {
		name := category.String
		p.LastScrapedCategory = &name
	}
	return p, nil
}

// SaveCheckpoint overwrites the checkpoint for progress.Source.
func (s *Store) SaveCheckpoint(ctx context.Context, progress catalog.Progress) error {
	var category sql.NullString
	if progress.LastScrapedCategory != nil {
		category = sql.NullString{String: *progress.LastScrapedCategory, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO crawl_progress (
	source, last_scraped_category, last_scraped_page, total_pages_in_category, is_completed, last_updated
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (source) DO UPDATE SET
	last_scraped_category = excluded.last_scraped_category,
	last_scraped_page = excluded.last_scraped_page,
	total_pages_in_category = excluded.total_pages_in_category,
	is_completed = excluded.is_completed,
	last_updated = excluded.last_updated`,
		string(progress.Source), category, progress.LastScrapedPage, progress.TotalPagesInCategory,
		progress.IsCompleted, progress.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save checkpoint: %w", err)
	}
	return nil
}

// ResetCheckpoint deletes the checkpoint and recreates it blank.
func (s *Store) ResetCheckpoint(ctx context.Context, source catalog.SourceID) (catalog.Progress, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return catalog.Progress{}, fmt.Errorf("sqlite: begin reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_progress WHERE source = ?`, string(source)); err != nil {
		return catalog.Progress{}, fmt.Errorf("sqlite: delete checkpoint: %w", err)
	}
	p := catalog.NewProgress(source, s.now().UTC())
	if _, err := tx.ExecContext(ctx, `INSERT INTO crawl_progress (source, last_updated) VALUES (?, ?)`,
		string(source), p.LastUpdated); err != nil {
		return catalog.Progress{}, fmt.Errorf("sqlite: recreate checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return catalog.Progress{}, fmt.Errorf("sqlite: commit reset: %w", err)
	}
	return p, nil
}
