package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

const selectProgress = `
SELECT source, last_scraped_category, last_scraped_page, total_pages_in_category, is_completed, last_updated
FROM crawl_progress WHERE source = $1`

// LoadCheckpoint returns the stored checkpoint, creating a blank one when absent.
func (s *Store) LoadCheckpoint(ctx context.Context, source catalog.SourceID) (catalog.Progress, error) {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO crawl_progress (source, last_updated) VALUES ($1, $2)
ON CONFLICT (source) DO NOTHING`, string(source), s.now()); err != nil {
		return catalog.Progress{}, fmt.Errorf("create checkpoint: %w", err)
	}
	p, err := scanProgress(s.pool.QueryRow(ctx, selectProgress, string(source)))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Progress{}, fmt.Errorf("load checkpoint %s: %w", source, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.Progress{}, fmt.Errorf("load checkpoint: %w", err)
	}
	return p, nil
}

// SaveCheckpoint overwrites the checkpoint for progress.Source.
func (s *Store) SaveCheckpoint(ctx context.Context, progress catalog.Progress) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_progress (
	source, last_scraped_category, last_scraped_page, total_pages_in_category, is_completed, last_updated
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source) DO UPDATE SET
	last_scraped_category = EXCLUDED.last_scraped_category,
	last_scraped_page = EXCLUDED.last_scraped_page,
	total_pages_in_category = EXCLUDED.total_pages_in_category,
	is_completed = EXCLUDED.is_completed,
	last_updated = EXCLUDED.last_updated`,
		string(progress.Source),
		progress.LastScrapedCategory,
		progress.LastScrapedPage,
		progress.TotalPagesInCategory,
		progress.IsCompleted,
		progress.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// ResetCheckpoint deletes the checkpoint and recreates it blank in one
// transaction.
func (s *Store) ResetCheckpoint(ctx context.Context, source catalog.SourceID) (p catalog.Progress, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return p, fmt.Errorf("begin reset: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if _, err = tx.Exec(ctx, `DELETE FROM crawl_progress WHERE source = $1`, string(source)); err != nil {
		return p, fmt.Errorf("delete checkpoint: %w", err)
	}
	p = catalog.NewProgress(source, s.now())
	if _, err = tx.Exec(ctx, `INSERT INTO crawl_progress (source, last_updated) VALUES ($1, $2)`,
		string(source), p.LastUpdated); err != nil {
		return catalog.Progress{}, fmt.Errorf("recreate checkpoint: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return catalog.Progress{}, fmt.Errorf("commit reset: %w", err)
	}
	return p, nil
}

func scanProgress(row pgx.Row) (catalog.Progress, error) {
	var (
		p      catalog.Progress
		source string
	)
	if err := row.Scan(
		&source,
		&p.LastScrapedCategory,
		&p.LastScrapedPage,
		&p.TotalPagesInCategory,
		&p.IsCompleted,
		&p.LastUpdated,
	); err != nil {
		return catalog.Progress{}, err
	}
	p.Source = catalog.SourceID(source)
	return p, nil
}
