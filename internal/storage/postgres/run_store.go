package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// StartRun records a running run.
func (s *Store) StartRun(ctx context.Context, run catalog.Run) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_runs (id, source, trigger, started_at, status)
VALUES ($1, $2, $3, $4, $5)`,
		run.ID, string(run.Source), run.Trigger, run.StartedAt, string(run.Status))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("run %s: %w", run.ID, catalog.ErrDuplicate)
		}
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stamps the terminal state of a run.
func (s *Store) FinishRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status catalog.RunStatus,
	result catalog.CrawlResult,
	errMsg *string,
) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_runs
SET finished_at = $1, status = $2, products = $3, categories = $4, error_message = $5
WHERE id = $6`,
		finishedAt, string(status), result.TotalProducts, result.CategoriesProcessed, errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, catalog.ErrNotFound)
	}
	return nil
}

// ListRuns returns the newest runs first. An empty source lists every
// source; a non-positive limit lists everything.
func (s *Store) ListRuns(ctx context.Context, source catalog.SourceID, limit int) ([]catalog.Run, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, source, trigger, started_at, finished_at, status, products, categories, error_message
FROM crawl_runs
WHERE ($1 = '' OR source = $1)
ORDER BY started_at DESC
LIMIT $2`, string(source), lim)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []catalog.Run{}
	for rows.Next() {
		var (
			run    catalog.Run
			src    string
			status string
		)
		if err := rows.Scan(
			&run.ID,
			&src,
			&run.Trigger,
			&run.StartedAt,
			&run.FinishedAt,
			&status,
			&run.Products,
			&run.Categories,
			&run.Error,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Source = catalog.SourceID(src)
		run.Status = catalog.RunStatus(status)
		out = append(out, run)
	}
	return out, rows.Err()
}
