package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// StartRun records a running run.
func (s *Store) StartRun(ctx context.Context, run catalog.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO crawl_runs (id, source, trigger, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		run.ID, string(run.Source), run.Trigger, run.StartedAt.UTC(), string(run.Status))
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("run %s: %w", run.ID, catalog.ErrDuplicate)
		}
		return fmt.Errorf("sqlite: start run: %w", err)
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
	var msg sql.NullString
	if errMsg != nil {
		msg = sql.NullString{String: *errMsg, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE crawl_runs SET finished_at = ?, status = ?, products = ?, categories = ?, error_message = ?
WHERE id = ?`,
		finishedAt.UTC(), string(status), result.TotalProducts, result.CategoriesProcessed, msg, runID)
	if err != nil {
		return fmt.Errorf("sqlite: finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", runID, catalog.ErrNotFound)
	}
	return nil
}

// ListRuns returns the newest runs first. An empty source lists every
// source; a non-positive limit lists everything.
func (s *Store) ListRuns(ctx context.Context, source catalog.SourceID, limit int) ([]catalog.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source, trigger, started_at, finished_at, status, products, categories, error_message
FROM crawl_runs
WHERE (? = '' OR source = ?)
ORDER BY started_at DESC, rowid DESC
LIMIT ?`, string(source), string(source), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	out := []catalog.Run{}
	for rows.Next() {
		var (
			run      catalog.Run
			src      string
			status   string
			finished sql.NullTime
			msg      sql.NullString
		)
		if err := rows.Scan(&run.ID, &src, &run.Trigger, &run.StartedAt, &finished, &status,
			&run.Products, &run.Categories, &msg); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		run.Source = catalog.SourceID(src)
		run.Status = catalog.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		if msg.Valid {
			m := msg.String
			run.Error = &m
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
