package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// UpsertCategories inserts new categories and refreshes known ones, matched
// case-insensitively by name. New categories are appended after the current
// last position; known ones keep theirs.
func (s *Store) UpsertCategories(
	ctx context.Context,
	source catalog.SourceID,
	categories []catalog.Category,
) (summary catalog.UpsertSummary, err error) {
	if len(categories) == 0 {
		return summary, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return summary, fmt.Errorf("begin category upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, c := range categories {
		var inserted bool
		err = tx.QueryRow(ctx, `
INSERT INTO categories (source, name, name_key, url, slug, position)
VALUES ($1, $2, $3, $4, $5,
	(SELECT COALESCE(MAX(position) + 1, 0) FROM categories WHERE source = $1))
ON CONFLICT (source, name_key) DO UPDATE
SET name = EXCLUDED.name, url = EXCLUDED.url, slug = EXCLUDED.slug
RETURNING (xmax = 0)`,
			string(source), c.Name, catalog.NormalizeName(c.Name), c.URL, c.Slug,
		).Scan(&inserted)
		if err != nil {
			return catalog.UpsertSummary{}, fmt.Errorf("upsert category %q: %w", c.Name, err)
		}
		if inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return catalog.UpsertSummary{}, fmt.Errorf("commit category upsert: %w", err)
	}
	return summary, nil
}

// ListCategories returns categories in discovery order.
func (s *Store) ListCategories(ctx context.Context, source catalog.SourceID) ([]catalog.Category, error) {
	rows, err := s.pool.Query(ctx, `
SELECT name, url, slug, position FROM categories
WHERE source = $1
ORDER BY position`, string(source))
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()
	var out []catalog.Category
	for rows.Next() {
		c := catalog.Category{Source: source}
		if err := rows.Scan(&c.Name, &c.URL, &c.Slug, &c.Position); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCategories returns how many categories are known for source.
func (s *Store) CountCategories(ctx context.Context, source catalog.SourceID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM categories WHERE source = $1`, string(source)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	return n, nil
}
