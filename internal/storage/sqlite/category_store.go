package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// UpsertCategories inserts new categories and refreshes known ones, matched
// case-insensitively by name. Known categories keep their position.
func (s *Store) UpsertCategories(
	ctx context.Context,
	source catalog.SourceID,
	categories []catalog.Category,
) (catalog.UpsertSummary, error) {
	var summary catalog.UpsertSummary
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("sqlite: begin category upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM categories WHERE source = ?`, string(source),
	).Scan(&next); err != nil {
		return summary, fmt.Errorf("sqlite: next category position: %w", err)
	}
	for _, c := range categories {
		key := catalog.NormalizeName(c.Name)
		var pos int
		err := tx.QueryRowContext(ctx,
			`SELECT position FROM categories WHERE source = ? AND name_key = ?`, string(source), key,
		).Scan(&pos)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
INSERT INTO categories (source, name, name_key, url, slug, position) VALUES (?, ?, ?, ?, ?, ?)`,
				string(source), c.Name, key, c.URL, c.Slug, next); err != nil {
				return catalog.UpsertSummary{}, fmt.Errorf("sqlite: insert category %q: %w", c.Name, err)
			}
			next++
			summary.Inserted++
		case err != nil:
			return catalog.UpsertSummary{}, fmt.Errorf("sqlite: find category %q: %w", c.Name, err)
		default:
			if _, err := tx.ExecContext(ctx, `
UPDATE categories SET name = ?, url = ?, slug = ? WHERE source = ? AND name_key = ?`,
				c.Name, c.URL, c.Slug, string(source), key); err != nil {
				return catalog.UpsertSummary{}, fmt.Errorf("sqlite: update category %q: %w", c.Name, err)
			}
			summary.Updated++
		}
	}
	if err := tx.Commit(); err != nil {
		return catalog.UpsertSummary{}, fmt.Errorf("sqlite: commit category upsert: %w", err)
	}
	return summary, nil
}

// ListCategories returns categories in discovery order.
func (s *Store) ListCategories(ctx context.Context, source catalog.SourceID) ([]catalog.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, url, slug, position FROM categories WHERE source = ? ORDER BY position`, string(source))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list categories: %w", err)
	}
	defer rows.Close()
	var out []catalog.Category
	for rows.Next() {
		c := catalog.Category{Source: source}
		if err := rows.Scan(&c.Name, &c.URL, &c.Slug, &c.Position); err != nil {
			return nil, fmt.Errorf("sqlite: scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCategories returns how many categories are known for source.
func (s *Store) CountCategories(ctx context.Context, source catalog.SourceID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM categories WHERE source = ?`, string(source)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count categories: %w", err)
	}
	return n, nil
}
