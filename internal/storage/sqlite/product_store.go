package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// FindExisting returns the subset of keys already stored for source.
func (s *Store) FindExisting(
	ctx context.Context,
	source catalog.SourceID,
	keys []catalog.NaturalKey,
) (map[catalog.NaturalKey]bool, error) {
	found := make(map[catalog.NaturalKey]bool)
	if len(keys) == 0 {
		return found, nil
	}
	args := make([]any, 0, 1+2*len(keys))
	args = append(args, string(source))
	tuples := make([]string, len(keys))
	for i, k := range keys {
		norm := catalog.Key(k.Name, k.Category)
		args = append(args, norm.Name, norm.Category)
		tuples[i] = "(?, ?)"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name_key, category FROM products
WHERE source = ? AND (name_key, category) IN (VALUES `+strings.Join(tuples, ", ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find existing products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k catalog.NaturalKey
		if err := rows.Scan(&k.Name, &k.Category); err != nil {
			return nil, fmt.Errorf("sqlite: scan existing product: %w", err)
		}
		found[k] = true
	}
	return found, rows.Err()
}

// InsertIfAbsent returns catalog.ErrDuplicate when the natural key is taken.
func (s *Store) InsertIfAbsent(ctx context.Context, product catalog.Product) error {
	features := product.Features
	if features == nil {
		features = []string{}
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("sqlite: marshal features: %w", err)
	}
	pricing := product.Pricing
	if pricing.Plans == nil {
		pricing.Plans = []catalog.Plan{}
	}
	pricingJSON, err := json.Marshal(pricing)
	if err != nil {
		return fmt.Errorf("sqlite: marshal pricing: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO products (
	source, name, name_key, category, description, rating, review_count,
	features, pricing, vendor_name, vendor_website, logo, url, scraped_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source, name_key, category) DO NOTHING`,
		string(product.Source),
		product.Name,
		product.Key().Name,
		product.Category,
		product.Description,
		product.Rating,
		product.ReviewCount,
		string(featuresJSON),
		string(pricingJSON),
		product.Vendor.Name,
		product.Vendor.Website,
		product.Logo,
		product.URL,
		product.ScrapedAt.UTC(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("insert %q: %w", product.Name, catalog.ErrDuplicate)
		}
		return fmt.Errorf("sqlite: insert product: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("insert %q: %w", product.Name, catalog.ErrDuplicate)
	}
	return nil
}

// ListProducts filters by category and minimum rating, highest rated first.
func (s *Store) ListProducts(
	ctx context.Context,
	source catalog.SourceID,
	query catalog.ProductQuery,
) ([]catalog.Product, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = catalog.DefaultProductLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT source, name, category, description, rating, review_count, features, pricing,
       vendor_name, vendor_website, logo, url, scraped_at
FROM products
WHERE source = ? AND (? = '' OR category = ?) AND rating >= ?
ORDER BY rating DESC, review_count DESC, scraped_at
LIMIT ?`, string(source), query.Category, query.Category, query.MinRating, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list products: %w", err)
	}
	defer rows.Close()

	out := []catalog.Product{}
	for rows.Next() {
		var (
			p        catalog.Product
			src      string
			features string
			pricing  string
		)
		if err := rows.Scan(
			&src, &p.Name, &p.Category, &p.Description, &p.Rating, &p.ReviewCount,
			&features, &pricing, &p.Vendor.Name, &p.Vendor.Website, &p.Logo, &p.URL, &p.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan product: %w", err)
		}
		p.Source = catalog.SourceID(src)
		if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
			return nil, fmt.Errorf("sqlite: decode features of %q: %w", p.Name, err)
		}
		if err := json.Unmarshal([]byte(pricing), &p.Pricing); err != nil {
			return nil, fmt.Errorf("sqlite: decode pricing of %q: %w", p.Name, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountProducts returns how many products are stored for source.
func (s *Store) CountProducts(ctx context.Context, source catalog.SourceID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM products WHERE source = ?`, string(source)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count products: %w", err)
	}
	return n, nil
}
