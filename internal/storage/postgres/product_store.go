package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

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
	names := make([]string, len(keys))
	categories := make([]string, len(keys))
	for i, k := range keys {
		norm := catalog.Key(k.Name, k.Category)
		names[i], categories[i] = norm.Name, norm.Category
	}
	rows, err := s.pool.Query(ctx, `
SELECT p.name_key, p.category
FROM products p
JOIN unnest($2::text[], $3::text[]) AS k(name_key, category)
  ON p.name_key = k.name_key AND p.category = k.category
WHERE p.source = $1`, string(source), names, categories)
	if err != nil {
		return nil, fmt.Errorf("find existing products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k catalog.NaturalKey
		if err := rows.Scan(&k.Name, &k.Category); err != nil {
			return nil, fmt.Errorf("scan existing product: %w", err)
		}
		found[k] = true
	}
	return found, rows.Err()
}

// InsertIfAbsent returns catalog.ErrDuplicate when the natural key is taken.
func (s *Store) InsertIfAbsent(ctx context.Context, product catalog.Product) error {
	features, err := json.Marshal(nonNil(product.Features))
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	pricing := product.Pricing
	if pricing.Plans == nil {
		pricing.Plans = []catalog.Plan{}
	}
	pricingJSON, err := json.Marshal(pricing)
	if err != nil {
		return fmt.Errorf("marshal pricing: %w", err)
	}
	key := product.Key()
	tag, err := s.pool.Exec(ctx, `
INSERT INTO products (
	source, name, name_key, category, description, rating, review_count,
	features, pricing, vendor_name, vendor_website, logo, url, scraped_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (source, name_key, category) DO NOTHING`,
		string(product.Source),
		product.Name,
		key.Name,
		product.Category,
		product.Description,
		product.Rating,
		product.ReviewCount,
		features,
		pricingJSON,
		product.Vendor.Name,
		product.Vendor.Website,
		product.Logo,
		product.URL,
		product.ScrapedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %q: %w", product.Name, catalog.ErrDuplicate)
		}
		return fmt.Errorf("insert product: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	rows, err := s.pool.Query(ctx, `
SELECT source, name, category, description, rating, review_count, features, pricing,
       vendor_name, vendor_website, logo, url, scraped_at
FROM products
WHERE source = $1 AND ($2 = '' OR category = $2) AND rating >= $3
ORDER BY rating DESC, review_count DESC, scraped_at
LIMIT $4`, string(source), query.Category, query.MinRating, limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := []catalog.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var (
		p        catalog.Product
		source   string
		features []byte
		pricing  []byte
	)
	if err := row.Scan(
		&source,
		&p.Name,
		&p.Category,
		&p.Description,
		&p.Rating,
		&p.ReviewCount,
		&features,
		&pricing,
		&p.Vendor.Name,
		&p.Vendor.Website,
		&p.Logo,
		&p.URL,
		&p.ScrapedAt,
	); err != nil {
		return catalog.Product{}, fmt.Errorf("scan product: %w", err)
	}
	p.Source = catalog.SourceID(source)
	if err := json.Unmarshal(features, &p.Features); err != nil {
		return catalog.Product{}, fmt.Errorf("decode features of %q: %w", p.Name, err)
	}
	if err := json.Unmarshal(pricing, &p.Pricing); err != nil {
		return catalog.Product{}, fmt.Errorf("decode pricing of %q: %w", p.Name, err)
	}
	return p, nil
}

// CountProducts returns how many products are stored for source.
func (s *Store) CountProducts(ctx context.Context, source catalog.SourceID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM products WHERE source = $1`, string(source)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
