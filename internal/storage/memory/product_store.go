package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

type productKey struct {
	source catalog.SourceID
	key    catalog.NaturalKey
}

// ProductStore is an in-memory catalog.RecordStore. The map key enforces the
// natural-key uniqueness constraint.
type ProductStore struct {
	mu       sync.RWMutex
	products map[productKey]catalog.Product
	order    []productKey
}

// NewProductStore constructs an empty ProductStore.
func NewProductStore() *ProductStore {
	return &ProductStore{products: make(map[productKey]catalog.Product)}
}

// FindExisting returns the subset of keys already stored for source.
func (s *ProductStore) FindExisting(
	_ context.Context,
	source catalog.SourceID,
	keys []catalog.NaturalKey,
) (map[catalog.NaturalKey]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := make(map[catalog.NaturalKey]bool)
	for _, key := range keys {
		k := catalog.Key(key.Name, key.Category)
		if _, ok := s.products[productKey{source: source, key: k}]; ok {
			found[k] = true
		}
	}
	return found, nil
}

// InsertIfAbsent stores product unless its natural key is taken.
func (s *ProductStore) InsertIfAbsent(_ context.Context, product catalog.Product) error {
	k := productKey{source: product.Source, key: product.Key()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[k]; ok {
		return catalog.ErrDuplicate
	}
	s.products[k] = cloneProduct(product)
	s.order = append(s.order, k)
	return nil
}

// ListProducts filters by category and minimum rating, highest rated first.
func (s *ProductStore) ListProducts(
	_ context.Context,
	source catalog.SourceID,
	query catalog.ProductQuery,
) ([]catalog.Product, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = catalog.DefaultProductLimit
	}
	s.mu.RLock()
	out := make([]catalog.Product, 0, len(s.order))
	for _, k := range s.order {
		if k.source != source {
			continue
		}
		p := s.products[k]
		if query.Category != "" && p.Category != query.Category {
			continue
		}
		if p.Rating < query.MinRating {
			continue
		}
		out = append(out, cloneProduct(p))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].ReviewCount > out[j].ReviewCount
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountProducts returns how many products are stored for source.
func (s *ProductStore) CountProducts(_ context.Context, source catalog.SourceID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for k := range s.products {
		if k.source == source {
			count++
		}
	}
	return count, nil
}

// All returns every stored product in insertion order.
func (s *ProductStore) All() []catalog.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Product, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, cloneProduct(s.products[k]))
	}
	return out
}

func cloneProduct(p catalog.Product) catalog.Product {
	p.Features = append([]string(nil), p.Features...)
	p.Pricing.Plans = append([]catalog.Plan(nil), p.Pricing.Plans...)
	return p
}
