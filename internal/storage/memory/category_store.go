package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// CategoryStore is an in-memory catalog.CategoryStore.
type CategoryStore struct {
	mu         sync.RWMutex
	categories map[catalog.SourceID][]catalog.Category
}

// NewCategoryStore constructs an empty CategoryStore.
func NewCategoryStore() *CategoryStore {
	return &CategoryStore{categories: make(map[catalog.SourceID][]catalog.Category)}
}

// UpsertCategories inserts new categories and refreshes the URL of known ones, matched by name.
func (s *CategoryStore) UpsertCategories(
	_ context.Context,
	source catalog.SourceID,
	categories []catalog.Category,
) (catalog.UpsertSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var summary catalog.UpsertSummary
	existing := s.categories[source]
	for _, c := range categories {
		c.Source = source
		idx := indexByName(existing, c.Name)
		if idx >= 0 {
			c.Position = existing[idx].Position
			existing[idx] = c
			summary.Updated++
			continue
		}
		c.Position = len(existing)
		existing = append(existing, c)
		summary.Inserted++
	}
	s.categories[source] = existing
	return summary, nil
}

// ListCategories returns categories in discovery order.
func (s *CategoryStore) ListCategories(_ context.Context, source catalog.SourceID) ([]catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]catalog.Category(nil), s.categories[source]...), nil
}

// CountCategories returns how many categories are known for source.
func (s *CategoryStore) CountCategories(_ context.Context, source catalog.SourceID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.categories[source]), nil
}

func indexByName(categories []catalog.Category, name string) int {
	for i, c := range categories {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}
