package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// RunStore keeps crawl run history in memory.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]catalog.Run
	order []string
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]catalog.Run)}
}

// StartRun records a running run.
func (s *RunStore) StartRun(_ context.Context, run catalog.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, catalog.ErrDuplicate)
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return nil
}

// FinishRun stamps the terminal state of a run.
func (s *RunStore) FinishRun(
	_ context.Context,
	runID string,
	finishedAt time.Time,
	status catalog.RunStatus,
	result catalog.CrawlResult,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, catalog.ErrNotFound)
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.Products = result.TotalProducts
	run.Categories = result.CategoriesProcessed
	run.Error = errMsg
	s.runs[runID] = run
	return nil
}

// ListRuns returns the newest runs first. An empty source lists every source.
func (s *RunStore) ListRuns(_ context.Context, source catalog.SourceID, limit int) ([]catalog.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if source != "" && run.Source != source {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
