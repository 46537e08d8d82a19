package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// ProgressStore keeps one checkpoint per source.
type ProgressStore struct {
	mu          sync.Mutex
	checkpoints map[catalog.SourceID]catalog.Progress
	now         func() time.Time
	saves       []catalog.Progress
}

// NewProgressStore constructs a ProgressStore; clock may be nil.
func NewProgressStore(clock catalog.Clock) *ProgressStore {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &ProgressStore{
		checkpoints: make(map[catalog.SourceID]catalog.Progress),
		now:         now,
	}
}

// LoadCheckpoint returns the stored checkpoint, creating a blank one when absent.
func (s *ProgressStore) LoadCheckpoint(_ context.Context, source catalog.SourceID) (catalog.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.checkpoints[source]
	if !ok {
		p = catalog.NewProgress(source, s.now())
		s.checkpoints[source] = p
	}
	return cloneProgress(p), nil
}

// SaveCheckpoint overwrites the checkpoint for progress.Source.
func (s *ProgressStore) SaveCheckpoint(_ context.Context, progress catalog.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := cloneProgress(progress)
	s.checkpoints[p.Source] = p
	s.saves = append(s.saves, p)
	return nil
}

// ResetCheckpoint replaces the checkpoint with a blank one.
func (s *ProgressStore) ResetCheckpoint(_ context.Context, source catalog.SourceID) (catalog.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := catalog.NewProgress(source, s.now())
	s.checkpoints[source] = p
	return cloneProgress(p), nil
}

// History returns every saved checkpoint in save order.
func (s *ProgressStore) History() []catalog.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Progress, len(s.saves))
	for i, p := range s.saves {
		out[i] = cloneProgress(p)
	}
	return out
}

func cloneProgress(p catalog.Progress) catalog.Progress {
	if p.LastScrapedCategory != nil {
		name := *p.LastScrapedCategory
		p.LastScrapedCategory = &name
	}
	return p
}
