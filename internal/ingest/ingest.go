// Package ingest decides, per candidate, whether a product is new and stores
// it at most once per natural key.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// Outcome classifies one ingest attempt.
type Outcome string

// Ingest outcomes.
const (
	Inserted         Outcome = "inserted"
	SkippedDuplicate Outcome = "duplicate"
	Failed           Outcome = "failed"
)

// Result is the outcome of ingesting one candidate. Reason is set for Failed.
type Result struct {
	Outcome Outcome
	Product catalog.Product
	Reason  error
}

// Ingestor runs the existence checks, detail fetch and insert for candidates
// from one source.
type Ingestor struct {
	store   catalog.RecordStore
	adapter catalog.SourceAdapter
	clock   catalog.Clock
	logger  *zap.Logger
}

// New constructs an Ingestor.
func New(store catalog.RecordStore, adapter catalog.SourceAdapter, clock catalog.Clock, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{store: store, adapter: adapter, clock: clock, logger: logger}
}

// Prefilter drops candidates already stored under category using one bulk
// existence query. Candidates without a name are passed through unchecked.
// It returns the survivors in their original order and the number dropped.
func (i *Ingestor) Prefilter(
	ctx context.Context,
	category string,
	candidates []catalog.Candidate,
) ([]catalog.Candidate, int, error) {
	keys := make([]catalog.NaturalKey, 0, len(candidates))
	for _, c := range candidates {
		if c.Name == "" {
			continue
		}
		keys = append(keys, c.Key(category))
	}
	if len(keys) == 0 {
		return candidates, 0, nil
	}
	existing, err := i.store.FindExisting(ctx, i.adapter.ID(), keys)
	if err != nil {
		return nil, 0, catalog.StoreError("prefilter candidates", err)
	}
	out := make([]catalog.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Name != "" && existing[c.Key(category)] {
			continue
		}
		out = append(out, c)
	}
	return out, len(candidates) - len(out), nil
}

// Ingest resolves one candidate. Per-candidate problems are reported as a
// Failed result; the returned error is non-nil only when the store is
// unavailable and the run must stop.
func (i *Ingestor) Ingest(ctx context.Context, candidate catalog.Candidate, category string) (Result, error) {
	source := i.adapter.ID()
	logger := i.logger.With(
		zap.String("source", string(source)),
		zap.String("category", category),
		zap.String("url", candidate.URL),
	)

	if candidate.Name != "" {
		known, err := i.exists(ctx, candidate.Key(category))
		if err != nil {
			return Result{}, err
		}
		if known {
			return Result{Outcome: SkippedDuplicate}, nil
		}
	}

	product, err := i.adapter.ProductDetail(ctx, candidate.URL)
	if err != nil {
		logger.Warn("product detail failed", zap.Error(err))
		return Result{Outcome: Failed, Reason: err}, nil
	}
	product.Source = source
	product.Category = category
	if product.URL == "" {
		product.URL = candidate.URL
	}
	if i.clock != nil {
		product.ScrapedAt = i.clock.Now()
	}
	if err := product.Validate(i.adapter.ErrorMarkers()); err != nil {
		logger.Info("discarding invalid record", zap.String("name", product.Name), zap.Error(err))
		return Result{Outcome: Failed, Product: product, Reason: err}, nil
	}

	known, err := i.exists(ctx, product.Key())
	if err != nil {
		return Result{}, err
	}
	if known {
		return Result{Outcome: SkippedDuplicate, Product: product}, nil
	}

	if err := i.store.InsertIfAbsent(ctx, product); err != nil {
		if errors.Is(err, catalog.ErrDuplicate) {
			logger.Debug("lost insert race", zap.String("name", product.Name))
			return Result{Outcome: SkippedDuplicate, Product: product}, nil
		}
		return Result{}, catalog.StoreError(fmt.Sprintf("insert %q", product.Name), err)
	}
	return Result{Outcome: Inserted, Product: product}, nil
}

func (i *Ingestor) exists(ctx context.Context, key catalog.NaturalKey) (bool, error) {
	found, err := i.store.FindExisting(ctx, i.adapter.ID(), []catalog.NaturalKey{key})
	if err != nil {
		return false, catalog.StoreError("recheck product", err)
	}
	return found[key], nil
}
