// Package walker drives a full crawl of one source: it resumes from the
// durable checkpoint, walks categories and their paginated listings in
// order, and hands every candidate to the ingestor.
package walker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/ingest"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// Config wires a Walker's collaborators.
type Config struct {
	Adapter    catalog.SourceAdapter
	Records    catalog.RecordStore
	Categories catalog.CategoryStore
	Progress   catalog.ProgressStore
	Clock      catalog.Clock
	Pauser     catalog.Pauser
	Emitter    progress.Emitter
	Pacing     Pacing
	Logger     *zap.Logger
}

// Walker runs full crawls for a single source. Calls for the same source must
// not overlap; the session scheduler enforces that.
type Walker struct {
	adapter    catalog.SourceAdapter
	ingestor   *ingest.Ingestor
	categories catalog.CategoryStore
	progress   catalog.ProgressStore
	clock      catalog.Clock
	pauser     catalog.Pauser
	emitter    progress.Emitter
	pacing     Pacing
	logger     *zap.Logger
}

// RunInfo identifies one full-crawl execution.
type RunInfo struct {
	ID      string
	Trigger string
}

// New validates cfg and constructs a Walker.
func New(cfg Config) (*Walker, error) {
	switch {
	case cfg.Adapter == nil:
		return nil, errors.New("walker: adapter is required")
	case cfg.Records == nil:
		return nil, errors.New("walker: record store is required")
	case cfg.Categories == nil:
		return nil, errors.New("walker: category store is required")
	case cfg.Progress == nil:
		return nil, errors.New("walker: progress store is required")
	case cfg.Clock == nil:
		return nil, errors.New("walker: clock is required")
	}
	if cfg.Pauser == nil {
		cfg.Pauser = TimerPauser{}
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger.With(zap.String("source", string(cfg.Adapter.ID())))
	return &Walker{
		adapter:    cfg.Adapter,
		ingestor:   ingest.New(cfg.Records, cfg.Adapter, cfg.Clock, logger),
		categories: cfg.Categories,
		progress:   cfg.Progress,
		clock:      cfg.Clock,
		pauser:     cfg.Pauser,
		emitter:    cfg.Emitter,
		pacing:     cfg.Pacing.withDefaults(),
		logger:     logger,
	}, nil
}

// Source returns the source this walker crawls.
func (w *Walker) Source() catalog.SourceID {
	return w.adapter.ID()
}

// run carries per-execution state through a crawl.
type run struct {
	info     RunInfo
	started  time.Time
	cp       catalog.Progress
	result   catalog.CrawlResult
	inserted int64
}

// RunFullCrawl walks every remaining category from the checkpoint onward.
// Cancelling ctx stops the crawl at the next page or category boundary; the
// page in progress always finishes and is checkpointed first.
func (w *Walker) RunFullCrawl(ctx context.Context, info RunInfo) (catalog.CrawlResult, error) {
	r := &run{info: info, started: w.clock.Now()}
	w.emit(r, progress.Event{Stage: progress.StageRunStart})
	logger := w.logger.With(zap.String("run_id", info.ID), zap.String("trigger", info.Trigger))
	logger.Info("crawl started")

	err := w.crawl(ctx, r, logger)
	r.result.TotalProducts = int(r.inserted)
	dur := w.clock.Now().Sub(r.started)
	if dur < 0 {
		dur = 0
	}
	done := progress.Event{
		Stage:      progress.StageRunDone,
		Products:   int64(r.result.TotalProducts),
		Categories: int64(r.result.CategoriesProcessed),
		Dur:        dur,
	}
	if err != nil {
		done.Stage = progress.StageRunError
		done.Note = err.Error()
		w.emit(r, done)
		logger.Warn("crawl stopped",
			zap.Int("categories", r.result.CategoriesProcessed),
			zap.Int("products", r.result.TotalProducts),
			zap.Error(err),
		)
		return r.result, err
	}
	w.emit(r, done)
	logger.Info("crawl finished",
		zap.Int("categories", r.result.CategoriesProcessed),
		zap.Int("products", r.result.TotalProducts),
		zap.Duration("dur", dur),
	)
	return r.result, nil
}

func (w *Walker) crawl(ctx context.Context, r *run, logger *zap.Logger) error {
	source := w.adapter.ID()
	detached := context.WithoutCancel(ctx)

	cp, err := w.progress.LoadCheckpoint(detached, source)
	if err != nil {
		return catalog.StoreError("load checkpoint", err)
	}
	r.cp = cp
	if cp.IsCompleted {
		logger.Info("crawl already completed; reset the checkpoint to crawl again")
		return nil
	}

	categories, err := w.loadCategories(ctx)
	if err != nil {
		return err
	}
	if len(categories) == 0 {
		logger.Warn("no categories to crawl")
		return nil
	}

	start, resumePage := ResumePoint(categories, cp)
	for idx := start; idx < len(categories); idx++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl interrupted before category %q: %w", categories[idx].Name, err)
		}
		category := categories[idx]
		if idx > start {
			resumePage = 1
		}
		if !strings.EqualFold(category.Name, r.cp.CategoryName()) {
			name := category.Name
			r.cp.LastScrapedCategory = &name
			r.cp.LastScrapedPage = 0
			r.cp.TotalPagesInCategory = 0
			if err := w.saveCheckpoint(detached, r); err != nil {
				return err
			}
			resumePage = 1
		}
		w.emit(r, progress.Event{Stage: progress.StageCategoryStart, Category: category.Name, Page: resumePage})
		logger.Info("category started", zap.String("category", category.Name), zap.Int("page", resumePage))

		if err := w.walkCategory(ctx, r, category, resumePage); err != nil {
			if !errors.Is(err, catalog.ErrStoreUnavailable) && !errors.Is(err, context.Canceled) {
				if saveErr := w.saveCheckpoint(detached, r); saveErr != nil {
					logger.Error("persist checkpoint after category failure", zap.Error(saveErr))
				}
			}
			return fmt.Errorf("category %q: %w", category.Name, err)
		}
		r.result.CategoriesProcessed++

		if idx < len(categories)-1 {
			w.pauser.Pause(ctx, w.pacing.CategoryPause)
		}
	}

	r.cp.IsCompleted = true
	return w.saveCheckpoint(detached, r)
}

// loadCategories prefers the stored category list and falls back to discovery.
func (w *Walker) loadCategories(ctx context.Context) ([]catalog.Category, error) {
	source := w.adapter.ID()
	detached := context.WithoutCancel(ctx)
	categories, err := w.categories.ListCategories(detached, source)
	if err != nil {
		return nil, catalog.StoreError("list categories", err)
	}
	if len(categories) > 0 {
		return categories, nil
	}
	discovered, err := DiscoverCategories(ctx, w.adapter, w.categories, w.pacing.FetchTimeout)
	if err != nil {
		return nil, err
	}
	w.logger.Info("categories discovered", zap.Int("count", len(discovered)))
	return discovered, nil
}

// DiscoverCategories fetches the source's category list and upserts it.
func DiscoverCategories(
	ctx context.Context,
	adapter catalog.SourceAdapter,
	store catalog.CategoryStore,
	timeout time.Duration,
) ([]catalog.Category, error) {
	fetchCtx, cancel := detachedTimeout(ctx, timeout)
	defer cancel()
	discovered, err := adapter.CategoryList(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("discover categories: %w: %w", catalog.ErrPageFetch, err)
	}
	for i := range discovered {
		discovered[i].Source = adapter.ID()
		discovered[i].Position = i
	}
	if _, err := store.UpsertCategories(context.WithoutCancel(ctx), adapter.ID(), discovered); err != nil {
		return nil, catalog.StoreError("upsert categories", err)
	}
	return discovered, nil
}

// ResumePoint maps a checkpoint onto the current category list. It returns the
// category index to start at and the first page to fetch there. An unknown
// checkpoint category restarts from the first category.
func ResumePoint(categories []catalog.Category, cp catalog.Progress) (int, int) {
	name := cp.CategoryName()
	if name == "" {
		return 0, 1
	}
	for i, c := range categories {
		if !strings.EqualFold(c.Name, name) {
			continue
		}
		if cp.TotalPagesInCategory > 0 && cp.LastScrapedPage >= cp.TotalPagesInCategory {
			return i + 1, 1
		}
		return i, cp.LastScrapedPage + 1
	}
	return 0, 1
}

func (w *Walker) saveCheckpoint(ctx context.Context, r *run) error {
	r.cp.LastUpdated = w.clock.Now()
	if err := w.progress.SaveCheckpoint(ctx, r.cp); err != nil {
		return catalog.StoreError("save checkpoint", err)
	}
	return nil
}

func (w *Walker) emit(r *run, evt progress.Event) {
	evt.RunID = r.info.ID
	evt.Source = w.adapter.ID()
	evt.Trigger = r.info.Trigger
	if evt.TS.IsZero() {
		evt.TS = w.clock.Now()
	}
	w.emitter.Emit(evt)
}

// detachedTimeout returns a context that survives cancellation of ctx but is
// bounded by timeout.
func detachedTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, timeout)
}
