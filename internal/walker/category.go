package walker

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/ingest"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// walkCategory processes category from startPage to its last page in batches,
// checkpointing after each page. A listing fetch failure aborts the category.
func (w *Walker) walkCategory(ctx context.Context, r *run, category catalog.Category, startPage int) error {
	logger := w.logger.With(zap.String("run_id", r.info.ID), zap.String("category", category.Name))
	if startPage < 1 {
		startPage = 1
	}
	total := 0
	for page := startPage; ; page++ {
		if page > startPage {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		listing, err := w.fetchListing(ctx, category, page, logger)
		if err != nil {
			return err
		}
		if total == 0 {
			total = max(listing.TotalPages, page, 1)
			logger.Debug("pagination detected", zap.Int("total_pages", total), zap.Int("start_page", startPage))
		}

		inserted, err := w.processPage(ctx, r, category, page, listing.Candidates, logger)
		if err != nil {
			return err
		}
		r.cp.LastScrapedPage = page
		r.cp.TotalPagesInCategory = total
		if err := w.saveCheckpoint(context.WithoutCancel(ctx), r); err != nil {
			return err
		}
		w.emit(r, progress.Event{
			Stage:      progress.StagePageDone,
			Category:   category.Name,
			Page:       page,
			TotalPages: total,
			URL:        category.URL,
			Products:   int64(inserted),
		})
		logger.Info("page completed",
			zap.Int("page", page),
			zap.Int("total_pages", total),
			zap.Int("inserted", inserted),
		)

		if page >= total {
			return nil
		}
		if (page-startPage+1)%w.pacing.BatchSize == 0 {
			w.pauser.Pause(ctx, w.pacing.BatchPause)
		} else {
			w.pauser.Pause(ctx, w.pacing.PagePause)
		}
	}
}

// fetchListing fetches one listing page. A policy refusal yields an empty page
// so the cursor still advances.
func (w *Walker) fetchListing(
	ctx context.Context,
	category catalog.Category,
	page int,
	logger *zap.Logger,
) (catalog.ListingPage, error) {
	fetchCtx, cancel := detachedTimeout(ctx, w.pacing.FetchTimeout)
	defer cancel()
	listing, err := w.adapter.ProductLinks(fetchCtx, category.URL, page)
	if err == nil {
		return listing, nil
	}
	if errors.Is(err, catalog.ErrPolicyDenied) {
		logger.Warn("listing page denied by policy", zap.Int("page", page), zap.Error(err))
		return catalog.ListingPage{}, nil
	}
	return catalog.ListingPage{}, catalog.PageFetchError(category.URL, page, err)
}

// processPage resolves every candidate on one listing page in order and
// returns how many were inserted. Only store failures are returned.
func (w *Walker) processPage(
	ctx context.Context,
	r *run,
	category catalog.Category,
	page int,
	candidates []catalog.Candidate,
	logger *zap.Logger,
) (int, error) {
	unique := DedupeCandidates(candidates)
	survivors, known, err := w.ingestor.Prefilter(context.WithoutCancel(ctx), category.Name, unique)
	if err != nil {
		return 0, err
	}
	if known > 0 {
		w.emitKnown(r, category.Name, unique, survivors)
	}
	logger.Debug("candidates prefiltered",
		zap.Int("page", page),
		zap.Int("candidates", len(unique)),
		zap.Int("known", known),
	)

	inserted := 0
	for i, candidate := range survivors {
		if i > 0 {
			// The page in progress keeps its pacing after cancellation.
			w.pauser.Pause(context.WithoutCancel(ctx), w.pacing.ProductPause)
		}
		candCtx, cancel := detachedTimeout(ctx, w.pacing.FetchTimeout)
		res, err := w.ingestor.Ingest(candCtx, candidate, category.Name)
		cancel()
		if err != nil {
			return inserted, err
		}
		evt := progress.Event{
			Stage:    progress.StageIngest,
			Category: category.Name,
			Page:     page,
			URL:      candidate.URL,
		}
		switch res.Outcome {
		case ingest.Inserted:
			inserted++
			r.inserted++
			evt.Outcome = progress.OutcomeInserted
		case ingest.SkippedDuplicate:
			evt.Outcome = progress.OutcomeDuplicate
		default:
			evt.Outcome = progress.OutcomeFailed
			if res.Reason != nil {
				evt.Note = res.Reason.Error()
			}
		}
		w.emit(r, evt)
	}
	return inserted, nil
}

func (w *Walker) emitKnown(r *run, category string, all, survivors []catalog.Candidate) {
	kept := make(map[string]struct{}, len(survivors))
	for _, c := range survivors {
		kept[c.URL] = struct{}{}
	}
	for _, c := range all {
		if _, ok := kept[c.URL]; ok {
			continue
		}
		w.emit(r, progress.Event{
			Stage:    progress.StageIngest,
			Category: category,
			URL:      c.URL,
			Outcome:  progress.OutcomeDuplicate,
			Note:     "known before fetch",
		})
	}
}

// DedupeCandidates drops repeats of a URL or name, keeping first-seen order.
func DedupeCandidates(candidates []catalog.Candidate) []catalog.Candidate {
	seenURL := make(map[string]struct{}, len(candidates))
	seenName := make(map[string]struct{}, len(candidates))
	out := make([]catalog.Candidate, 0, len(candidates))
	for _, c := range candidates {
		url := strings.TrimSpace(c.URL)
		if url == "" {
			continue
		}
		if _, ok := seenURL[url]; ok {
			continue
		}
		name := catalog.NormalizeName(c.Name)
		if name != "" {
			if _, ok := seenName[name]; ok {
				continue
			}
			seenName[name] = struct{}{}
		}
		seenURL[url] = struct{}{}
		c.URL = url
		out = append(out, c)
	}
	return out
}
