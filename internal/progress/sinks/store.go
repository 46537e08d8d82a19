package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// RunStoreSink records run lifecycle events in the run history store.
type RunStoreSink struct {
	store  catalog.RunStore
	logger *zap.Logger
}

// NewRunStoreSink constructs a RunStoreSink for the provided store.
func NewRunStoreSink(store catalog.RunStore, logger *zap.Logger) *RunStoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunStoreSink{store: store, logger: logger}
}

// Consume persists RUN_START and terminal events. Other stages are ignored.
// A failing event is logged and skipped; the failures come back joined.
func (s *RunStoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		runID := evt.RunID
		switch evt.Stage {
		case progress.StageRunStart:
			run := catalog.Run{
				ID:        runID,
				Source:    evt.Source,
				Trigger:   evt.Trigger,
				StartedAt: evt.TS,
				Status:    catalog.RunRunning,
			}
			if err := s.store.StartRun(ctx, run); err != nil {
				s.logger.Warn("record run start failed", zap.String("run_id", runID), zap.Error(err))
				errs = append(errs, fmt.Errorf("start run %s: %w", runID, err))
			}
		case progress.StageRunDone, progress.StageRunError:
			status := catalog.RunSuccess
			var errMsg *string
			if evt.Stage == progress.StageRunError {
				status = catalog.RunError
				if evt.Note != "" {
					note := evt.Note
					errMsg = &note
				}
			}
			result := catalog.CrawlResult{
				CategoriesProcessed: int(evt.Categories),
				TotalProducts:       int(evt.Products),
			}
			if err := s.store.FinishRun(ctx, runID, evt.TS, status, result, errMsg); err != nil {
				s.logger.Warn("record run finish failed", zap.String("run_id", runID), zap.Error(err))
				errs = append(errs, fmt.Errorf("finish run %s: %w", runID, err))
				continue
			}
			s.logger.Debug("run recorded", zap.String("run_id", runID), zap.String("status", string(status)))
		}
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink.
func (s *RunStoreSink) Close(context.Context) error {
	return nil
}
