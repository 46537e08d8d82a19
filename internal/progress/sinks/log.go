package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event. Ingest events are logged at debug level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("source", string(evt.Source)),
		}
		if evt.Trigger != "" {
			fields = append(fields, zap.String("trigger", evt.Trigger))
		}
		if evt.Category != "" {
			fields = append(fields, zap.String("category", evt.Category))
		}
		if evt.Page > 0 {
			fields = append(fields, zap.Int("page", evt.Page), zap.Int("total_pages", evt.TotalPages))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", string(evt.Outcome)))
		}
		if evt.Products > 0 || evt.Stage == progress.StageRunDone {
			fields = append(fields, zap.Int64("products", evt.Products))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageIngest {
			s.logger.Debug("crawl event", fields...)
			continue
		}
		s.logger.Info("crawl event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
