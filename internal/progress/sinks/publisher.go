package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// RunNotification is the payload published when a run finishes.
type RunNotification struct {
	RunID      string           `json:"run_id"`
	Source     catalog.SourceID `json:"source"`
	Trigger    string           `json:"trigger,omitempty"`
	Status     string           `json:"status"`
	Categories int64            `json:"categories"`
	Products   int64            `json:"products"`
	Duration   string           `json:"duration"`
	FinishedAt time.Time        `json:"finished_at"`
	Error      string           `json:"error,omitempty"`
}

// PublisherSink announces finished runs on a topic.
type PublisherSink struct {
	publisher catalog.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink constructs a PublisherSink.
func NewPublisherSink(pub catalog.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: pub, topic: topic, logger: logger}
}

// Consume publishes one notification per RUN_DONE or RUN_ERROR event.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageRunDone && evt.Stage != progress.StageRunError {
			continue
		}
		msg := RunNotification{
			RunID:      evt.RunID,
			Source:     evt.Source,
			Trigger:    evt.Trigger,
			Status:     string(catalog.RunSuccess),
			Categories: evt.Categories,
			Products:   evt.Products,
			Duration:   evt.Dur.String(),
			FinishedAt: evt.TS,
		}
		if evt.Stage == progress.StageRunError {
			msg.Status = string(catalog.RunError)
			msg.Error = evt.Note
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			return fmt.Errorf("publish run %s: %w", msg.RunID, err)
		}
		s.logger.Debug("run notification published", zap.String("run_id", msg.RunID), zap.String("message_id", id))
	}
	return nil
}

// Close implements progress.Sink.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
