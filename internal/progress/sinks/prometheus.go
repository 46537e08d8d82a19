package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus collectors.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   *prometheus.GaugeVec
	runDuration   *prometheus.HistogramVec

	pagesCompleted   *prometheus.CounterVec
	productsIngested *prometheus.CounterVec
	checkpointPage   *prometheus.GaugeVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_runs_started_total",
			Help: "Crawl runs started per source.",
		}, []string{"source", "trigger"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_runs_completed_total",
			Help: "Crawl runs completed per source and result.",
		}, []string{"source", "result"}),
		runsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalog_runs_running",
			Help: "Crawl runs currently in flight per source.",
		}, []string{"source"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_run_duration_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{10, 60, 300, 600, 1200, 1800, 3600},
		}, []string{"source", "result"}),
		pagesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_pages_completed_total",
			Help: "Listing pages fully processed and checkpointed.",
		}, []string{"source"}),
		productsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_products_ingested_total",
			Help: "Ingest attempts per source and outcome.",
		}, []string{"source", "outcome"}),
		checkpointPage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "catalog_checkpoint_page",
			Help: "Last fully completed listing page per source.",
		}, []string{"source"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pagesCompleted,
		s.productsIngested,
		s.checkpointPage,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		source := string(evt.Source)
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.WithLabelValues(source, triggerLabel(evt.Trigger)).Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.WithLabelValues(source).Inc()
			}
		case progress.StageRunDone:
			s.finishRun(evt, "success")
		case progress.StageRunError:
			s.finishRun(evt, "error")
		case progress.StagePageDone:
			s.pagesCompleted.WithLabelValues(source).Inc()
			s.checkpointPage.WithLabelValues(source).Set(float64(evt.Page))
		case progress.StageIngest:
			s.productsIngested.WithLabelValues(source, string(evt.Outcome)).Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	source := string(evt.Source)
	s.runsCompleted.WithLabelValues(source, result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(source, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.WithLabelValues(source).Dec()
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func triggerLabel(trigger string) string {
	if trigger == "" {
		return "unknown"
	}
	return trigger
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
