package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

func runBatch(runID string, now time.Time, final progress.Stage) []progress.Event {
	return []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Source: catalog.SourceCapterra, Trigger: "manual"},
		{RunID: runID, TS: now, Stage: progress.StageCategoryStart, Source: catalog.SourceCapterra, Category: "CRM"},
		{
			RunID: runID, TS: now, Stage: progress.StageIngest, Source: catalog.SourceCapterra,
			Category: "CRM", Outcome: progress.OutcomeInserted, URL: "https://example.com/p/1",
		},
		{
			RunID: runID, TS: now, Stage: progress.StageIngest, Source: catalog.SourceCapterra,
			Category: "CRM", Outcome: progress.OutcomeDuplicate, URL: "https://example.com/p/2",
		},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Source: catalog.SourceCapterra, Category: "CRM", Page: 2, TotalPages: 3},
		{
			RunID: runID, TS: now.Add(90 * time.Second), Stage: final, Source: catalog.SourceCapterra, Trigger: "manual",
			Products: 1, Categories: 1, Dur: 90 * time.Second, Note: "boom",
		},
	}
}

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.NewString()
	require.NoError(t, sink.Consume(context.Background(), runBatch(runID, time.Now(), progress.StageRunDone)))

	source := string(catalog.SourceCapterra)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues(source, "manual")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues(source, "success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues(source, "error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning.WithLabelValues(source)))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesCompleted.WithLabelValues(source)))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.checkpointPage.WithLabelValues(source)))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.productsIngested.WithLabelValues(source, "inserted")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.productsIngested.WithLabelValues(source, "duplicate")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration))
}

func TestPrometheusSinkDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestPrometheusSinkIgnoresUnknownRunCompletion(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	evt := progress.Event{
		RunID:  "orphan",
		TS:     time.Now(),
		Stage:  progress.StageRunError,
		Source: catalog.SourceSoftwareAdvice,
	}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{evt}))
	source := string(catalog.SourceSoftwareAdvice)
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning.WithLabelValues(source)))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues(source, "error")))
}

func TestLogSinkWritesEvents(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	runID := uuid.NewString()
	require.NoError(t, sink.Consume(context.Background(), runBatch(runID, time.Now(), progress.StageRunDone)))
	require.Equal(t, 6, logs.Len())
	require.Equal(t, 2, logs.FilterLevelExact(zap.DebugLevel).Len())

	first := logs.All()[0].ContextMap()
	require.Equal(t, "RUN_START", first["stage"])
	require.Equal(t, "capterra", first["source"])
	require.NoError(t, sink.Close(context.Background()))
}

type fakeRunStore struct {
	mu       sync.Mutex
	started  []catalog.Run
	finished []finishCall
	err      error
	failFor  string
}

type finishCall struct {
	runID  string
	status catalog.RunStatus
	result catalog.CrawlResult
	errMsg *string
}

func (f *fakeRunStore) StartRun(_ context.Context, run catalog.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if run.ID == f.failFor {
		return errors.New("constraint violation")
	}
	f.started = append(f.started, run)
	return nil
}

func (f *fakeRunStore) FinishRun(
	_ context.Context,
	runID string,
	_ time.Time,
	status catalog.RunStatus,
	result catalog.CrawlResult,
	errMsg *string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if runID == f.failFor {
		return errors.New("constraint violation")
	}
	f.finished = append(f.finished, finishCall{runID: runID, status: status, result: result, errMsg: errMsg})
	return nil
}

func (f *fakeRunStore) ListRuns(context.Context, catalog.SourceID, int) ([]catalog.Run, error) {
	return nil, nil
}

func TestRunStoreSinkRecordsLifecycle(t *testing.T) {
	t.Parallel()

	store := &fakeRunStore{}
	sink := NewRunStoreSink(store, nil)
	id := uuid.NewString()

	require.NoError(t, sink.Consume(context.Background(), runBatch(id, time.Now(), progress.StageRunDone)))

	require.Len(t, store.started, 1)
	require.Equal(t, id, store.started[0].ID)
	require.Equal(t, catalog.RunRunning, store.started[0].Status)
	require.Equal(t, "manual", store.started[0].Trigger)
	require.Len(t, store.finished, 1)
	require.Equal(t, catalog.RunSuccess, store.finished[0].status)
	require.Equal(t, catalog.CrawlResult{CategoriesProcessed: 1, TotalProducts: 1}, store.finished[0].result)
	require.Nil(t, store.finished[0].errMsg)
}

func TestRunStoreSinkRecordsErrorNote(t *testing.T) {
	t.Parallel()

	store := &fakeRunStore{}
	sink := NewRunStoreSink(store, nil)

	require.NoError(t, sink.Consume(context.Background(), runBatch(uuid.NewString(), time.Now(), progress.StageRunError)))
	require.Len(t, store.finished, 1)
	require.Equal(t, catalog.RunError, store.finished[0].status)
	require.NotNil(t, store.finished[0].errMsg)
	require.Equal(t, "boom", *store.finished[0].errMsg)
}

func TestRunStoreSinkSurfacesErrors(t *testing.T) {
	t.Parallel()

	store := &fakeRunStore{err: errors.New("db down")}
	sink := NewRunStoreSink(store, nil)

	err := sink.Consume(context.Background(), runBatch(uuid.NewString(), time.Now(), progress.StageRunDone))
	require.ErrorContains(t, err, "db down")
}

func TestRunStoreSinkContinuesPastFailingRun(t *testing.T) {
	t.Parallel()

	bad, good := uuid.NewString(), uuid.NewString()
	store := &fakeRunStore{failFor: bad}
	sink := NewRunStoreSink(store, nil)

	now := time.Now()
	batch := append(runBatch(bad, now, progress.StageRunDone), runBatch(good, now, progress.StageRunDone)...)
	err := sink.Consume(context.Background(), batch)
	require.ErrorContains(t, err, "start run "+bad)
	require.ErrorContains(t, err, "finish run "+bad)

	require.Len(t, store.started, 1)
	require.Equal(t, good, store.started[0].ID)
	require.Len(t, store.finished, 1)
	require.Equal(t, good, store.finished[0].runID)
	require.Equal(t, catalog.RunSuccess, store.finished[0].status)
}

func TestRunStoreSinkKeepsRunIDVerbatim(t *testing.T) {
	t.Parallel()

	store := &fakeRunStore{}
	sink := NewRunStoreSink(store, nil)

	require.NoError(t, sink.Consume(context.Background(), runBatch("run-1", time.Now(), progress.StageRunDone)))
	require.Len(t, store.started, 1)
	require.Equal(t, "run-1", store.started[0].ID)
	require.Len(t, store.finished, 1)
	require.Equal(t, "run-1", store.finished[0].runID)
}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return "msg-1", nil
}

func TestPublisherSinkAnnouncesFinishedRuns(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	sink := NewPublisherSink(pub, "crawl-runs", nil)
	id := uuid.NewString()

	require.NoError(t, sink.Consume(context.Background(), runBatch(id, time.Now(), progress.StageRunError)))

	require.Equal(t, []string{"crawl-runs"}, pub.topics)
	msg, ok := pub.payloads[0].(RunNotification)
	require.True(t, ok)
	require.Equal(t, id, msg.RunID)
	require.Equal(t, "error", msg.Status)
	require.Equal(t, "boom", msg.Error)
	require.Equal(t, int64(1), msg.Products)
	require.Equal(t, "1m30s", msg.Duration)
}

func TestPublisherSinkNilPublisherIsNoop(t *testing.T) {
	t.Parallel()

	sink := NewPublisherSink(nil, "topic", nil)
	require.NoError(t, sink.Consume(context.Background(), runBatch("x", time.Now(), progress.StageRunDone)))
}
