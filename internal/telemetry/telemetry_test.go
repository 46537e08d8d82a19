package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

type stubFetcher struct {
	resp catalog.FetchResponse
	err  error
}

func (s stubFetcher) Fetch(context.Context, catalog.FetchRequest) (catalog.FetchResponse, error) {
	return s.resp, s.err
}

func newRecorder() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	rec := tracetest.NewSpanRecorder()
	return rec, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestFetcherRecordsSuccessfulFetch(t *testing.T) {
	t.Parallel()

	rec, tp := newRecorder()
	f := NewFetcher(stubFetcher{resp: catalog.FetchResponse{StatusCode: 200, Body: []byte("<html/>"), UsedHeadless: true}}, tp)

	_, err := f.Fetch(context.Background(), catalog.FetchRequest{
		URL:    "https://www.capterra.com/categories/",
		Source: catalog.SourceCapterra,
		Kind:   catalog.PageCategories,
	})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "catalog.fetch", spans[0].Name())
	got := attrs(spans[0])
	require.Equal(t, "https://www.capterra.com/categories/", got["http.url"].AsString())
	require.Equal(t, "capterra", got["catalog.source"].AsString())
	require.Equal(t, "categories", got["catalog.page_kind"].AsString())
	require.Equal(t, int64(200), got["http.status_code"].AsInt64())
	require.Equal(t, int64(7), got["catalog.body_bytes"].AsInt64())
	require.True(t, got["catalog.headless"].AsBool())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestFetcherRecordsFailure(t *testing.T) {
	t.Parallel()

	rec, tp := newRecorder()
	cause := &catalog.StatusError{StatusCode: 503}
	f := NewFetcher(stubFetcher{err: cause}, tp)

	_, err := f.Fetch(context.Background(), catalog.FetchRequest{URL: "https://www.softwareadvice.com/crm/"})
	require.ErrorIs(t, err, cause)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "status 503", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
}

func TestSampler(t *testing.T) {
	t.Parallel()

	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestInitTracerProviderWithoutExporter(t *testing.T) {
	t.Parallel()

	tp, err := InitTracerProvider(context.Background(), Config{ServiceName: "catalog-crawler", Version: "test"})
	require.NoError(t, err)
	require.NoError(t, tp.Shutdown(context.Background()))
}
