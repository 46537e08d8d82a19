package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/fake"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/session"
	fakesource "github.com/JakeFAU/catalog-crawler/internal/source/fake"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

type fakeSession struct {
	mu         sync.Mutex
	active     bool
	startErr   error
	triggerErr error
	triggered  []catalog.SourceID
	inFlight   map[catalog.SourceID]string
}

func (f *fakeSession) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.active {
		return fmt.Errorf("start session: %w", catalog.ErrAlreadyActive)
	}
	f.active = true
	return nil
}

func (f *fakeSession) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.active
	f.active = false
	return was
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := session.Status{Active: f.active}
	for source, runID := range f.inFlight {
		st.Sources = append(st.Sources, session.SourceStatus{Source: source, InFlight: true, RunID: runID})
		st.AnyInFlight = true
	}
	return st
}

func (f *fakeSession) TriggerNow(_ context.Context, source catalog.SourceID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggerErr != nil {
		return "", f.triggerErr
	}
	f.triggered = append(f.triggered, source)
	return "run-1", nil
}

type failingRecords struct {
	catalog.RecordStore
}

func (failingRecords) ListProducts(context.Context, catalog.SourceID, catalog.ProductQuery) ([]catalog.Product, error) {
	return nil, errors.New("connection refused")
}

type testEnv struct {
	server   *Server
	session  *fakeSession
	records  *memory.ProductStore
	progress *memory.ProgressStore
	runs     *memory.RunStore
	adapter  *fakesource.Adapter
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config, *Deps)) *testEnv {
	t.Helper()
	clock := fake.New(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	env := &testEnv{
		session:  &fakeSession{},
		records:  memory.NewProductStore(),
		progress: memory.NewProgressStore(clock),
		runs:     memory.NewRunStore(),
		adapter:  fakesource.New(catalog.SourceCapterra),
	}
	deps := Deps{
		Session:    env.session,
		Records:    env.records,
		Categories: memory.NewCategoryStore(),
		Progress:   env.progress,
		Runs:       env.runs,
		Adapters:   map[catalog.SourceID]catalog.SourceAdapter{catalog.SourceCapterra: env.adapter},
	}
	cfg := config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Crawler: config.CrawlerConfig{FetchTimeoutSeconds: 5},
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}
	env.server = NewServer(deps, cfg, zap.NewNop())
	return env
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzReportsStoreFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(_ *config.Config, d *Deps) {
		d.Ready = func(context.Context) error { return errors.New("db down") }
	})
	rec := env.do(t, http.MethodGet, "/readyz")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_StartSessionTwiceConflicts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/session/start")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, true, decode(t, rec)["active"])

	rec = env.do(t, http.MethodPost, "/v1/session/start")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "session already active")
}

func TestServer_StartSessionFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.session.startErr = errors.New("boom")
	rec := env.do(t, http.MethodPost, "/v1/session/start")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StopAndStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/session/start")

	rec := env.do(t, http.MethodGet, "/v1/session/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["active"])

	rec = env.do(t, http.MethodPost, "/v1/session/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["stopped"])

	rec = env.do(t, http.MethodPost, "/v1/session/stop")
	require.Equal(t, false, decode(t, rec)["stopped"])
}

func TestServer_CrawlNow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/sources/capterra/crawl")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "run-1", decode(t, rec)["run_id"])
	require.Equal(t, []catalog.SourceID{catalog.SourceCapterra}, env.session.triggered)

	env.session.triggerErr = fmt.Errorf("run in flight: %w", catalog.ErrAlreadyActive)
	rec = env.do(t, http.MethodPost, "/v1/sources/capterra/crawl")
	require.Equal(t, http.StatusConflict, rec.Code)

	env.session.triggerErr = catalog.UnknownSourceError("softwareadvice")
	rec = env.do(t, http.MethodPost, "/v1/sources/softwareadvice/crawl")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/sources/g2/crawl")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ProgressReport(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.records.InsertIfAbsent(ctx, catalog.Product{
		Source: catalog.SourceCapterra, Name: "Acme", Category: "CRM", Vendor: catalog.Vendor{Name: "Acme"},
	}))
	category := "CRM"
	require.NoError(t, env.progress.SaveCheckpoint(ctx, catalog.Progress{
		Source:               catalog.SourceCapterra,
		LastScrapedCategory:  &category,
		LastScrapedPage:      2,
		TotalPagesInCategory: 4,
	}))

	rec := env.do(t, http.MethodGet, "/v1/sources/capterra/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	var report progressReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 1, report.TotalProducts)
	require.Equal(t, 0, report.TotalCategories)
	require.Equal(t, "CRM", report.Checkpoint.CategoryName())
	require.Equal(t, 2, report.Checkpoint.LastScrapedPage)
	require.False(t, report.IsCompleted)
}

func TestServer_ListProducts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	for i, rating := range []float64{3.5, 4.8, 4.2} {
		require.NoError(t, env.records.InsertIfAbsent(ctx, catalog.Product{
			Source:   catalog.SourceCapterra,
			Name:     fmt.Sprintf("Tool %d", i),
			Category: "CRM",
			Rating:   rating,
			Vendor:   catalog.Vendor{Name: "Vendor"},
		}))
	}

	rec := env.do(t, http.MethodGet, "/v1/sources/capterra/products?category=CRM&min_rating=4&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count    int               `json:"count"`
		Products []catalog.Product `json:"products"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	require.Equal(t, "Tool 1", body.Products[0].Name)
	require.Equal(t, "Tool 2", body.Products[1].Name)

	rec = env.do(t, http.MethodGet, "/v1/sources/capterra/products?limit=0")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/sources/capterra/products?min_rating=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListProductsStoreFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(_ *config.Config, d *Deps) {
		d.Records = failingRecords{}
	})
	rec := env.do(t, http.MethodGet, "/v1/sources/capterra/products")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
}

func TestServer_ResetProgress(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	category := "CRM"
	require.NoError(t, env.progress.SaveCheckpoint(ctx, catalog.Progress{
		Source:              catalog.SourceCapterra,
		LastScrapedCategory: &category,
		LastScrapedPage:     3,
		IsCompleted:         true,
	}))

	rec := env.do(t, http.MethodPost, "/v1/sources/capterra/reset")
	require.Equal(t, http.StatusOK, rec.Code)

	cp, err := env.progress.LoadCheckpoint(ctx, catalog.SourceCapterra)
	require.NoError(t, err)
	require.Nil(t, cp.LastScrapedCategory)
	require.Zero(t, cp.LastScrapedPage)
	require.False(t, cp.IsCompleted)
}

func TestServer_ResetRefusedWhileRunInFlight(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.session.inFlight = map[catalog.SourceID]string{catalog.SourceCapterra: "run-7"}
	ctx := context.Background()
	category := "CRM"
	require.NoError(t, env.progress.SaveCheckpoint(ctx, catalog.Progress{
		Source:              catalog.SourceCapterra,
		LastScrapedCategory: &category,
		LastScrapedPage:     2,
	}))

	rec := env.do(t, http.MethodPost, "/v1/sources/capterra/reset")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "run-7", decode(t, rec)["run_id"])

	cp, err := env.progress.LoadCheckpoint(ctx, catalog.SourceCapterra)
	require.NoError(t, err)
	require.Equal(t, "CRM", cp.CategoryName())
	require.Equal(t, 2, cp.LastScrapedPage)
}

func TestServer_DiscoverCategories(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.adapter.AddCategory("CRM", []string{"Acme"})
	env.adapter.AddCategory("Accounting", []string{"Ledger"})

	rec := env.do(t, http.MethodPost, "/v1/sources/capterra/categories/discover")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(2), decode(t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/v1/sources/capterra/progress")
	require.Equal(t, float64(2), decode(t, rec)["total_categories"])

	rec = env.do(t, http.MethodPost, "/v1/sources/softwareadvice/categories/discover")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListRuns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.runs.StartRun(ctx, catalog.Run{
		ID: "a", Source: catalog.SourceCapterra, StartedAt: started, Status: catalog.RunRunning,
	}))
	require.NoError(t, env.runs.StartRun(ctx, catalog.Run{
		ID: "b", Source: catalog.SourceSoftwareAdvice, StartedAt: started.Add(time.Minute), Status: catalog.RunRunning,
	}))

	rec := env.do(t, http.MethodGet, "/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["runs"], 2)

	rec = env.do(t, http.MethodGet, "/v1/sources/capterra/runs")
	require.Len(t, decode(t, rec)["runs"], 1)

	rec = env.do(t, http.MethodGet, "/v1/runs?source=softwareadvice&limit=1")
	require.Len(t, decode(t, rec)["runs"], 1)

	rec = env.do(t, http.MethodGet, "/v1/runs?source=g2")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_APIKeyRequired(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *config.Config, _ *Deps) {
		c.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	})

	rec := env.do(t, http.MethodGet, "/v1/session/status")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/session/status?api_key=secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *config.Config, _ *Deps) {
		c.Server.CORSOrigins = []string{"https://dashboard.example.com"}
	})
	req := httptest.NewRequest(http.MethodOptions, "/v1/session/status", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
}
