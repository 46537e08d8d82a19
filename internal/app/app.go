// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/archive"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/promote"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/retry"
	"github.com/JakeFAU/catalog-crawler/internal/headless/detector"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/policy/robots"
	"github.com/JakeFAU/catalog-crawler/internal/policy/simple"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-crawler/internal/session"
	"github.com/JakeFAU/catalog-crawler/internal/source"
	"github.com/JakeFAU/catalog-crawler/internal/source/capterra"
	"github.com/JakeFAU/catalog-crawler/internal/source/softwareadvice"
	"github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
	"github.com/JakeFAU/catalog-crawler/internal/walker"
)

// version is stamped into traces; override with -ldflags at build time.
var version = "dev"

// App holds the shared, long-lived services. It is built once at startup and
// handed to the commands and the API server.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  catalog.TimerClock
	ids    catalog.IDGenerator

	records    catalog.RecordStore
	categories catalog.CategoryStore
	progress   catalog.ProgressStore
	runs       catalog.RunStore
	ping       func(context.Context) error

	adapters  map[catalog.SourceID]catalog.SourceAdapter
	walkers   map[catalog.SourceID]*walker.Walker
	hub       *progress.Hub
	scheduler *session.Scheduler

	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

type options struct {
	fetcher    catalog.Fetcher
	clock      catalog.TimerClock
	ids        catalog.IDGenerator
	pauser     catalog.Pauser
	publisher  catalog.Publisher
	registerer prometheus.Registerer
}

// Option overrides a default collaborator, mainly for tests.
type Option func(*options)

// WithFetcher replaces the configured fetch chain.
func WithFetcher(f catalog.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithClock replaces the system clock.
func WithClock(c catalog.TimerClock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator replaces the UUID run ID generator.
func WithIDGenerator(g catalog.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithPauser replaces the timer-backed pauser used between crawl steps.
func WithPauser(p catalog.Pauser) Option {
	return func(o *options) { o.pauser = p }
}

// WithPublisher replaces the configured run notification publisher.
func WithPublisher(p catalog.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRegisterer registers progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New builds every service named by cfg. It fails fast; anything opened
// before the failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.ids == nil {
		o.ids = uuid.New()
	}
	if o.pauser == nil {
		o.pauser = walker.TimerPauser{}
	}

	metrics.Init()
	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    o.clock,
		ids:      o.ids,
		adapters: make(map[catalog.SourceID]catalog.SourceAdapter),
		walkers:  make(map[catalog.SourceID]*walker.Walker),
	}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	logger.Info("initializing application services",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("fetch_mode", cfg.Crawler.FetchMode),
		zap.Strings("sources", cfg.Sources.Enabled),
	)

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}

	fetcher := o.fetcher
	if fetcher == nil {
		if fetcher, err = a.buildFetcher(ctx, o.pauser); err != nil {
			return nil, err
		}
	}

	ids, err := cfg.SourceIDs()
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}
	policy := a.buildPolicy()
	for _, id := range ids {
		adapter, err := newAdapter(id, fetcher, policy, logger)
		if err != nil {
			return nil, err
		}
		a.adapters[id] = adapter
	}

	publisher, err := a.buildPublisher(ctx, o.publisher)
	if err != nil {
		return nil, err
	}
	if err := a.initHub(publisher, o.registerer); err != nil {
		return nil, err
	}

	runners := make([]session.Runner, 0, len(ids))
	for _, id := range ids {
		w, err := walker.New(walker.Config{
			Adapter:    a.adapters[id],
			Records:    a.records,
			Categories: a.categories,
			Progress:   a.progress,
			Clock:      a.clock,
			Pauser:     o.pauser,
			Emitter:    a.hub,
			Pacing:     pacingFor(cfg),
			Logger:     logger.Named("walker"),
		})
		if err != nil {
			return nil, fmt.Errorf("build walker for %s: %w", id, err)
		}
		a.walkers[id] = w
		runners = append(runners, w)
	}

	a.scheduler, err = session.New(
		session.Config{
			Window:         minutes(cfg.Session.WindowMinutes),
			Interval:       minutes(cfg.Session.IntervalMinutes),
			Offset:         minutes(cfg.Session.OffsetMinutes),
			KickoffStagger: minutes(cfg.Session.KickoffStaggerMinutes),
		},
		a.clock,
		a.ids,
		logger.Named("session"),
		runners,
		session.WithTriggerObserver(func(source catalog.SourceID, outcome string) {
			metrics.ObserveSessionTrigger(string(source), outcome)
		}),
		session.WithActiveObserver(metrics.SetSessionActive),
	)
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:      a.cfg.Storage.DSN,
			MaxConns: a.cfg.Storage.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.addCloser("postgres", store.Close)
		if a.cfg.Storage.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		a.records, a.categories, a.progress, a.runs = store, store, store, store
		a.ping = store.Ping
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath, a.clock)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.addCloser("sqlite", store.Close)
		a.records, a.categories, a.progress, a.runs = store, store, store, store
		a.ping = store.Ping
	case config.DriverMemory:
		a.records = memory.NewProductStore()
		a.categories = memory.NewCategoryStore()
		a.progress = memory.NewProgressStore(a.clock)
		a.runs = memory.NewRunStore()
		a.ping = func(context.Context) error { return nil }
	default:
		return fmt.Errorf("unknown storage driver: %s", a.cfg.Storage.Driver)
	}
	return nil
}

// buildFetcher assembles plain HTTP, headless or promoting fetches behind the
// per-host rate limiter and the retry loop, then optional tracing and the
// optional page archive.
func (a *App) buildFetcher(ctx context.Context, pauser catalog.Pauser) (catalog.Fetcher, error) {
	cfg := a.cfg
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})

	var fetcher catalog.Fetcher = httpFetcher
	if cfg.Crawler.FetchMode != config.FetchModeHTTP {
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.addCloser("headless", func() error {
			browser.Close()
			return nil
		})
		fetcher = browser
		if cfg.Crawler.FetchMode == config.FetchModeAuto {
			fetcher = promote.New(
				httpFetcher,
				browser,
				detector.NewHeuristic(cfg.Headless.PromotionThreshold, renderMarkers()),
				a.logger.Named("promote"),
			)
		}
	}

	fetcher = ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RateLimitRPS,
		DefaultBurst: cfg.Crawler.RateLimitBurst,
	}).Wrap(fetcher)

	if cfg.Crawler.MaxRetries > 0 {
		fetcher = retry.New(fetcher, retry.NewExponentialPolicy(cfg.Crawler.MaxRetries+1), pauser, a.logger.Named("retry"))
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: "catalog-crawler",
			Version:     version,
			ProjectID:   cfg.Tracing.ProjectID,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.addCloser("tracing", func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		})
		fetcher = telemetry.NewFetcher(fetcher, tp)
	}

	if !cfg.Archive.Enabled {
		return fetcher, nil
	}
	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	return archive.New(fetcher, blobs, a.clock, a.logger), nil
}

func (a *App) buildBlobStore(ctx context.Context) (catalog.BlobStore, error) {
	cfg := a.cfg.Archive
	switch cfg.Driver {
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.addCloser("gcs", store.Close)
		a.logger.Info("archiving pages to GCS", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		a.logger.Info("archiving pages to disk", zap.String("dir", cfg.BaseDir))
		return store, nil
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver: %s", cfg.Driver)
	}
}

func (a *App) buildPolicy() catalog.CompliancePolicy {
	policies := simple.All{simple.SameSite{}}
	if blocked := simple.NewBlocklist(a.cfg.Crawler.BlockedHosts); blocked != nil {
		policies = append(policies, blocked)
	}
	if a.cfg.Crawler.RespectRobots {
		policies = append(policies, robots.New(robots.Config{
			UserAgent: a.cfg.Crawler.UserAgent,
		}, a.logger))
	}
	return policies
}

func (a *App) buildPublisher(ctx context.Context, override catalog.Publisher) (catalog.Publisher, error) {
	if override != nil {
		return override, nil
	}
	if !a.cfg.Notify.Enabled {
		return nil, nil
	}
	switch a.cfg.Notify.Driver {
	case "pubsub":
		pub, err := pubsubpublisher.Open(ctx, a.cfg.Notify.ProjectID, a.cfg.Notify.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.addCloser("pubsub", pub.Close)
		a.logger.Info("publishing run notifications", zap.String("topic", a.cfg.Notify.Topic))
		return pub, nil
	case "memory":
		return memorypublisher.New(), nil
	default:
		return nil, fmt.Errorf("unknown notify driver: %s", a.cfg.Notify.Driver)
	}
}

func (a *App) initHub(publisher catalog.Publisher, reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(a.logger.Named("progress")),
		promSink,
		sinks.NewRunStoreSink(a.runs, a.logger.Named("runs")),
	}
	if publisher != nil {
		hubSinks = append(hubSinks, sinks.NewPublisherSink(publisher, a.cfg.Notify.Topic, a.logger.Named("notify")))
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("hub")}, hubSinks...)
	return nil
}

func newAdapter(
	id catalog.SourceID,
	fetcher catalog.Fetcher,
	policy catalog.CompliancePolicy,
	logger *zap.Logger,
) (catalog.SourceAdapter, error) {
	switch id {
	case catalog.SourceCapterra:
		return capterra.New(source.NewClient(capterra.Site, fetcher, policy, logger)), nil
	case catalog.SourceSoftwareAdvice:
		return softwareadvice.New(source.NewClient(softwareadvice.Site, fetcher, policy, logger)), nil
	default:
		return nil, catalog.UnknownSourceError(string(id))
	}
}

func renderMarkers() map[catalog.PageKind][]string {
	out := make(map[catalog.PageKind][]string)
	for _, markers := range []map[catalog.PageKind][]string{capterra.RenderMarkers, softwareadvice.RenderMarkers} {
		for kind, values := range markers {
			out[kind] = append(out[kind], values...)
		}
	}
	return out
}

func pacingFor(cfg config.Config) walker.Pacing {
	c := cfg.Crawler
	return walker.Pacing{
		BatchSize:     c.BatchSize,
		PagePause:     time.Duration(c.PagePauseMs) * time.Millisecond,
		ProductPause:  time.Duration(c.ProductPauseMs) * time.Millisecond,
		BatchPause:    time.Duration(c.BatchPauseSeconds) * time.Second,
		CategoryPause: time.Duration(c.CategoryPauseSeconds) * time.Second,
		FetchTimeout:  cfg.FetchTimeout(),
	}
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the clock shared by every component.
func (a *App) Clock() catalog.TimerClock { return a.clock }

// IDs returns the run ID generator.
func (a *App) IDs() catalog.IDGenerator { return a.ids }

// Records returns the product store.
func (a *App) Records() catalog.RecordStore { return a.records }

// Categories returns the category store.
func (a *App) Categories() catalog.CategoryStore { return a.categories }

// Progress returns the checkpoint store.
func (a *App) Progress() catalog.ProgressStore { return a.progress }

// Runs returns the run history store.
func (a *App) Runs() catalog.RunStore { return a.runs }

// Scheduler returns the session scheduler.
func (a *App) Scheduler() *session.Scheduler { return a.scheduler }

// Emitter returns the progress hub.
func (a *App) Emitter() progress.Emitter { return a.hub }

// Sources lists enabled sources in kickoff order.
func (a *App) Sources() []catalog.SourceID { return a.scheduler.Sources() }

// Adapters returns a copy of the enabled source adapters.
func (a *App) Adapters() map[catalog.SourceID]catalog.SourceAdapter {
	return maps.Clone(a.adapters)
}

// Adapter returns the adapter for an enabled source.
func (a *App) Adapter(id catalog.SourceID) (catalog.SourceAdapter, error) {
	adapter, ok := a.adapters[id]
	if !ok {
		return nil, catalog.UnknownSourceError(string(id))
	}
	return adapter, nil
}

// Walker returns the walker for an enabled source.
func (a *App) Walker(id catalog.SourceID) (*walker.Walker, error) {
	w, ok := a.walkers[id]
	if !ok {
		return nil, catalog.UnknownSourceError(string(id))
	}
	return w, nil
}

// Ready checks the backing store.
func (a *App) Ready(ctx context.Context) error {
	if a.ping == nil {
		return errors.New("store not initialized")
	}
	if err := a.ping(ctx); err != nil {
		return fmt.Errorf("store not ready: %w", err)
	}
	return nil
}

// Close stops the session, waits for runs to wind down within ctx, flushes
// progress sinks and releases clients.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down application services")
	if a.scheduler != nil {
		a.scheduler.Shutdown()
		if err := a.scheduler.Wait(ctx); err != nil {
			a.logger.Warn("runs still in flight at shutdown", zap.Error(err))
		}
	}
	a.closeAll()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeAll() {
	if a.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		cancel()
		a.hub = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
