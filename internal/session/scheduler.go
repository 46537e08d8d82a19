// Package session time-boxes crawling into sessions. A session fires one
// staggered kickoff run per source, then periodic runs on a fixed interval
// with per-source phase offsets, and never runs two crawls of the same source
// at once.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/walker"
)

// Trigger kinds recorded on runs.
const (
	TriggerKickoff  = "kickoff"
	TriggerPeriodic = "periodic"
	TriggerManual   = "manual"
)

// ErrShutdown is returned by Start and TriggerNow after Shutdown.
var ErrShutdown = errors.New("scheduler shut down")

// Runner executes a full crawl for one source.
type Runner interface {
	Source() catalog.SourceID
	RunFullCrawl(ctx context.Context, info walker.RunInfo) (catalog.CrawlResult, error)
}

// Config holds session timing. Zero durations fall back to defaults.
type Config struct {
	Window         time.Duration
	Interval       time.Duration
	Offset         time.Duration
	KickoffStagger time.Duration
}

// DefaultConfig returns the one-hour session cadence.
func DefaultConfig() Config {
	return Config{
		Window:         time.Hour,
		Interval:       10 * time.Minute,
		Offset:         5 * time.Minute,
		KickoffStagger: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Offset < 0 {
		c.Offset = 0
	}
	if c.KickoffStagger < 0 {
		c.KickoffStagger = 0
	}
	return c
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Active           bool           `json:"active"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	EndsAt           *time.Time     `json:"ends_at,omitempty"`
	RemainingSeconds int64          `json:"remaining_seconds"`
	AnyInFlight      bool           `json:"any_in_flight"`
	Sources          []SourceStatus `json:"sources"`
}

// SourceStatus reports one source's run activity.
type SourceStatus struct {
	Source    catalog.SourceID `json:"source"`
	InFlight  bool             `json:"in_flight"`
	RunID     string           `json:"run_id,omitempty"`
	Started   int              `json:"runs_started"`
	Skipped   int              `json:"triggers_skipped"`
	LastError string           `json:"last_error,omitempty"`
}

type sourceState struct {
	runner  Runner
	runID   string
	started int
	skipped int
	lastErr string
}

// Scheduler owns session state: the active window, its timers and the
// per-source in-flight flags.
type Scheduler struct {
	cfg    Config
	clock  catalog.TimerClock
	ids    catalog.IDGenerator
	logger *zap.Logger

	base       context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	sources    map[catalog.SourceID]*sourceState
	order      []catalog.SourceID
	active     bool
	generation uint64
	startedAt  time.Time
	endsAt     time.Time
	timers     []catalog.Timer
	sessionCtx context.Context
	cancel     context.CancelFunc
	running    int
	idle       chan struct{}
	observer   func(source catalog.SourceID, outcome string)
	onActive   func(active bool)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithTriggerObserver registers a callback invoked for every trigger decision
// with outcome "started" or "skipped".
func WithTriggerObserver(fn func(source catalog.SourceID, outcome string)) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

// WithActiveObserver registers a callback invoked whenever a session window
// opens or closes. It runs with the scheduler lock held and must not call back
// into the Scheduler.
func WithActiveObserver(fn func(active bool)) Option {
	return func(s *Scheduler) {
		s.onActive = fn
	}
}

// New constructs a Scheduler. Runners are kicked off in the order given.
func New(
	cfg Config,
	clock catalog.TimerClock,
	ids catalog.IDGenerator,
	logger *zap.Logger,
	runners []Runner,
	opts ...Option,
) (*Scheduler, error) {
	if clock == nil {
		return nil, errors.New("session: clock is required")
	}
	if ids == nil {
		return nil, errors.New("session: id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		ids:     ids,
		logger:  logger,
		sources: make(map[catalog.SourceID]*sourceState),
		idle:    make(chan struct{}),
	}
	s.base, s.baseCancel = context.WithCancel(context.Background())
	for _, r := range runners {
		if r == nil {
			continue
		}
		id := r.Source()
		if _, dup := s.sources[id]; dup {
			return nil, fmt.Errorf("session: duplicate runner for source %s", id)
		}
		s.sources[id] = &sourceState{runner: r}
		s.order = append(s.order, id)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start opens a session window. It fails with catalog.ErrAlreadyActive when a
// session is already running. Runs started by the session inherit ctx values
// but not its cancellation; Stop, Shutdown or the window end cancels them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("start session: %w", ErrShutdown)
	}
	if s.active {
		return fmt.Errorf("start session: %w (ends at %s)", catalog.ErrAlreadyActive, s.endsAt.Format(time.RFC3339))
	}
	s.generation++
	gen := s.generation
	s.active = true
	s.startedAt = s.clock.Now()
	s.endsAt = s.startedAt.Add(s.cfg.Window)
	s.sessionCtx, s.cancel = s.detach(ctx)
	if s.onActive != nil {
		s.onActive(true)
	}

	for i, id := range s.order {
		source := id
		kickoff := time.Duration(i) * s.cfg.KickoffStagger
		s.timers = append(s.timers, s.clock.AfterFunc(kickoff, func() {
			s.trigger(gen, source, TriggerKickoff)
		}))
		s.armPeriodic(gen, source, i, 1)
	}
	s.timers = append(s.timers, s.clock.AfterFunc(s.cfg.Window, func() {
		s.end(gen)
	}))
	s.logger.Info("session started",
		zap.Time("started_at", s.startedAt),
		zap.Time("ends_at", s.endsAt),
		zap.Int("sources", len(s.order)),
	)
	return nil
}

// armPeriodic schedules the k-th periodic trigger for the source at position
// idx. Caller holds s.mu.
func (s *Scheduler) armPeriodic(gen uint64, source catalog.SourceID, idx, k int) {
	at := s.startedAt.Add(time.Duration(idx)*s.cfg.Offset + time.Duration(k)*s.cfg.Interval)
	if !at.Before(s.endsAt) {
		return
	}
	delay := at.Sub(s.clock.Now())
	s.timers = append(s.timers, s.clock.AfterFunc(delay, func() {
		s.trigger(gen, source, TriggerPeriodic)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.active && s.generation == gen {
			s.armPeriodic(gen, source, idx, k+1)
		}
	}))
}

// detach returns a context carrying parent's values that is cancelled by the
// returned func or by Shutdown, never by parent.
func (s *Scheduler) detach(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(s.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Shutdown closes any active session and cancels every in-flight run,
// including manual runs started outside a session. Later Start and
// TriggerNow calls fail with ErrShutdown. Pair it with Wait to drain.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.active {
		s.closeLocked()
	}
	s.baseCancel()
	s.logger.Info("scheduler shut down")
}

// Stop closes the active session. In-flight runs observe cancellation at their
// next page or category boundary. Stop reports whether a session was active.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.closeLocked()
	s.logger.Info("session stopped")
	return true
}

func (s *Scheduler) end(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.generation != gen {
		return
	}
	s.closeLocked()
	s.logger.Info("session window elapsed")
}

func (s *Scheduler) closeLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.active = false
	if s.cancel != nil {
		s.cancel()
	}
	s.sessionCtx, s.cancel = nil, nil
	if s.onActive != nil {
		s.onActive(false)
	}
}

func (s *Scheduler) trigger(gen uint64, source catalog.SourceID, kind string) {
	s.mu.Lock()
	if !s.active || s.generation != gen || !s.clock.Now().Before(s.endsAt) {
		s.mu.Unlock()
		return
	}
	_, err := s.startLocked(s.sessionCtx, nil, source, kind)
	s.mu.Unlock()
	if err != nil && !errors.Is(err, catalog.ErrAlreadyActive) {
		s.logger.Error("trigger failed", zap.String("source", string(source)), zap.Error(err))
	}
}

// TriggerNow starts a manual run for source outside the periodic cadence. It
// uses the session context when a session is active. Otherwise the run
// carries ctx's values and is cancelled only by Shutdown. A run already in
// flight for source yields catalog.ErrAlreadyActive.
func (s *Scheduler) TriggerNow(ctx context.Context, source catalog.SourceID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("trigger %s: %w", source, ErrShutdown)
	}
	if s.active && s.sessionCtx != nil {
		return s.startLocked(s.sessionCtx, nil, source, TriggerManual)
	}
	runCtx, release := s.detach(ctx)
	return s.startLocked(runCtx, release, source, TriggerManual)
}

// startLocked enforces single-flight and launches the run. release, when
// set, is called once the run ends or fails to start. Caller holds s.mu.
func (s *Scheduler) startLocked(
	ctx context.Context,
	release context.CancelFunc,
	source catalog.SourceID,
	kind string,
) (_ string, err error) {
	if release != nil {
		defer func() {
			if err != nil {
				release()
			}
		}()
	}
	state, ok := s.sources[source]
	if !ok {
		return "", catalog.UnknownSourceError(string(source))
	}
	if state.runID != "" {
		state.skipped++
		s.observe(source, "skipped")
		s.logger.Info("run still in flight; trigger skipped",
			zap.String("source", string(source)),
			zap.String("trigger", kind),
			zap.String("run_id", state.runID),
		)
		return "", fmt.Errorf("source %s: run %s in flight: %w", source, state.runID, catalog.ErrAlreadyActive)
	}
	runID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	state.runID = runID
	state.started++
	s.running++
	s.observe(source, "started")

	go s.execute(ctx, release, state.runner, walker.RunInfo{ID: runID, Trigger: kind})
	return runID, nil
}

func (s *Scheduler) execute(ctx context.Context, release context.CancelFunc, runner Runner, info walker.RunInfo) {
	if release != nil {
		defer release()
	}
	source := runner.Source()
	logger := s.logger.With(
		zap.String("source", string(source)),
		zap.String("run_id", info.ID),
		zap.String("trigger", info.Trigger),
	)
	var runErr error
	defer func() {
		if rec := recover(); rec != nil {
			runErr = fmt.Errorf("run panicked: %v", rec)
			logger.Error("run panicked", zap.Any("panic", rec))
		}
		s.finish(source, info.ID, runErr)
	}()

	result, err := runner.RunFullCrawl(ctx, info)
	runErr = err
	switch {
	case err == nil:
		logger.Info("run finished",
			zap.Int("categories", result.CategoriesProcessed),
			zap.Int("products", result.TotalProducts),
		)
	case errors.Is(err, context.Canceled):
		logger.Info("run cancelled", zap.Int("products", result.TotalProducts))
	default:
		logger.Error("run failed", zap.Int("products", result.TotalProducts), zap.Error(err))
	}
}

// finish clears the in-flight flag only when runID still owns it.
func (s *Scheduler) finish(source catalog.SourceID, runID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.sources[source]
	if state.runID == runID {
		state.runID = ""
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		state.lastErr = err.Error()
	} else {
		state.lastErr = ""
	}
	s.running--
	if s.running == 0 {
		close(s.idle)
		s.idle = make(chan struct{})
	}
}

func (s *Scheduler) observe(source catalog.SourceID, outcome string) {
	if s.observer != nil {
		s.observer(source, outcome)
	}
}

// Status reports the session window and per-source activity. Nothing is
// persisted, so a restarted process always reports inactive.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Active: s.active}
	if s.active {
		started, ends := s.startedAt, s.endsAt
		st.StartedAt = &started
		st.EndsAt = &ends
		remaining := ends.Sub(s.clock.Now())
		if remaining > 0 {
			st.RemainingSeconds = int64(remaining / time.Second)
		}
	}
	for _, id := range s.order {
		state := s.sources[id]
		st.Sources = append(st.Sources, SourceStatus{
			Source:    id,
			InFlight:  state.runID != "",
			RunID:     state.runID,
			Started:   state.started,
			Skipped:   state.skipped,
			LastError: state.lastErr,
		})
		if state.runID != "" {
			st.AnyInFlight = true
		}
	}
	return st
}

// Active reports whether a session window is open.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Wait blocks until no run is in flight or ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.running == 0 {
			s.mu.Unlock()
			return nil
		}
		idle := s.idle
		s.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return fmt.Errorf("wait for runs: %w", ctx.Err())
		}
	}
}

// Sources lists the sources this scheduler can run, in kickoff order.
func (s *Scheduler) Sources() []catalog.SourceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.SourceID(nil), s.order...)
}
