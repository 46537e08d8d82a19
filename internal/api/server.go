// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/session"
)

const requestTimeout = 2 * time.Minute

// Session is the scheduler surface the API drives.
type Session interface {
	Start(ctx context.Context) error
	Stop() bool
	Status() session.Status
	TriggerNow(ctx context.Context, source catalog.SourceID) (string, error)
}

// Deps carries the services behind the routes.
type Deps struct {
	Session    Session
	Records    catalog.RecordStore
	Categories catalog.CategoryStore
	Progress   catalog.ProgressStore
	Runs       catalog.RunStore
	Adapters   map[catalog.SourceID]catalog.SourceAdapter
	// Ready reports whether downstream dependencies can serve traffic.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router  chi.Router
	deps    Deps
	catalog *CatalogHandler
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:    deps,
		catalog: NewCatalogHandler(deps, cfg.FetchTimeout(), logger),
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if len(cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/session", func(r chi.Router) {
			r.Post("/start", s.startSession)
			r.Post("/stop", s.stopSession)
			r.Get("/status", s.sessionStatus)
		})
		r.Get("/runs", s.catalog.ListRuns)
		r.Route("/sources/{source}", func(r chi.Router) {
			r.Get("/progress", s.catalog.GetProgress)
			r.Get("/products", s.catalog.ListProducts)
			r.Get("/runs", s.catalog.ListRuns)
			r.Post("/reset", s.catalog.ResetProgress)
			r.Post("/crawl", s.crawlNow)
			r.Post("/categories/discover", s.catalog.DiscoverCategories)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	if err := s.deps.Session.Start(r.Context()); err != nil {
		if errors.Is(err, catalog.ErrAlreadyActive) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":  "session already active",
				"status": s.deps.Session.Status(),
			})
			return
		}
		s.logger.Error("start session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	writeJSON(w, http.StatusAccepted, s.deps.Session.Status())
}

func (s *Server) stopSession(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Session == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	stopped := s.deps.Session.Stop()
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped": stopped,
		"status":  s.deps.Session.Status(),
	})
}

func (s *Server) sessionStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Session == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.Status())
}

func (s *Server) crawlNow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Session == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}
	source, ok := s.catalog.sourceParam(w, r)
	if !ok {
		return
	}
	runID, err := s.deps.Session.TriggerNow(r.Context(), source)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "source": string(source)})
	case errors.Is(err, catalog.ErrAlreadyActive):
		writeError(w, http.StatusConflict, "a run is already in flight for "+string(source))
	case errors.Is(err, catalog.ErrUnknownSource):
		writeError(w, http.StatusNotFound, "source not enabled")
	case errors.Is(err, session.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "scheduler shutting down")
	default:
		s.logger.Error("trigger run failed", zap.String("source", string(source)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
