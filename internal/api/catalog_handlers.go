package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/walker"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	maxProductLimit = 500
	storeTimeout    = 5 * time.Second
)

// CatalogHandler exposes per-source progress, products, run history and the
// maintenance endpoints.
type CatalogHandler struct {
	deps         Deps
	timeout      time.Duration
	fetchTimeout time.Duration
	logger       *zap.Logger
}

// NewCatalogHandler wires the stores and adapters.
func NewCatalogHandler(deps Deps, fetchTimeout time.Duration, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{
		deps:         deps,
		timeout:      storeTimeout,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// progressReport is the GET /v1/sources/{source}/progress body.
type progressReport struct {
	Source          catalog.SourceID `json:"source"`
	Checkpoint      catalog.Progress `json:"checkpoint"`
	TotalCategories int              `json:"total_categories"`
	TotalProducts   int              `json:"total_products"`
	IsCompleted     bool             `json:"is_completed"`
}

// GetProgress handles GET /v1/sources/{source}/progress. It returns the
// checkpoint with category and product totals, 400 for an unknown source, 503
// when the stores are missing, or 500 on store failure.
func (h *CatalogHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	if h.deps.Progress == nil || h.deps.Categories == nil || h.deps.Records == nil {
		writeError(w, http.StatusServiceUnavailable, "stores unavailable")
		return
	}
	source, ok := h.sourceParam(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cp, err := h.deps.Progress.LoadCheckpoint(ctx, source)
	if err != nil {
		h.storeFailure(w, "load checkpoint", err)
		return
	}
	categories, err := h.deps.Categories.CountCategories(ctx, source)
	if err != nil {
		h.storeFailure(w, "count categories", err)
		return
	}
	products, err := h.deps.Records.CountProducts(ctx, source)
	if err != nil {
		h.storeFailure(w, "count products", err)
		return
	}
	writeJSON(w, http.StatusOK, progressReport{
		Source:          source,
		Checkpoint:      cp,
		TotalCategories: categories,
		TotalProducts:   products,
		IsCompleted:     cp.IsCompleted,
	})
}

// ListProducts handles GET /v1/sources/{source}/products?category=&min_rating=&limit=.
// Products are sorted by rating then review count, both descending.
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Records == nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	source, ok := h.sourceParam(w, r)
	if !ok {
		return
	}
	query, err := parseProductQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.deps.Records.ListProducts(ctx, source, query)
	if err != nil {
		h.storeFailure(w, "list products", err)
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":   source,
		"count":    len(products),
		"products": products,
	})
}

// ResetProgress handles POST /v1/sources/{source}/reset, replacing the
// checkpoint with a blank one so the next run starts from the first category.
// The walker owns the checkpoint while a run is in flight, so that case is a 409.
func (h *CatalogHandler) ResetProgress(w http.ResponseWriter, r *http.Request) {
	if h.deps.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress store unavailable")
		return
	}
	source, ok := h.sourceParam(w, r)
	if !ok {
		return
	}
	if runID, busy := h.inFlight(source); busy {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "a run is in flight for " + string(source),
			"run_id": runID,
		})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cp, err := h.deps.Progress.ResetCheckpoint(ctx, source)
	if err != nil {
		h.storeFailure(w, "reset checkpoint", err)
		return
	}
	h.logger.Info("checkpoint reset", zap.String("source", string(source)))
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "checkpoint": cp})
}

// DiscoverCategories handles POST /v1/sources/{source}/categories/discover.
// It fetches the category index and upserts it by name.
func (h *CatalogHandler) DiscoverCategories(w http.ResponseWriter, r *http.Request) {
	if h.deps.Categories == nil {
		writeError(w, http.StatusServiceUnavailable, "category store unavailable")
		return
	}
	source, ok := h.sourceParam(w, r)
	if !ok {
		return
	}
	adapter, ok := h.deps.Adapters[source]
	if !ok {
		writeError(w, http.StatusNotFound, "source not enabled")
		return
	}
	categories, err := walker.DiscoverCategories(r.Context(), adapter, h.deps.Categories, h.fetchTimeout)
	switch {
	case err == nil:
	case errors.Is(err, catalog.ErrPolicyDenied):
		writeError(w, http.StatusForbidden, "category index disallowed by crawl policy")
		return
	case errors.Is(err, catalog.ErrStoreUnavailable):
		h.storeFailure(w, "upsert categories", err)
		return
	default:
		h.logger.Warn("category discovery failed", zap.String("source", string(source)), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to fetch category index")
		return
	}
	if categories == nil {
		categories = []catalog.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":     source,
		"count":      len(categories),
		"categories": categories,
	})
}

// ListRuns handles GET /v1/runs and GET /v1/sources/{source}/runs, newest first.
func (h *CatalogHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	var source catalog.SourceID
	if chi.URLParam(r, "source") != "" {
		var ok bool
		if source, ok = h.sourceParam(w, r); !ok {
			return
		}
	} else if raw := strings.TrimSpace(r.URL.Query().Get("source")); raw != "" {
		id, err := catalog.ParseSourceID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown source")
			return
		}
		source = id
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.deps.Runs.ListRuns(ctx, source, limit)
	if err != nil {
		h.storeFailure(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []catalog.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *CatalogHandler) sourceParam(w http.ResponseWriter, r *http.Request) (catalog.SourceID, bool) {
	source, err := catalog.ParseSourceID(chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown source")
		return "", false
	}
	return source, true
}

func (h *CatalogHandler) storeFailure(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func parseProductQuery(r *http.Request) (catalog.ProductQuery, error) {
	q := r.URL.Query()
	query := catalog.ProductQuery{Category: strings.TrimSpace(q.Get("category"))}
	if raw := q.Get("min_rating"); raw != "" {
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil || val < 0 {
			return catalog.ProductQuery{}, errors.New("invalid min_rating")
		}
		query.MinRating = val
	}
	limit, err := parseLimit(r, catalog.DefaultProductLimit, maxProductLimit)
	if err != nil {
		return catalog.ProductQuery{}, err
	}
	query.Limit = limit
	return query, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}

func (h *CatalogHandler) inFlight(source catalog.SourceID) (string, bool) {
	if h.deps.Session == nil {
		return "", false
	}
	for _, st := range h.deps.Session.Status().Sources {
		if st.Source == source && st.InFlight {
			return st.RunID, true
		}
	}
	return "", false
}
