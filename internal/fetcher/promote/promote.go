// Package promote fetches over plain HTTP and re-renders in a headless
// browser when the response looks like an unrendered shell.
package promote

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// Detector decides whether a response needs rendering.
type Detector interface {
	ShouldPromote(kind catalog.PageKind, resp catalog.FetchResponse) bool
}

// Fetcher composes an HTTP fetcher with a headless fallback.
type Fetcher struct {
	http     catalog.Fetcher
	headless catalog.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a promoting fetcher.
func New(httpFetcher, headlessFetcher catalog.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{http: httpFetcher, headless: headlessFetcher, detector: detector, logger: logger}
}

// Fetch returns the HTTP response unless the detector asks for a render. A
// failed render falls back to the HTTP response.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	resp, err := f.http.Fetch(ctx, request)
	if err != nil {
		return catalog.FetchResponse{}, err
	}
	if f.headless == nil || f.detector == nil || !f.detector.ShouldPromote(request.Kind, resp) {
		return resp, nil
	}
	f.logger.Debug("promoting fetch to headless",
		zap.String("url", request.URL),
		zap.String("kind", string(request.Kind)),
	)
	rendered, err := f.headless.Fetch(ctx, request)
	if err != nil {
		f.logger.Warn("headless render failed; using http body",
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return resp, nil
	}
	return rendered, nil
}
