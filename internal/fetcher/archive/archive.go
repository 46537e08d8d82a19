// Package archive decorates a Fetcher so every successful response body is
// also written to a BlobStore.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Fetcher archives raw pages. Archive failures are logged and never fail the fetch.
type Fetcher struct {
	next   catalog.Fetcher
	blobs  catalog.BlobStore
	clock  catalog.Clock
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New wraps next.
func New(next catalog.Fetcher, blobs catalog.BlobStore, clock catalog.Clock, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:   next,
		blobs:  blobs,
		clock:  clock,
		hasher: sha256.New(),
		logger: logger.Named("archive"),
	}
}

// Fetch delegates to the wrapped fetcher and stores the body on success.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	resp, err := f.next.Fetch(ctx, request)
	if err != nil || len(resp.Body) == 0 {
		return resp, err
	}
	objectPath := f.ObjectPath(request)
	uri, putErr := f.blobs.PutObject(ctx, objectPath, contentType(resp), bytes.NewReader(resp.Body))
	if putErr != nil {
		metrics.ObserveArchiveWrite("error")
		f.logger.Warn("archive page failed", zap.String("url", request.URL), zap.Error(putErr))
		return resp, nil
	}
	metrics.ObserveArchiveWrite("ok")
	f.logger.Debug("page archived", zap.String("url", request.URL), zap.String("uri", uri))
	return resp, nil
}

// ObjectPath lays pages out by source, kind and day, named by the URL digest.
func (f *Fetcher) ObjectPath(request catalog.FetchRequest) string {
	source := string(request.Source)
	if source == "" {
		source = "unknown"
	}
	kind := string(request.Kind)
	if kind == "" {
		kind = "page"
	}
	day := f.clock.Now().UTC().Format("2006/01/02")
	return fmt.Sprintf("%s/%s/%s/%s.html", source, kind, day, f.hasher.HashString(request.URL))
}

func contentType(resp catalog.FetchResponse) string {
	if resp.Headers != nil {
		if ct := resp.Headers.Get("Content-Type"); ct != "" {
			return ct
		}
	}
	if bytes.HasPrefix(bytes.TrimSpace(resp.Body), []byte("<")) || strings.Contains(resp.URL, ".htm") {
		return "text/html; charset=utf-8"
	}
	return "application/octet-stream"
}
