// Package source holds the plumbing shared by catalog site adapters: the
// compliance gate, page fetching, HTML parsing and pagination URLs.
package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Site describes one catalog site.
type Site struct {
	ID catalog.SourceID
	// Origin is the scheme and host every relative link resolves against.
	Origin string
	// CategoriesPath is the path of the category index page.
	CategoriesPath string
}

// CategoriesURL returns the absolute category index URL.
func (s Site) CategoriesURL() string {
	return strings.TrimRight(s.Origin, "/") + "/" + strings.TrimLeft(s.CategoriesPath, "/")
}

var defaultHeaders = http.Header{
	"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
	"Accept-Language": {"en-US,en;q=0.9"},
}

// Client fetches and parses pages for one site, consulting the compliance
// gate before every request.
type Client struct {
	site    Site
	fetcher catalog.Fetcher
	policy  catalog.CompliancePolicy
	logger  *zap.Logger
}

// NewClient builds a Client. A nil policy allows everything.
func NewClient(site Site, fetcher catalog.Fetcher, policy catalog.CompliancePolicy, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		site:    site,
		fetcher: fetcher,
		policy:  policy,
		logger:  logger.Named(string(site.ID)),
	}
}

// Site returns the site the client serves.
func (c *Client) Site() Site {
	return c.site
}

// Document fetches rawURL and parses it. A URL refused by the compliance gate
// yields an error matching catalog.ErrPolicyDenied.
func (c *Client) Document(ctx context.Context, rawURL string, kind catalog.PageKind) (*goquery.Document, error) {
	if c.policy != nil && !c.policy.Allowed(ctx, c.site.Origin, rawURL) {
		c.logger.Info("url disallowed by crawl policy", zap.String("url", rawURL))
		return nil, catalog.PolicyDeniedError(rawURL)
	}
	start := time.Now()
	resp, err := c.fetcher.Fetch(ctx, catalog.FetchRequest{
		URL:     rawURL,
		Source:  c.site.ID,
		Kind:    kind,
		Headers: defaultHeaders.Clone(),
	})
	if err != nil {
		metrics.ObserveFetch(rawURL, string(kind), "error", 0, time.Since(start))
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	metrics.ObserveFetch(rawURL, string(kind), strconv.Itoa(resp.StatusCode), len(resp.Body), time.Since(start))
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	c.logger.Debug("page fetched",
		zap.String("url", rawURL),
		zap.String("kind", string(kind)),
		zap.Int("bytes", len(resp.Body)),
		zap.Bool("headless", resp.UsedHeadless),
	)
	return doc, nil
}

// Resolve turns href into an absolute URL on the site's origin. It returns ""
// for empty, fragment-only and javascript: links.
func (c *Client) Resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	base, err := url.Parse(c.site.Origin)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// PageURL returns the listing URL for page. Page 1 is the bare category URL
// with any query removed; later pages append ?page=N.
func PageURL(categoryURL string, page int) string {
	base := categoryURL
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	if page <= 1 {
		return base
	}
	return base + "?page=" + strconv.Itoa(page)
}

// Slug returns the trimmed path of rawURL, e.g. "crm-software".
func Slug(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}
