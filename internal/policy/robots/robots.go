// Package robots implements the compliance gate on robots.txt. When a
// source's robots.txt cannot be retrieved every URL is allowed.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = time.Hour
	maxRobotsBytes  = 1 << 20
)

// Config tunes the gate.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// CacheTTL bounds how long a parsed robots.txt is reused per origin.
	CacheTTL  time.Duration
	Transport http.RoundTripper
}

// Policy enforces robots.txt directives per origin.
type Policy struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedRobots
}

type cachedRobots struct {
	data    *robotstxt.RobotsData
	fetched time.Time
}

// New builds a robots.txt policy.
func New(cfg Config, logger *zap.Logger) *Policy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &retryTransport{base: base, backoff: defaultBackoff},
		},
		userAgent: cfg.UserAgent,
		ttl:       cfg.CacheTTL,
		now:       time.Now,
		logger:    logger.Named("robots"),
		cache:     make(map[string]cachedRobots),
	}
}

// Allowed reports whether targetURL may be crawled according to the
// robots.txt served at originBaseURL.
func (p *Policy) Allowed(ctx context.Context, originBaseURL, targetURL string) bool {
	target, err := url.Parse(targetURL)
	if err != nil {
		p.logger.Warn("unparseable target url", zap.String("url", targetURL), zap.Error(err))
		metrics.ObserveRobotsDecision(originBaseURL, "denied")
		return false
	}
	data, err := p.load(ctx, originBaseURL)
	if err != nil {
		p.logger.Warn("robots fetch failed; allowing access",
			zap.String("origin", originBaseURL),
			zap.Error(err),
		)
		metrics.ObserveRobotsDecision(originBaseURL, "fallback")
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	allowed := data.TestAgent(path, p.userAgent)
	if allowed {
		metrics.ObserveRobotsDecision(originBaseURL, "allowed")
	} else {
		metrics.ObserveRobotsDecision(originBaseURL, "denied")
	}
	return allowed
}

func (p *Policy) load(ctx context.Context, originBaseURL string) (*robotstxt.RobotsData, error) {
	robotsURL, err := robotsLocation(originBaseURL)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(robotsURL)

	p.mu.Lock()
	cached, ok := p.cache[key]
	p.mu.Unlock()
	if ok && p.now().Sub(cached.fetched) < p.ttl {
		return cached.data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Debug("close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}

	p.mu.Lock()
	p.cache[key] = cachedRobots{data: data, fetched: p.now()}
	p.mu.Unlock()
	return data, nil
}

func robotsLocation(originBaseURL string) (string, error) {
	origin, err := url.Parse(originBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return "", fmt.Errorf("origin %q must be absolute", originBaseURL)
	}
	return (&url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/robots.txt"}).String(), nil
}

// AllowAll is the gate used when robots.txt enforcement is disabled.
type AllowAll struct{}

// Allowed always returns true.
func (AllowAll) Allowed(context.Context, string, string) bool { return true }
