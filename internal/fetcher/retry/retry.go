// Package retry repeats fetches that fail for transient reasons.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Policy decides whether and when a failed fetch is attempted again.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialPolicy implements Policy with jittered exponential backoff.
type ExponentialPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewExponentialPolicy builds a policy with sane defaults.
func NewExponentialPolicy(maxAttempts int) *ExponentialPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ExponentialPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// ShouldRetry retries network timeouts and 429/5xx responses until the
// attempt budget runs out. Cancellation and other statuses are final.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *catalog.StatusError
	if errors.As(err, &status) {
		return status.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Backoff returns the wait before the next attempt: half the capped
// exponential delay plus up to the same amount of jitter.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Fetcher wraps another Fetcher and retries it according to a Policy.
type Fetcher struct {
	next   catalog.Fetcher
	policy Policy
	pauser catalog.Pauser
	logger *zap.Logger
}

// New wraps next. The pauser waits out each backoff.
func New(next catalog.Fetcher, policy Policy, pauser catalog.Pauser, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, policy: policy, pauser: pauser, logger: logger}
}

// Fetch implements catalog.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.next.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !f.policy.ShouldRetry(err, attempt) {
			if attempt > 1 {
				return catalog.FetchResponse{}, fmt.Errorf("after %d attempts: %w", attempt, err)
			}
			return catalog.FetchResponse{}, err
		}
		delay := f.policy.Backoff(attempt)
		f.logger.Warn("retrying fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		metrics.ObserveFetchRetry(req.URL)
		f.pauser.Pause(ctx, delay)
		if ctx.Err() != nil {
			return catalog.FetchResponse{}, fmt.Errorf("retry canceled: %w", ctx.Err())
		}
	}
}
