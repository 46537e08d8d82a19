package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

func TestLimiterWaitSpacesRequestsPerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.capterra.com/categories/"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://WWW.capterra.com/p/1/x/"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Another host has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.softwareadvice.com/categories/"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com"))
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), "not a url %"))
	}
	require.Len(t, l.limiters, 1)
	require.Contains(t, l.limiters, "unknown")
}

type countingFetcher struct{ calls atomic.Int32 }

func (c *countingFetcher) Fetch(_ context.Context, r catalog.FetchRequest) (catalog.FetchResponse, error) {
	c.calls.Add(1)
	return catalog.FetchResponse{URL: r.URL, StatusCode: 200}, nil
}

func TestWrapDelegatesAfterToken(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	f := New(Config{DefaultRPS: 0.1, DefaultBurst: 1}).Wrap(next)

	resp, err := f.Fetch(context.Background(), catalog.FetchRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", resp.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, catalog.FetchRequest{URL: "https://example.com/b"})
	require.Error(t, err)
	require.EqualValues(t, 1, next.calls.Load())
}
