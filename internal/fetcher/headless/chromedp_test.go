package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	f, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, 2, cap(f.slots))
	require.Equal(t, defaultNavigationTimeout, f.cfg.NavigationTimeout)
	require.Equal(t, defaultSettle, f.cfg.Settle)
}

func TestSlotsBoundConcurrency(t *testing.T) {
	t.Parallel()

	f := &Fetcher{slots: make(chan struct{}, 1)}
	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.acquire(ctx), context.DeadlineExceeded)

	f.release()
	require.NoError(t, f.acquire(context.Background()))
	f.release()

	unlimited := &Fetcher{}
	require.NoError(t, unlimited.acquire(context.Background()))
	unlimited.release()
}

func TestWaitSelectorPerKind(t *testing.T) {
	t.Parallel()

	f := &Fetcher{cfg: Config{WaitSelectors: map[catalog.PageKind]string{
		catalog.PageListing: "[data-testid=product-card]",
	}}}
	require.Equal(t, "[data-testid=product-card]", f.waitSelector(catalog.PageListing))
	require.Empty(t, f.waitSelector(catalog.PageDetail))
	require.Empty(t, (&Fetcher{}).waitSelector(catalog.PageListing))
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	got := toNetworkHeaders(http.Header{
		"X-Multi":  {"a", "b"},
		"X-Single": {"one"},
		"X-Empty":  {},
	})
	require.Equal(t, []string{"a", "b"}, got["X-Multi"])
	require.Equal(t, "one", got["X-Single"])
	require.NotContains(t, got, "X-Empty")
}

func TestDocumentMetaCapture(t *testing.T) {
	t.Parallel()

	doc := &documentMeta{}
	doc.onEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example.com/app.js"},
	})
	doc.onEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 200,
			URL:    "https://www.capterra.com/categories/",
			Headers: network.Headers{
				"X-Request-Id": "abc",
				"Set-Cookie":   []any{"a=1", "b=2"},
			},
		},
	})
	doc.onEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://www.capterra.com/other"},
	})

	status, headers, url := doc.resolve("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "abc", headers.Get("X-Request-Id"))
	require.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))
	require.Equal(t, "https://www.capterra.com/categories/", url)
}

func TestDocumentMetaFallbacks(t *testing.T) {
	t.Parallel()

	status, headers, url := (&documentMeta{}).resolve("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://final", url)

	_, _, url = (&documentMeta{}).resolve("https://req", "")
	require.Equal(t, "https://req", url)
}
