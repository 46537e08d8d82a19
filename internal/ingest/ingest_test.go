package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/source/fake"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type countingStore struct {
	*memory.ProductStore
	finds     atomic.Int32
	findSizes []int
	mu        sync.Mutex
	findErr   error
	insertErr error
	// beforeInsert runs ahead of each insert to simulate a concurrent writer.
	beforeInsert func(catalog.Product)
}

func newCountingStore() *countingStore {
	return &countingStore{ProductStore: memory.NewProductStore()}
}

func (s *countingStore) FindExisting(
	ctx context.Context,
	source catalog.SourceID,
	keys []catalog.NaturalKey,
) (map[catalog.NaturalKey]bool, error) {
	s.finds.Add(1)
	s.mu.Lock()
	s.findSizes = append(s.findSizes, len(keys))
	s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.ProductStore.FindExisting(ctx, source, keys)
}

func (s *countingStore) InsertIfAbsent(ctx context.Context, p catalog.Product) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if s.beforeInsert != nil {
		s.beforeInsert(p)
	}
	return s.ProductStore.InsertIfAbsent(ctx, p)
}

func seed(t *testing.T, store *countingStore, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, store.ProductStore.InsertIfAbsent(context.Background(), catalog.Product{
			Source: catalog.SourceCapterra, Name: n, Category: "CRM",
		}))
	}
}

func TestPrefilterIssuesOneBulkCheck(t *testing.T) {
	t.Parallel()

	adapter := fake.New(catalog.SourceCapterra)
	store := newCountingStore()
	seed(t, store, "Bravo", "delta")
	ing := New(store, adapter, nil, nil)

	candidates := []catalog.Candidate{
		{URL: "u1", Name: "Alpha"},
		{URL: "u2", Name: "bravo"},
		{URL: "u3", Name: "Charlie"},
		{URL: "u4", Name: "Delta"},
		{URL: "u5", Name: "Echo"},
	}
	survivors, dropped, err := ing.Prefilter(context.Background(), "CRM", candidates)
	require.NoError(t, err)
	require.Equal(t, 2, dropped)
	require.Equal(t, []catalog.Candidate{candidates[0], candidates[2], candidates[4]}, survivors)
	require.EqualValues(t, 1, store.finds.Load())
	require.Equal(t, []int{5}, store.findSizes)
}

func TestPrefilterPassesNamelessCandidates(t *testing.T) {
	t.Parallel()

	store := newCountingStore()
	ing := New(store, fake.New(catalog.SourceCapterra), nil, nil)

	survivors, dropped, err := ing.Prefilter(context.Background(), "CRM", []catalog.Candidate{{URL: "u1"}})
	require.NoError(t, err)
	require.Zero(t, dropped)
	require.Len(t, survivors, 1)
	require.Zero(t, store.finds.Load())
}

func TestPrefilterStoreErrorIsFatal(t *testing.T) {
	t.Parallel()

	store := newCountingStore()
	store.findErr = errors.New("connection refused")
	ing := New(store, fake.New(catalog.SourceCapterra), nil, nil)

	_, _, err := ing.Prefilter(context.Background(), "CRM", []catalog.Candidate{{URL: "u1", Name: "A"}})
	require.ErrorIs(t, err, catalog.ErrStoreUnavailable)
}

func TestIngestInsertsNewProduct(t *testing.T) {
	t.Parallel()

	adapter := fake.New(catalog.SourceCapterra)
	adapter.AddCategory("CRM", []string{"Alpha"})
	store := newCountingStore()
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	ing := New(store, adapter, fixedClock{now: now}, nil)

	url := adapter.ProductURL("CRM", "Alpha")
	res, err := ing.Ingest(context.Background(), catalog.Candidate{URL: url, Name: "Alpha"}, "CRM")
	require.NoError(t, err)
	require.Equal(t, Inserted, res.Outcome)
	require.Equal(t, "CRM", res.Product.Category)
	require.Equal(t, catalog.SourceCapterra, res.Product.Source)
	require.Equal(t, url, res.Product.URL)
	require.Equal(t, now, res.Product.ScrapedAt)
	// One recheck before fetch and one before insert.
	require.EqualValues(t, 2, store.finds.Load())
	require.Len(t, store.All(), 1)
}

func TestIngestRecheckBeforeFetchSkipsDetail(t *testing.T) {
	t.Parallel()

	adapter := fake.New(catalog.SourceCapterra)
	store := newCountingStore()
	seed(t, store, "Alpha")
	ing := New(store, adapter, nil, nil)

	res, err := ing.Ingest(context.Background(), catalog.Candidate{URL: "u1", Name: "ALPHA"}, "CRM")
	require.NoError(t, err)
	require.Equal(t, SkippedDuplicate, res.Outcome)
	require.Empty(t, adapter.DetailCalls())
}

func TestIngestRecheckBeforeInsertUsesExtractedName(t *testing.T) {
	t.Parallel()

	adapter := fake.New(catalog.SourceCapterra)
	adapter.SetDetail("u1", catalog.Product{Name: "Alpha Suite"})
	store := newCountingStore()
	seed(t, store, "alpha suite")
	ing := New(store, adapter, nil, nil)

	res, err := ing.Ingest(context.Background(), catalog.Candidate{URL: "u1", Name: "Alpha"}, "CRM")
	require.NoError(t, err)
	require.Equal(t, SkippedDuplicate, res.Outcome)
	require.Len(t, adapter.DetailCalls(), 1)
	require.Len(t, store.All(), 1)
}

func TestIngestConstraintViolationIsDuplicate(t *testing.T) {
	t.Parallel()

	adapter := fake.New(catalog.SourceCapterra)
	adapter.SetDetail("u1", catalog.Product{Name: "Alpha"})
	store := newCountingStore()
	store.beforeInsert = func(p catalog.Product) {
		_ = store.ProductStore.InsertIfAbsent(context.Background(), p)
	}
	ing := New(store, adapter, nil, nil)

	res, err := ing.Ingest(context.Background(), catalog.Candidate{URL: "u1", Name: "Alpha"}, "CRM")
	require.NoError(t, err)
	require.Equal(t, SkippedDuplicate, res.Outcome)
	require.Len(t, store.All(), 1)
}

func TestIngestInvalidRecords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		product catalog.Product
	}{
		{name: "empty name", product: catalog.Product{Name: "  "}},
		{name: "marker in name", product: catalog.Product{Name: "Oops! Something went wrong"}},
		{name: "marker in vendor", product: catalog.Product{Name: "Alpha", Vendor: catalog.Vendor{Name: "oops"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			adapter := fake.New(catalog.SourceCapterra)
			adapter.SetDetail("u1", tc.product)
			store := newCountingStore()
			ing := New(store, adapter, nil, nil)

			res, err := ing.Ingest(context.Background(), catalog.Candidate{URL: "u1"}, "CRM")
			require.NoError(t, err)
			require.Equal(t, Failed, res.Outcome)
			require.ErrorIs(t, res.Reason, catalog.ErrInvalidRecord)
			require.Zero(t, store.finds.Load())
			require.Empty(t, store.All())
		})
	}
}

func TestIngestDetailFailureIsPerCandidate(t *testing.T) {
	t.Parallel()

	adapter := fake.New(catalog.SourceCapterra)
	adapter.FailDetail("u1", catalog.PolicyDeniedError("u1"))
	ing := New(newCountingStore(), adapter, nil, nil)

	res, err := ing.Ingest(context.Background(), catalog.Candidate{URL: "u1", Name: "A"}, "CRM")
	require.NoError(t, err)
	require.Equal(t, Failed, res.Outcome)
	require.ErrorIs(t, res.Reason, catalog.ErrPolicyDenied)

	res, err = ing.Ingest(context.Background(), catalog.Candidate{URL: "missing", Name: "B"}, "CRM")
	require.NoError(t, err)
	require.Equal(t, Failed, res.Outcome)
	require.ErrorIs(t, res.Reason, catalog.ErrExtractionEmpty)
}

func TestIngestInsertStoreErrorIsFatal(t *testing.T) {
	t.Parallel()

	adapter := fake.New(catalog.SourceCapterra)
	adapter.SetDetail("u1", catalog.Product{Name: "Alpha"})
	store := newCountingStore()
	store.insertErr = errors.New("disk full")
	ing := New(store, adapter, nil, nil)

	_, err := ing.Ingest(context.Background(), catalog.Candidate{URL: "u1", Name: "Alpha"}, "CRM")
	require.ErrorIs(t, err, catalog.ErrStoreUnavailable)
	require.ErrorContains(t, err, "disk full")
}

func TestIngestConcurrentOverlappingCandidates(t *testing.T) {
	t.Parallel()

	adapter := fake.New(catalog.SourceCapterra)
	names := []string{"A", "B", "C", "D"}
	adapter.AddCategory("CRM", names)
	store := newCountingStore()
	ing := New(store, adapter, nil, nil)

	var wg sync.WaitGroup
	var inserted atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, n := range names {
				res, err := ing.Ingest(context.Background(), catalog.Candidate{URL: adapter.ProductURL("CRM", n), Name: n}, "CRM")
				if err != nil {
					t.Errorf("ingest: %v", err)
					return
				}
				if res.Outcome == Inserted {
					inserted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, len(names), inserted.Load())
	require.Len(t, store.All(), len(names))
}
