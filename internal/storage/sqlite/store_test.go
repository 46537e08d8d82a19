package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/fake"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T) (*Store, *fake.Clock) {
	t.Helper()
	clk := fake.New(epoch)
	s, err := Open(context.Background(), ":memory:", clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func product(name, category string, rating float64, reviews int) catalog.Product {
	return catalog.Product{
		Source:      catalog.SourceCapterra,
		Name:        name,
		Category:    category,
		Rating:      rating,
		ReviewCount: reviews,
		Features:    []string{"Reporting"},
		Pricing:     catalog.Pricing{StartingPrice: "$9", Plans: []catalog.Plan{{Name: "Pro", Price: "$9"}}},
		Vendor:      catalog.Vendor{Name: name + " Inc"},
		ScrapedAt:   epoch,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", nil)
	require.Error(t, err)
}

func TestInsertIfAbsentEnforcesNaturalKey(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.InsertIfAbsent(ctx, product("Acme CRM", "CRM", 4.5, 10)))
	require.ErrorIs(t, s.InsertIfAbsent(ctx, product("ACME  crm", "CRM", 3, 1)), catalog.ErrDuplicate)
	require.NoError(t, s.InsertIfAbsent(ctx, product("Acme CRM", "Sales", 4.5, 10)))

	other := product("Acme CRM", "CRM", 4.5, 10)
	other.Source = catalog.SourceSoftwareAdvice
	require.NoError(t, s.InsertIfAbsent(ctx, other))

	n, err := s.CountProducts(ctx, catalog.SourceCapterra)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestConcurrentInsertsConverge(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.InsertIfAbsent(ctx, product("Racer", "CRM", 4, 1))
		}()
	}
	wg.Wait()
	close(errs)
	inserted := 0
	for err := range errs {
		if err == nil {
			inserted++
			continue
		}
		require.ErrorIs(t, err, catalog.ErrDuplicate)
	}
	require.Equal(t, 1, inserted)
}

func TestFindExisting(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertIfAbsent(ctx, product("Acme CRM", "CRM", 4.5, 10)))

	found, err := s.FindExisting(ctx, catalog.SourceCapterra, []catalog.NaturalKey{
		{Name: "acme crm", Category: "CRM"},
		{Name: "Acme CRM", Category: "Sales"},
		{Name: "Beta", Category: "CRM"},
	})
	require.NoError(t, err)
	require.Equal(t, map[catalog.NaturalKey]bool{{Name: "acme crm", Category: "CRM"}: true}, found)

	found, err = s.FindExisting(ctx, catalog.SourceCapterra, nil)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestListProductsFiltersAndSorts(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t)
	ctx := context.Background()
	for _, p := range []catalog.Product{
		product("Low", "CRM", 3.1, 500),
		product("Top", "CRM", 4.8, 10),
		product("Popular", "CRM", 4.8, 90),
		product("Elsewhere", "HR", 5, 1),
	} {
		require.NoError(t, s.InsertIfAbsent(ctx, p))
	}

	got, err := s.ListProducts(ctx, catalog.SourceCapterra, catalog.ProductQuery{Category: "CRM", MinRating: 4})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "Popular", got[0].Name)
	require.Equal(t, "Top", got[1].Name)
	require.Equal(t, []string{"Reporting"}, got[0].Features)
	require.Equal(t, "$9", got[0].Pricing.StartingPrice)
	require.Equal(t, []catalog.Plan{{Name: "Pro", Price: "$9"}}, got[0].Pricing.Plans)
	require.True(t, epoch.Equal(got[0].ScrapedAt))

	got, err = s.ListProducts(ctx, catalog.SourceCapterra, catalog.ProductQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Elsewhere", got[0].Name)
}

func TestDefaultProductLimit(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t)
	ctx := context.Background()
	for i := 0; i < catalog.DefaultProductLimit+3; i++ {
		require.NoError(t, s.InsertIfAbsent(ctx, product(fmt.Sprintf("P%02d", i), "CRM", 4, i)))
	}
	got, err := s.ListProducts(ctx, catalog.SourceCapterra, catalog.ProductQuery{})
	require.NoError(t, err)
	require.Len(t, got, catalog.DefaultProductLimit)
}

func TestUpsertCategoriesKeepsPositions(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t)
	ctx := context.Background()
	summary, err := s.UpsertCategories(ctx, catalog.SourceCapterra, []catalog.Category{
		{Name: "CRM", URL: "https://www.capterra.com/crm/"},
		{Name: "HR", URL: "https://www.capterra.com/hr/"},
	})
	require.NoError(t, err)
	require.Equal(t, catalog.UpsertSummary{Inserted: 2}, summary)

	summary, err = s.UpsertCategories(ctx, catalog.SourceCapterra, []catalog.Category{
		{Name: "Accounting", URL: "https://www.capterra.com/accounting/"},
		{Name: "crm", URL: "https://www.capterra.com/crm-software/", Slug: "crm-software"},
	})
	require.NoError(t, err)
	require.Equal(t, catalog.UpsertSummary{Inserted: 1, Updated: 1}, summary)

	cats, err := s.ListCategories(ctx, catalog.SourceCapterra)
	require.NoError(t, err)
	require.Equal(t, []catalog.Category{
		{Source: catalog.SourceCapterra, Name: "crm", URL: "https://www.capterra.com/crm-software/", Slug: "crm-software", Position: 0},
		{Source: catalog.SourceCapterra, Name: "HR", URL: "https://www.capterra.com/hr/", Position: 1},
		{Source: catalog.SourceCapterra, Name: "Accounting", URL: "https://www.capterra.com/accounting/", Position: 2},
	}, cats)

	n, err := s.CountCategories(ctx, catalog.SourceCapterra)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	n, err = s.CountCategories(ctx, catalog.SourceSoftwareAdvice)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCheckpointLifecycle(t *testing.T) {
	t.Parallel()

	s, clk := openStore(t)
	ctx := context.Background()

	p, err := s.LoadCheckpoint(ctx, catalog.SourceCapterra)
	require.NoError(t, err)
	require.Nil(t, p.LastScrapedCategory)
	require.Zero(t, p.LastScrapedPage)
	require.False(t, p.IsCompleted)
	require.True(t, epoch.Equal(p.LastUpdated))

	category := "CRM"
	p.LastScrapedCategory = &category
	p.LastScrapedPage = 4
	p.TotalPagesInCategory = 9
	p.IsCompleted = true
	p.LastUpdated = epoch.Add(time.Minute)
	require.NoError(t, s.SaveCheckpoint(ctx, p))

	loaded, err := s.LoadCheckpoint(ctx, catalog.SourceCapterra)
	require.NoError(t, err)
	require.Equal(t, "CRM", loaded.CategoryName())
	require.Equal(t, 4, loaded.LastScrapedPage)
	require.Equal(t, 9, loaded.TotalPagesInCategory)
	require.True(t, loaded.IsCompleted)

	clk.Advance(time.Hour)
	reset, err := s.ResetCheckpoint(ctx, catalog.SourceCapterra)
	require.NoError(t, err)
	require.Equal(t, catalog.NewProgress(catalog.SourceCapterra, epoch.Add(time.Hour)), reset)

	loaded, err = s.LoadCheckpoint(ctx, catalog.SourceCapterra)
	require.NoError(t, err)
	require.Nil(t, loaded.LastScrapedCategory)
	require.False(t, loaded.IsCompleted)
}

func TestRunHistory(t *testing.T) {
	t.Parallel()

	s, _ := openStore(t)
	ctx := context.Background()
	for i, src := range []catalog.SourceID{catalog.SourceCapterra, catalog.SourceSoftwareAdvice, catalog.SourceCapterra} {
		require.NoError(t, s.StartRun(ctx, catalog.Run{
			ID:        fmt.Sprintf("run-%d", i+1),
			Source:    src,
			Trigger:   "periodic",
			StartedAt: epoch.Add(time.Duration(i) * time.Minute),
			Status:    catalog.RunRunning,
		}))
	}
	require.ErrorIs(t, s.StartRun(ctx, catalog.Run{ID: "run-1", Source: catalog.SourceCapterra, StartedAt: epoch}),
		catalog.ErrDuplicate)

	msg := "category \"CRM\": page fetch failed"
	done := epoch.Add(10 * time.Minute)
	require.NoError(t, s.FinishRun(ctx, "run-3", done, catalog.RunError,
		catalog.CrawlResult{TotalProducts: 4, CategoriesProcessed: 1}, &msg))
	require.ErrorIs(t, s.FinishRun(ctx, "nope", done, catalog.RunSuccess, catalog.CrawlResult{}, nil), catalog.ErrNotFound)

	runs, err := s.ListRuns(ctx, catalog.SourceCapterra, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-3", runs[0].ID)
	require.Equal(t, catalog.RunError, runs[0].Status)
	require.Equal(t, 4, runs[0].Products)
	require.Equal(t, msg, *runs[0].Error)
	require.True(t, done.Equal(*runs[0].FinishedAt))
	require.Nil(t, runs[1].FinishedAt)
	require.Nil(t, runs[1].Error)

	runs, err = s.ListRuns(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-3", runs[0].ID)
	require.Equal(t, "run-2", runs[1].ID)
}
