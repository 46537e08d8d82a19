package softwareadvice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/source"
)

const categoriesHTML = `<html><body>
<a data-testid="category-link-1" href="/crm/">CRM</a>
<a data-testid="category-link-2" href="/accounting/">Accounting</a>
<a data-testid="category-link-3" href="#top">Back to top</a>
<a data-testid="category-link-4" href="/hr/"></a>
<a href="/other/">Not a category</a>
</body></html>`

const listingHTML = `<html><body>
<div data-testid="ProductCardComponent"><a data-testid="product-title" href="/crm/acme-profile/">Acme CRM</a></div>
<div data-testid="ProductCardComponent"><a data-testid="product-title" href="https://www.softwareadvice.com/crm/beta-profile/">Beta</a></div>
<div data-testid="ProductCardComponent"><a data-testid="product-title" href="/crm/acme-profile/">Acme CRM</a></div>
<div data-testid="ProductCardComponent"><a data-testid="product-title" href="#compare">Compare</a></div>
<a data-testid="product-title" href="/crm/outside-card/">Outside</a>
<nav data-testid="pagination-section">
<a href="/crm/?page=2">2</a><a href="/crm/?page=3">3</a>
<span data-testid="pagination-pages-9">9</span>
<span data-testid="pagination-pages-next">Next</span>
</nav>
</body></html>`

const productHTML = `<html><body>
<h1 data-testid="productTitle"> Acme   CRM </h1>
<div data-testid="productLogo"><img src="/logos/acme.png"></div>
<p data-testid="productDescription">Acme CRM tracks leads.</p>
<span data-testid="product-rating">4.7 out of 5</span>
<a data-testid="reviews-link">1,532 reviews</a>
<div data-testid="starting-price">Starting from $19.99/month</div>
<div data-testid="pricing-plans"><p>Basic</p><span class="text-4xl">$19.99</span></div>
<div data-testid="pricing-plans"><p>Plus</p><span class="text-4xl">$49</span></div>
<div data-testid="pricing-plans"><p>Custom</p></div>
<div data-testid="popularFeaturesContent">
<span>Popular features</span><span>Lead Management</span><span>API</span><span>Email Marketing</span>
</div>
<div data-testid="moreFeaturesContent"><span>See All features</span><span>Lead Management</span><span>Reporting</span></div>
<button data-testid="headerVisitWebsiteBtn" data-href="https://acme.example.com">Visit</button>
</body></html>`

const fallbackProductHTML = `<html><body>
<h1>Beta</h1>
<div class="product-description">Beta is a help desk.</div>
<span data-testid="rating">4</span>
<span data-testid="reviews-text">(12)</span>
<div class="pricing">Free trial available</div>
<img alt="Beta Logo" src="https://cdn.example.com/beta.png">
</body></html>`

type pageFetcher map[string]string

func (p pageFetcher) Fetch(_ context.Context, r catalog.FetchRequest) (catalog.FetchResponse, error) {
	body, ok := p[r.URL]
	if !ok {
		return catalog.FetchResponse{}, errors.New("not found: " + r.URL)
	}
	return catalog.FetchResponse{URL: r.URL, StatusCode: 200, Body: []byte(body)}, nil
}

type denyAll struct{}

func (denyAll) Allowed(context.Context, string, string) bool { return false }

func newAdapter(pages pageFetcher, policy catalog.CompliancePolicy) *Adapter {
	return New(source.NewClient(Site, pages, policy, nil))
}

func TestCategoryList(t *testing.T) {
	t.Parallel()

	a := newAdapter(pageFetcher{"https://www.softwareadvice.com/categories/": categoriesHTML}, nil)
	cats, err := a.CategoryList(context.Background())
	require.NoError(t, err)
	require.Equal(t, []catalog.Category{
		{Source: catalog.SourceSoftwareAdvice, Name: "CRM", URL: "https://www.softwareadvice.com/crm/", Slug: "crm"},
		{Source: catalog.SourceSoftwareAdvice, Name: "Accounting", URL: "https://www.softwareadvice.com/accounting/", Slug: "accounting"},
	}, cats)
}

func TestProductLinks(t *testing.T) {
	t.Parallel()

	a := newAdapter(pageFetcher{"https://www.softwareadvice.com/crm/?page=2": listingHTML}, nil)
	page, err := a.ProductLinks(context.Background(), "https://www.softwareadvice.com/crm/?sort=top", 2)
	require.NoError(t, err)
	require.Equal(t, 9, page.TotalPages)
	require.Equal(t, []catalog.Candidate{
		{URL: "https://www.softwareadvice.com/crm/acme-profile/", Name: "Acme CRM"},
		{URL: "https://www.softwareadvice.com/crm/beta-profile/", Name: "Beta"},
	}, page.Candidates)
}

func TestProductLinksDefaultsToOnePage(t *testing.T) {
	t.Parallel()

	a := newAdapter(pageFetcher{"https://www.softwareadvice.com/crm/": `<html><body><a href="?page=4">4</a></body></html>`}, nil)
	page, err := a.ProductLinks(context.Background(), "https://www.softwareadvice.com/crm/", 1)
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalPages)
	require.Empty(t, page.Candidates)
}

func TestProductDetail(t *testing.T) {
	t.Parallel()

	url := "https://www.softwareadvice.com/crm/acme-profile/"
	a := newAdapter(pageFetcher{url: productHTML}, nil)
	p, err := a.ProductDetail(context.Background(), url)
	require.NoError(t, err)

	require.Equal(t, "Acme CRM", p.Name)
	require.Equal(t, "Acme CRM tracks leads.", p.Description)
	require.InDelta(t, 4.7, p.Rating, 0.0001)
	require.Equal(t, 1532, p.ReviewCount)
	require.Equal(t, catalog.Pricing{
		StartingPrice: "$19.99",
		Plans:         []catalog.Plan{{Name: "Basic", Price: "$19.99"}, {Name: "Plus", Price: "$49"}},
	}, p.Pricing)
	require.Equal(t, []string{"Lead Management", "Email Marketing", "Reporting"}, p.Features)
	require.Equal(t, catalog.Vendor{Name: "Acme CRM", Website: "https://acme.example.com"}, p.Vendor)
	require.Equal(t, "https://www.softwareadvice.com/logos/acme.png", p.Logo)
	require.NoError(t, p.Validate(a.ErrorMarkers()))
}

func TestProductDetailFallbacks(t *testing.T) {
	t.Parallel()

	url := "https://www.softwareadvice.com/help-desk/beta-profile/"
	a := newAdapter(pageFetcher{url: fallbackProductHTML}, nil)
	p, err := a.ProductDetail(context.Background(), url)
	require.NoError(t, err)

	require.Equal(t, "Beta", p.Name)
	require.Equal(t, "Beta is a help desk.", p.Description)
	require.InDelta(t, 4.0, p.Rating, 0.0001)
	require.Equal(t, 12, p.ReviewCount)
	require.Equal(t, "Free trial available", p.Pricing.StartingPrice)
	require.Empty(t, p.Pricing.Plans)
	require.Empty(t, p.Features)
	require.Empty(t, p.Vendor.Website)
	require.Equal(t, "https://cdn.example.com/beta.png", p.Logo)
}

func TestErrorPagesFailValidation(t *testing.T) {
	t.Parallel()

	for _, heading := range []string{"Oops, page not found", "Error 500"} {
		url := "https://www.softwareadvice.com/x/"
		a := newAdapter(pageFetcher{url: "<html><body><h1>" + heading + "</h1></body></html>"}, nil)
		p, err := a.ProductDetail(context.Background(), url)
		require.NoError(t, err)
		require.ErrorIs(t, p.Validate(a.ErrorMarkers()), catalog.ErrInvalidRecord, heading)
	}
}

func TestPolicyDenied(t *testing.T) {
	t.Parallel()

	a := newAdapter(pageFetcher{}, denyAll{})
	_, err := a.CategoryList(context.Background())
	require.ErrorIs(t, err, catalog.ErrPolicyDenied)
	_, err = a.ProductLinks(context.Background(), "https://www.softwareadvice.com/crm/", 1)
	require.ErrorIs(t, err, catalog.ErrPolicyDenied)
}
