// Package fake provides a scripted catalog.SourceAdapter for tests and
// local dry runs.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// PageRef identifies one listing page request.
type PageRef struct {
	CategoryURL string
	Page        int
}

// Adapter serves a fixed catalog from memory and records every call.
type Adapter struct {
	Source  catalog.SourceID
	Markers []string

	mu         sync.Mutex
	categories []catalog.Category
	pages      map[string][][]catalog.Candidate
	details    map[string]catalog.Product
	pageErrs   map[PageRef]error
	detailErrs map[string]error

	listingCalls []PageRef
	detailCalls  []string
	// OnListing runs before a listing page is served.
	OnListing func(ref PageRef)
}

// New constructs an empty Adapter for source.
func New(source catalog.SourceID) *Adapter {
	return &Adapter{
		Source:     source,
		Markers:    []string{"oops"},
		pages:      make(map[string][][]catalog.Candidate),
		details:    make(map[string]catalog.Product),
		pageErrs:   make(map[PageRef]error),
		detailErrs: make(map[string]error),
	}
}

// AddCategory registers a category whose listing spans pages; each page lists
// product names. Detail records are generated for every name.
func (a *Adapter) AddCategory(name string, pages ...[]string) catalog.Category {
	a.mu.Lock()
	defer a.mu.Unlock()
	url := fmt.Sprintf("https://%s.test/categories/%s", a.Source, name)
	cat := catalog.Category{Source: a.Source, Name: name, URL: url, Position: len(a.categories)}
	a.categories = append(a.categories, cat)
	listing := make([][]catalog.Candidate, 0, len(pages))
	for _, names := range pages {
		cands := make([]catalog.Candidate, 0, len(names))
		for _, n := range names {
			productURL := fmt.Sprintf("https://%s.test/p/%s/%s", a.Source, name, n)
			cands = append(cands, catalog.Candidate{URL: productURL, Name: n})
			if _, ok := a.details[productURL]; !ok {
				a.details[productURL] = catalog.Product{
					Name:   n,
					Rating: 4.5,
					Vendor: catalog.Vendor{Name: n + " Inc"},
				}
			}
		}
		listing = append(listing, cands)
	}
	a.pages[url] = listing
	return cat
}

// SetDetail overrides the record served for productURL.
func (a *Adapter) SetDetail(productURL string, product catalog.Product) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.details[productURL] = product
}

// FailPage makes a listing page return err.
func (a *Adapter) FailPage(categoryURL string, page int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.pageErrs, PageRef{CategoryURL: categoryURL, Page: page})
		return
	}
	a.pageErrs[PageRef{CategoryURL: categoryURL, Page: page}] = err
}

// FailDetail makes a detail page return err.
func (a *Adapter) FailDetail(productURL string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detailErrs[productURL] = err
}

// ID implements catalog.SourceAdapter.
func (a *Adapter) ID() catalog.SourceID { return a.Source }

// ErrorMarkers implements catalog.SourceAdapter.
func (a *Adapter) ErrorMarkers() []string { return a.Markers }

// CategoryList implements catalog.SourceAdapter.
func (a *Adapter) CategoryList(context.Context) ([]catalog.Category, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]catalog.Category(nil), a.categories...), nil
}

// ProductLinks implements catalog.SourceAdapter. Pages past the end are empty.
func (a *Adapter) ProductLinks(_ context.Context, categoryURL string, page int) (catalog.ListingPage, error) {
	ref := PageRef{CategoryURL: categoryURL, Page: page}
	if a.OnListing != nil {
		a.OnListing(ref)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listingCalls = append(a.listingCalls, ref)
	if err, ok := a.pageErrs[ref]; ok {
		return catalog.ListingPage{}, err
	}
	listing, ok := a.pages[categoryURL]
	if !ok {
		return catalog.ListingPage{}, fmt.Errorf("unknown category %s", categoryURL)
	}
	total := len(listing)
	if total == 0 {
		total = 1
	}
	if page < 1 || page > len(listing) {
		return catalog.ListingPage{TotalPages: total}, nil
	}
	return catalog.ListingPage{
		Candidates: append([]catalog.Candidate(nil), listing[page-1]...),
		TotalPages: total,
	}, nil
}

// ProductDetail implements catalog.SourceAdapter.
func (a *Adapter) ProductDetail(_ context.Context, productURL string) (catalog.Product, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detailCalls = append(a.detailCalls, productURL)
	if err, ok := a.detailErrs[productURL]; ok {
		return catalog.Product{}, err
	}
	p, ok := a.details[productURL]
	if !ok {
		return catalog.Product{}, catalog.ErrExtractionEmpty
	}
	return p, nil
}

// ListingCalls returns every listing page request in order.
func (a *Adapter) ListingCalls() []PageRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]PageRef(nil), a.listingCalls...)
}

// DetailCalls returns every detail page request in order.
func (a *Adapter) DetailCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.detailCalls...)
}

// ProductURL returns the URL AddCategory assigns to name within category.
func (a *Adapter) ProductURL(category, name string) string {
	return fmt.Sprintf("https://%s.test/p/%s/%s", a.Source, category, name)
}
