// Package softwareadvice adapts www.softwareadvice.com to the crawl
// orchestrator.
package softwareadvice

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/source"
)

// Site is the SoftwareAdvice site description.
var Site = source.Site{
	ID:             catalog.SourceSoftwareAdvice,
	Origin:         "https://www.softwareadvice.com",
	CategoriesPath: "/categories/",
}

var errorMarkers = []string{"oops", "error"}

// RenderMarkers lists markup a rendered page carries for each page kind.
var RenderMarkers = map[catalog.PageKind][]string{
	catalog.PageCategories: {`data-testid="category-link-`},
	catalog.PageListing:    {`data-testid="ProductCardComponent"`},
}

// Adapter extracts categories, listings and product details from SoftwareAdvice.
type Adapter struct {
	client *source.Client
}

// New builds an Adapter on client.
func New(client *source.Client) *Adapter {
	return &Adapter{client: client}
}

// ID implements catalog.SourceAdapter.
func (a *Adapter) ID() catalog.SourceID { return catalog.SourceSoftwareAdvice }

// ErrorMarkers implements catalog.SourceAdapter.
func (a *Adapter) ErrorMarkers() []string { return errorMarkers }

// CategoryList fetches the category index.
func (a *Adapter) CategoryList(ctx context.Context) ([]catalog.Category, error) {
	doc, err := a.client.Document(ctx, a.client.Site().CategoriesURL(), catalog.PageCategories)
	if err != nil {
		return nil, err
	}
	var out []catalog.Category
	doc.Find(`a[data-testid^="category-link-"]`).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		name := source.Text(link)
		if name == "" || strings.Contains(href, "#") || strings.Contains(name, "sr-only") {
			return
		}
		u := a.client.Resolve(href)
		if u == "" {
			return
		}
		out = append(out, catalog.Category{
			Source: catalog.SourceSoftwareAdvice,
			Name:   name,
			URL:    u,
			Slug:   source.Slug(u),
		})
	})
	return out, nil
}

// ProductLinks fetches one listing page.
func (a *Adapter) ProductLinks(ctx context.Context, categoryURL string, page int) (catalog.ListingPage, error) {
	doc, err := a.client.Document(ctx, source.PageURL(categoryURL, page), catalog.PageListing)
	if err != nil {
		return catalog.ListingPage{}, err
	}
	var candidates []catalog.Candidate
	seen := map[string]struct{}{}
	doc.Find(`[data-testid="ProductCardComponent"] [data-testid="product-title"]`).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		name := source.Text(link)
		if name == "" || strings.Contains(href, "#") {
			return
		}
		u := a.client.Resolve(href)
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		candidates = append(candidates, catalog.Candidate{URL: u, Name: name})
	})
	return catalog.ListingPage{Candidates: candidates, TotalPages: totalPages(doc)}, nil
}

var pageParamRe = regexp.MustCompile(`page=(\d+)`)

func totalPages(doc *goquery.Document) int {
	section := doc.Find(`[data-testid="pagination-section"]`).First()
	if section.Length() == 0 {
		return 1
	}
	maxPage := 0
	section.Find(`a[href*="page="]`).Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if m := pageParamRe.FindStringSubmatch(href); m != nil {
			maxPage = max(maxPage, source.ParseInt(m[1]))
		}
	})
	doc.Find(`[data-testid^="pagination-pages-"]`).Each(func(_ int, el *goquery.Selection) {
		maxPage = max(maxPage, source.ParseInt(source.Text(el)))
	})
	return max(maxPage, 1)
}

var (
	priceRe = regexp.MustCompile(`\$[\d,]+\.?\d*`)
	countRe = regexp.MustCompile(`\d[\d,]*`)
)

var featureNoise = []string{"See All", "StarComponent", "Popular features", "More features"}

// ProductDetail fetches and extracts one product page. SoftwareAdvice does
// not name vendors separately, so the vendor takes the product name.
func (a *Adapter) ProductDetail(ctx context.Context, productURL string) (catalog.Product, error) {
	doc, err := a.client.Document(ctx, productURL, catalog.PageDetail)
	if err != nil {
		return catalog.Product{}, err
	}
	root := doc.Selection
	name := source.FirstText(root, `[data-testid="productTitle"]`, `h1`, `[data-testid="product-title"]`)

	website := ""
	if v, ok := root.Find(`[data-testid="headerVisitWebsiteBtn"]`).First().Attr("data-href"); ok {
		website = strings.TrimSpace(v)
	}

	return catalog.Product{
		Source: catalog.SourceSoftwareAdvice,
		Name:   name,
		Description: source.FirstText(root,
			`[data-testid="productDescription"]`,
			`[data-testid="product-description"]`,
			`.product-description`,
		),
		Rating:      source.ParseFloat(source.FirstText(root, `[data-testid="product-rating"]`, `[data-testid="rating"]`)),
		ReviewCount: source.ParseInt(countRe.FindString(source.FirstText(root, `[data-testid="reviews-link"]`, `[data-testid="reviews-text"]`))),
		Features:    features(root),
		Pricing:     pricing(root),
		Vendor:      catalog.Vendor{Name: name, Website: website},
		Logo:        a.logo(root),
		URL:         productURL,
	}, nil
}

func pricing(root *goquery.Selection) catalog.Pricing {
	p := catalog.Pricing{
		StartingPrice: priceRe.FindString(source.FirstText(root, `[data-testid="starting-price"]`)),
		Plans:         []catalog.Plan{},
	}
	root.Find(`[data-testid="pricing-plans"]`).Each(func(_ int, plan *goquery.Selection) {
		name := source.Text(plan.Find("p").First())
		price := source.Text(plan.Find(".text-4xl").First())
		if name != "" && price != "" {
			p.Plans = append(p.Plans, catalog.Plan{Name: name, Price: price})
		}
	})
	if len(p.Plans) == 0 {
		if text := source.FirstText(root, `[data-testid="pricing"]`, `.pricing`); text != "" {
			p.StartingPrice = text
		}
	}
	return p
}

func features(root *goquery.Selection) []string {
	var out []string
	root.Find(`[data-testid="popularFeaturesContent"] span, [data-testid="moreFeaturesContent"] span`).
		Each(func(_ int, s *goquery.Selection) {
			text := source.Text(s)
			if len(text) <= 3 {
				return
			}
			for _, noise := range featureNoise {
				if strings.Contains(text, noise) {
					return
				}
			}
			out = append(out, text)
		})
	return source.Unique(out)
}

func (a *Adapter) logo(root *goquery.Selection) string {
	img := source.First(root,
		`[data-testid="productLogo"] img`,
		`[data-testid="product-logo"] img`,
		`img[alt*="logo"], img[alt*="Logo"]`,
	)
	if img.Length() == 0 {
		return ""
	}
	src, _ := img.Attr("src")
	return a.client.Resolve(src)
}
