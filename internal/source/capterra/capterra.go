// Package capterra adapts www.capterra.com to the crawl orchestrator.
package capterra

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/source"
)

// Site is the Capterra site description.
var Site = source.Site{
	ID:             catalog.SourceCapterra,
	Origin:         "https://www.capterra.com",
	CategoriesPath: "/categories/",
}

var errorMarkers = []string{"oops"}

// RenderMarkers lists markup that is present once a page has rendered. It
// decides when a plain HTTP response needs a headless render.
var RenderMarkers = map[catalog.PageKind][]string{
	catalog.PageCategories: {`data-testid="group-list-item"`},
	catalog.PageListing:    {`href="/p/`},
}

// Adapter extracts categories, listings and product details from Capterra.
type Adapter struct {
	client *source.Client
}

// New builds an Adapter on client.
func New(client *source.Client) *Adapter {
	return &Adapter{client: client}
}

// ID implements catalog.SourceAdapter.
func (a *Adapter) ID() catalog.SourceID { return catalog.SourceCapterra }

// ErrorMarkers implements catalog.SourceAdapter.
func (a *Adapter) ErrorMarkers() []string { return errorMarkers }

// CategoryList fetches the category index.
func (a *Adapter) CategoryList(ctx context.Context) ([]catalog.Category, error) {
	doc, err := a.client.Document(ctx, a.client.Site().CategoriesURL(), catalog.PageCategories)
	if err != nil {
		return nil, err
	}
	return a.parseCategories(doc), nil
}

// ProductLinks fetches one listing page.
func (a *Adapter) ProductLinks(ctx context.Context, categoryURL string, page int) (catalog.ListingPage, error) {
	doc, err := a.client.Document(ctx, source.PageURL(categoryURL, page), catalog.PageListing)
	if err != nil {
		return catalog.ListingPage{}, err
	}
	return catalog.ListingPage{
		Candidates: a.parseCandidates(doc),
		TotalPages: parseTotalPages(doc),
	}, nil
}

// ProductDetail fetches and extracts one product page.
func (a *Adapter) ProductDetail(ctx context.Context, productURL string) (catalog.Product, error) {
	doc, err := a.client.Document(ctx, productURL, catalog.PageDetail)
	if err != nil {
		return catalog.Product{}, err
	}
	return a.parseProduct(doc, productURL)
}

func (a *Adapter) parseCategories(doc *goquery.Document) []catalog.Category {
	var out []catalog.Category
	seen := map[string]struct{}{}
	doc.Find(`li[data-testid="group-list-item"]`).Each(func(_ int, li *goquery.Selection) {
		link := li.Find("a").First()
		name := source.Text(link)
		href, _ := link.Attr("href")
		u := a.client.Resolve(href)
		if name == "" || u == "" {
			return
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, catalog.Category{
			Source: catalog.SourceCapterra,
			Name:   name,
			URL:    u,
			Slug:   source.Slug(u),
		})
	})
	return out
}

var (
	ofTotalRe     = regexp.MustCompile(`(?i)of\s+(\d+)`)
	learnMoreRe   = regexp.MustCompile(`(?i)^learn more(?:\s+about)?\s*`)
	genericLinkRe = regexp.MustCompile(`(?i)^(?:learn more|visit website|compare|reviews?)$`)
)

func parseTotalPages(doc *goquery.Document) int {
	if m := ofTotalRe.FindStringSubmatch(source.FirstText(doc.Selection, `div[data-test-id="current-page-display"]`)); m != nil {
		if n := source.ParseInt(m[1]); n > 0 {
			return n
		}
	}
	maxPage := 0
	doc.Find(`nav[aria-label="Pagination"] li button, nav[aria-label="Pagination"] li a`).Each(func(_ int, el *goquery.Selection) {
		text := source.Text(el)
		if text == "" || strings.IndexFunc(text, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			return
		}
		maxPage = max(maxPage, source.ParseInt(text))
	})
	return max(maxPage, 1)
}

func (a *Adapter) parseCandidates(doc *goquery.Document) []catalog.Candidate {
	out := a.collectCandidates(doc.Find(`a[data-trk-label="text-link_learn-more"]`), true)
	if len(out) == 0 {
		out = a.collectCandidates(doc.Find(`a[href^="/p/"]`), false)
	}
	return out
}

func (a *Adapter) collectCandidates(links *goquery.Selection, requireProductPath bool) []catalog.Candidate {
	var out []catalog.Candidate
	links.Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if requireProductPath && !strings.HasPrefix(href, "/p/") {
			return
		}
		if strings.HasSuffix(href, "/reviews/") {
			return
		}
		u := a.client.Resolve(href)
		if u == "" {
			return
		}
		out = append(out, catalog.Candidate{URL: u, Name: candidateName(link)})
	})
	return out
}

// candidateName prefers a heading inside the link. Generic call-to-action
// text yields "" so the name comes from the detail page instead.
func candidateName(link *goquery.Selection) string {
	el := link.Find("h2, h3").First()
	if el.Length() == 0 {
		el = link
	}
	name := source.CleanProductName(learnMoreRe.ReplaceAllString(source.Text(el), ""))
	if genericLinkRe.MatchString(name) {
		return ""
	}
	return name
}

var boilerplate = "25+ years helping businesses"

var navItems = map[string]struct{}{
	"Software Categories": {}, "Service Categories": {}, "FAQs": {}, "Blog & Research": {},
	"Glossary": {}, "Write a Review": {}, "My Account": {}, "About Us": {}, "Careers": {},
	"Press Page": {}, "Legal Terms": {}, "Privacy Policy": {}, "For Vendors": {}, "Vendor Login": {},
	"Capterra Inc.": {}, "1201 Wilson Blvd": {}, "Arlington, VA 22209": {}, "Email Us": {},
	"Guides & Research": {}, "Who We Are": {}, "OKR Software": {}, "Browse All Categories": {},
}

var (
	ratingRe    = regexp.MustCompile(`\d\.\d`)
	ratingAnyRe = regexp.MustCompile(`\d\.?\d?`)
	parenRe     = regexp.MustCompile(`\(.*\)`)
	parenIntRe  = regexp.MustCompile(`\([\d,]+\)`)
)

func (a *Adapter) parseProduct(doc *goquery.Document, productURL string) (catalog.Product, error) {
	root := doc.Selection
	name := headingName(root)
	if strings.HasPrefix(name, "Reviews of ") {
		return catalog.Product{}, fmt.Errorf("%s: review page: %w", productURL, catalog.ErrExtractionEmpty)
	}

	vendor := source.FirstText(root, `a[data-testid="vendor-link"]`, `div.vendor-name`)
	if vendor == "" {
		vendor = name
	}

	return catalog.Product{
		Source:      catalog.SourceCapterra,
		Name:        name,
		Description: description(root),
		Rating:      rating(root),
		ReviewCount: reviewCount(root),
		Features:    features(root),
		Pricing:     catalog.Pricing{Plans: plans(root)},
		Vendor: catalog.Vendor{
			Name:    source.CleanVendorName(vendor),
			Website: a.vendorWebsite(root),
		},
		Logo: a.logo(root),
		URL:  productURL,
	}, nil
}

func headingName(root *goquery.Selection) string {
	heading := source.First(root,
		`h1.text-typo-70.font-bold.text-neutral-100`,
		`h1[data-testid="product-header-title"]`,
		`h1`,
		`h2.text-typo-50`,
	)
	if heading.Length() == 0 {
		return ""
	}
	if heading.Find("figure").Length() > 0 {
		heading = heading.Clone()
		heading.Find("figure, img").Remove()
	}
	return source.CleanProductName(source.Text(heading))
}

func description(root *goquery.Selection) string {
	if d := source.FirstText(root, `p.line-clamp-4.whitespace-pre-wrap`); d != "" && !strings.Contains(d, boilerplate) {
		return d
	}
	var found string
	root.Find("article h2").EachWithBreak(func(_ int, h2 *goquery.Selection) bool {
		if !strings.HasPrefix(strings.ToLower(source.Text(h2)), "what is ") {
			return true
		}
		found = source.Text(h2.NextAllFiltered("p").First())
		return false
	})
	if found != "" {
		return found
	}
	if d := source.FirstText(root,
		`p.text-neutral-99.text-md.pb-lg.max-w-7xl.font-sans`,
		`section[data-testid="product-summary"] p`,
		`section#about p`,
		`div[data-testid="description"]`,
	); d != "" {
		return d
	}
	root.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		t := source.Text(p)
		if len(t) > 30 && !strings.Contains(t, boilerplate) {
			found = t
			return false
		}
		return true
	})
	return found
}

func plans(root *goquery.Selection) []catalog.Plan {
	out := []catalog.Plan{}
	root.Find(`div[id^="slider-card-pricing"], div.c1ofrhif`).Each(func(_ int, card *goquery.Selection) {
		name := source.FirstText(card, `span.font-semibold`)
		price := source.FirstText(card, `span.hbasb1j.font-semibold`, `span.font-semibold + div span.font-semibold`)
		if price == "" {
			card.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if t := source.Text(s); strings.Contains(t, "$") {
					price = t
					return false
				}
				return true
			})
		}
		if name != "" && price != "" {
			out = append(out, catalog.Plan{Name: name, Price: price})
		}
	})
	return out
}

func features(root *goquery.Selection) []string {
	var raw []string
	collect := func(sel *goquery.Selection) {
		sel.Each(func(_ int, s *goquery.Selection) {
			raw = append(raw, source.Text(s))
		})
	}
	if spans := root.Find(`span[data-testid="dottedFeatureSpan"]`); spans.Length() > 0 {
		collect(spans)
		return source.Unique(raw)
	}
	if ps := root.Find(`div[data-testid="product-card-category-features"] p`); ps.Length() > 1 {
		collect(ps.Slice(1, ps.Length()))
	} else if lis := root.Find(`ul[data-testid="features-list"] li`); lis.Length() > 0 {
		collect(lis)
	} else {
		root.Find("li").Each(func(_ int, li *goquery.Selection) {
			if t := source.Text(li); len(t) > 3 {
				raw = append(raw, t)
			}
		})
	}
	filtered := raw[:0]
	for _, f := range raw {
		if _, nav := navItems[f]; len(f) > 2 && !nav {
			filtered = append(filtered, f)
		}
	}
	return source.Unique(filtered)
}

func (a *Adapter) vendorWebsite(root *goquery.Selection) string {
	if btn := root.Find(`button[data-testid="visit-website-button"]`).First(); btn.Length() > 0 {
		for _, attr := range []string{"data-href", "data-url"} {
			if v, ok := btn.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	var site string
	root.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if !strings.HasPrefix(href, "http") || strings.Contains(href, "capterra.com") {
			return true
		}
		if strings.Contains(strings.ToLower(link.Text()), "visit website") {
			site = href
			return false
		}
		return true
	})
	return site
}

func (a *Adapter) logo(root *goquery.Selection) string {
	img := root.Find(`figure img[alt], a.thumbnail img[alt="product-logo"]`).First()
	if img.Length() == 0 {
		return ""
	}
	if src := source.LargestSrc(img); src != "" {
		return a.client.Resolve(src)
	}
	return ""
}

func rating(root *goquery.Selection) float64 {
	el := source.First(root, `span[data-testid="star-rating-value"]`)
	if el.Length() == 0 {
		el = source.FirstMatching(root, ratingAnyRe,
			`div[aria-label*="Rating"]`, `span.text-typo-20.text-neutral-99`, `span.star-rating-label`)
	}
	text := ""
	if el != nil && el.Length() > 0 {
		text = el.Text()
	}
	if !ratingRe.MatchString(text) {
		text = root.Find("body").Text()
	}
	return source.ParseFloat(ratingRe.FindString(text))
}

func reviewCount(root *goquery.Selection) int {
	el := source.First(root, `span[data-testid="review-count"]`)
	if el.Length() == 0 {
		el = source.FirstMatching(root, parenRe, `span.text-typo-20.text-neutral-99`, `span.star-rating-label`)
	}
	if el != nil && el.Length() > 0 {
		if n := source.ParseParenCount(el.Text()); n > 0 {
			return n
		}
	}
	return source.ParseParenCount(parenIntRe.FindString(root.Find("body").Text()))
}
