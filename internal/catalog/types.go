package catalog

import (
	"strings"
	"time"
)

// SourceID names one catalog site.
type SourceID string

// Known sources.
const (
	SourceCapterra       SourceID = "capterra"
	SourceSoftwareAdvice SourceID = "softwareadvice"
)

// KnownSources lists every source the crawler ships an adapter for, in kickoff order.
var KnownSources = []SourceID{SourceCapterra, SourceSoftwareAdvice}

// ParseSourceID validates raw against KnownSources.
func ParseSourceID(raw string) (SourceID, error) {
	id := SourceID(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range KnownSources {
		if id == known {
			return id, nil
		}
	}
	return "", UnknownSourceError(raw)
}

// Category is a named product grouping with its own paginated listing.
type Category struct {
	Source   SourceID `json:"source"`
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Slug     string   `json:"slug,omitempty"`
	Position int      `json:"position"`
}

// Plan is one named pricing tier.
type Plan struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

// Pricing groups the advertised starting price and plans.
type Pricing struct {
	StartingPrice string `json:"starting_price,omitempty"`
	Plans         []Plan `json:"plans"`
}

// Vendor identifies who sells a product.
type Vendor struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}

// Product is a single catalog record, generalized across sources.
type Product struct {
	Source      SourceID  `json:"source"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Rating      float64   `json:"rating"`
	ReviewCount int       `json:"review_count"`
	Features    []string  `json:"features"`
	Pricing     Pricing   `json:"pricing"`
	Vendor      Vendor    `json:"vendor"`
	Logo        string    `json:"logo,omitempty"`
	URL         string    `json:"url,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// Key returns the product's natural key.
func (p Product) Key() NaturalKey {
	return Key(p.Name, p.Category)
}

// Validate rejects records that carry no usable name or look like an error page.
// Markers are matched case-insensitively against the product and vendor names.
func (p Product) Validate(markers []string) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return invalidRecordError("empty name")
	}
	lowerName := strings.ToLower(name)
	lowerVendor := strings.ToLower(p.Vendor.Name)
	for _, marker := range markers {
		m := strings.ToLower(strings.TrimSpace(marker))
		if m == "" {
			continue
		}
		if strings.Contains(lowerName, m) || strings.Contains(lowerVendor, m) {
			return invalidRecordError("error page marker " + m)
		}
	}
	return nil
}

// Progress is the durable per-source checkpoint.
type Progress struct {
	Source               SourceID  `json:"source"`
	LastScrapedCategory  *string   `json:"last_scraped_category"`
	LastScrapedPage      int       `json:"last_scraped_page"`
	TotalPagesInCategory int       `json:"total_pages_in_category"`
	IsCompleted          bool      `json:"is_completed"`
	LastUpdated          time.Time `json:"last_updated"`
}

// NewProgress returns a blank checkpoint for source.
func NewProgress(source SourceID, now time.Time) Progress {
	return Progress{Source: source, LastUpdated: now}
}

// CategoryName returns the checkpoint category or "" when none is recorded.
func (p Progress) CategoryName() string {
	if p.LastScrapedCategory == nil {
		return ""
	}
	return *p.LastScrapedCategory
}

// Candidate is a product link discovered on a listing page.
type Candidate struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Key returns the candidate's natural key within category.
func (c Candidate) Key(category string) NaturalKey {
	return Key(c.Name, category)
}

// ListingPage is the extracted content of one category listing page.
type ListingPage struct {
	Candidates []Candidate
	TotalPages int
}

// NaturalKey identifies a product for deduplication. Name is normalized.
type NaturalKey struct {
	Name     string
	Category string
}

// Key builds a NaturalKey, lower-casing and trimming the name.
func Key(name, category string) NaturalKey {
	return NaturalKey{
		Name:     NormalizeName(name),
		Category: category,
	}
}

// NormalizeName folds a product name for case-insensitive comparison.
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// ProductQuery filters product listings.
type ProductQuery struct {
	Category  string
	MinRating float64
	Limit     int
}

// DefaultProductLimit is used when a query does not set a limit.
const DefaultProductLimit = 10

// RunStatus is the lifecycle state of a recorded crawl run.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run records one full-crawl execution for a source.
type Run struct {
	ID         string     `json:"id"`
	Source     SourceID   `json:"source"`
	Trigger    string     `json:"trigger"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Products   int        `json:"products"`
	Categories int        `json:"categories"`
	Error      *string    `json:"error,omitempty"`
}

// CrawlResult summarizes a full crawl.
type CrawlResult struct {
	CategoriesProcessed int `json:"categories_processed"`
	TotalProducts       int `json:"total_products"`
}
