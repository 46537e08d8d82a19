package catalog

import (
	"context"
	"io"
	"net/http"
	"time"
)

// SourceAdapter is everything the orchestrator needs from one catalog site.
type SourceAdapter interface {
	ID() SourceID
	// ErrorMarkers lists lower-case substrings that identify an error page by name.
	ErrorMarkers() []string
	CategoryList(ctx context.Context) ([]Category, error)
	// ProductLinks returns the candidates on one listing page plus the detected page count.
	ProductLinks(ctx context.Context, categoryURL string, page int) (ListingPage, error)
	// ProductDetail returns ErrExtractionEmpty when the page held no usable record.
	ProductDetail(ctx context.Context, productURL string) (Product, error)
}

// RecordStore persists products under a natural-key uniqueness constraint.
type RecordStore interface {
	// FindExisting returns the subset of keys already stored for source.
	FindExisting(ctx context.Context, source SourceID, keys []NaturalKey) (map[NaturalKey]bool, error)
	// InsertIfAbsent returns ErrDuplicate when the natural key already exists.
	InsertIfAbsent(ctx context.Context, product Product) error
	ListProducts(ctx context.Context, source SourceID, query ProductQuery) ([]Product, error)
	CountProducts(ctx context.Context, source SourceID) (int, error)
}

// CategoryStore persists discovered categories, upserted by name.
type CategoryStore interface {
	UpsertCategories(ctx context.Context, source SourceID, categories []Category) (UpsertSummary, error)
	// ListCategories returns categories in discovery order.
	ListCategories(ctx context.Context, source SourceID) ([]Category, error)
	CountCategories(ctx context.Context, source SourceID) (int, error)
}

// UpsertSummary counts the outcome of a category upsert.
type UpsertSummary struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// ProgressStore holds one checkpoint per source.
type ProgressStore interface {
	// LoadCheckpoint creates and persists a blank checkpoint when none exists.
	LoadCheckpoint(ctx context.Context, source SourceID) (Progress, error)
	// SaveCheckpoint overwrites the checkpoint; it is durable when it returns.
	SaveCheckpoint(ctx context.Context, progress Progress) error
	// ResetCheckpoint deletes the checkpoint and recreates it blank.
	ResetCheckpoint(ctx context.Context, source SourceID) (Progress, error)
}

// RunStore records crawl run history.
type RunStore interface {
	StartRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, status RunStatus, result CrawlResult, errMsg *string) error
	ListRuns(ctx context.Context, source SourceID, limit int) ([]Run, error)
}

// CompliancePolicy decides whether a URL may be crawled.
type CompliancePolicy interface {
	Allowed(ctx context.Context, originBaseURL, targetURL string) bool
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Source  SourceID
	Kind    PageKind
	Headers http.Header
}

// PageKind labels what a fetched page is expected to contain.
type PageKind string

// Page kinds.
const (
	PageCategories PageKind = "categories"
	PageListing    PageKind = "listing"
	PageDetail     PageKind = "detail"
)

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop reports whether the call prevented the callback from running.
	Stop() bool
}

// TimerClock is a Clock that can also schedule callbacks.
type TimerClock interface {
	Clock
	AfterFunc(d time.Duration, f func()) Timer
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Pauser waits between logical crawl steps. Implementations return early when ctx ends.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}
