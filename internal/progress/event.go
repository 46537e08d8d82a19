package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StageCategoryStart Stage = "CATEGORY_START"
	StagePageDone      Stage = "PAGE_DONE"
	StageIngest        Stage = "INGEST"
)

// Outcome is the result of ingesting one candidate.
type Outcome string

// Ingest outcomes.
const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Event captures one step of a crawl run.
type Event struct {
	// RunID is the run's ID exactly as the scheduler issued it.
	RunID string
	TS    time.Time
	Stage Stage
	// Source is the catalog site being crawled.
	Source catalog.SourceID
	// Trigger records what started the run (kickoff, periodic, manual).
	Trigger  string
	Category string
	Page     int
	// TotalPages is the detected page count of Category.
	TotalPages int
	URL        string
	Outcome    Outcome
	// Products and Categories carry run totals on RUN_DONE and per-page counts on PAGE_DONE.
	Products   int64
	Categories int64
	Dur        time.Duration
	Note       string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Source == "" {
		return errors.New("source is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageCategoryStart:
		if e.Category == "" {
			return errors.New("category start requires category")
		}
	case StagePageDone:
		if e.Category == "" || e.Page <= 0 {
			return errors.New("page done requires category and page")
		}
	case StageIngest:
		if e.Outcome == "" {
			return errors.New("ingest requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
