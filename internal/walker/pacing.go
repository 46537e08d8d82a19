package walker

import "time"

// Pacing controls batching and the delays between crawl steps.
type Pacing struct {
	BatchSize     int
	PagePause     time.Duration
	ProductPause  time.Duration
	BatchPause    time.Duration
	CategoryPause time.Duration
	// FetchTimeout bounds each listing fetch and each candidate's resolution.
	FetchTimeout time.Duration
}

// DefaultPacing mirrors the cadence the catalog sites tolerate without throttling.
func DefaultPacing() Pacing {
	return Pacing{
		BatchSize:     5,
		PagePause:     3 * time.Second,
		ProductPause:  3 * time.Second,
		BatchPause:    60 * time.Second,
		CategoryPause: 10 * time.Second,
		FetchTimeout:  60 * time.Second,
	}
}

func (p Pacing) withDefaults() Pacing {
	def := DefaultPacing()
	if p.BatchSize <= 0 {
		p.BatchSize = def.BatchSize
	}
	if p.FetchTimeout <= 0 {
		p.FetchTimeout = def.FetchTimeout
	}
	if p.PagePause < 0 {
		p.PagePause = 0
	}
	if p.ProductPause < 0 {
		p.ProductPause = 0
	}
	if p.BatchPause < 0 {
		p.BatchPause = 0
	}
	if p.CategoryPause < 0 {
		p.CategoryPause = 0
	}
	return p
}
