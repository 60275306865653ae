package crawler

import (
	"context"
	"time"
)

// ProductRecord represents one scraped listing entry
type ProductRecord struct {
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	OldPrice  *string   `json:"old_price,omitempty"`
	Link      string    `json:"link"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// CrawlBatch is the ordered set of records gathered by one crawl
type CrawlBatch []ProductRecord

// OutcomeKind classifies a single page fetch
type OutcomeKind int

const (
	Success OutcomeKind = iota
	RateLimited
	TransientError
	NetworkFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case TransientError:
		return "transient_error"
	case NetworkFailure:
		return "network_failure"
	default:
		return "unknown"
	}
}

// FetchOutcome is the classified result of fetching one listing page.
// Body is only set for Success; Err carries the cause for the failure kinds.
type FetchOutcome struct {
	Kind       OutcomeKind
	Body       []byte
	StatusCode int
	Err        error
}

// CrawlEnd is the terminal state a crawl stopped in
type CrawlEnd string

const (
	// Exhausted means an empty page was reached
	Exhausted CrawlEnd = "exhausted"
	// Faulted means a page no longer matched the expected markup
	Faulted CrawlEnd = "faulted"
	// Cancelled means the context ended mid-crawl
	Cancelled CrawlEnd = "cancelled"
)

// CrawlResult is what the driver hands to the persistence sink
type CrawlResult struct {
	Batch      CrawlBatch
	Pages      int
	End        CrawlEnd
	Fault      error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Fetcher retrieves and classifies one listing page
type Fetcher interface {
	Fetch(ctx context.Context, page int) FetchOutcome
}

// PageResult is the extraction of one listing page. Empty is set when the page
// has no result entries at all, which ends pagination.
type PageResult struct {
	Records CrawlBatch
	Empty   bool
	Skipped int
}

// PageExtractor turns one page of markup into records
type PageExtractor interface {
	Extract(markup []byte, scrapedAt time.Time) (PageResult, error)
}

// SleepFunc suspends for d, returning early with an error if ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Selectors contains CSS selectors for the listing page
type Selectors struct {
	ResultList string
	Title      string
	Price      string
}

// DefaultSelectors returns the selectors for the Amazon search results layout
func DefaultSelectors() Selectors {
	return Selectors{
		ResultList: "div[data-component-type='s-search-result']",
		Title:      "h2 > a",
		Price:      "span.a-price > span.a-offscreen",
	}
}

// CrawlerConfig contains configuration for a listing crawl
type CrawlerConfig struct {
	ListingOrigin                string
	LinkOrigin                   string
	SearchQuery                  string
	UserAgent                    string
	RequestTimeout               time.Duration
	BasePageDelay                time.Duration
	ShortBackoff                 time.Duration
	LongBackoff                  time.Duration
	RateLimitEscalationThreshold int
	CacheKeyPrefix               string
	Selectors                    Selectors
}

// DateOf truncates t to midnight of its calendar day in t's location
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
