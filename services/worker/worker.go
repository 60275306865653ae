package worker

import (
	"context"
	"encoding/json"
	"time"

	"sjsage522/pricecrawler/helpers"
	"sjsage522/pricecrawler/internal/crawler"
	"sjsage522/pricecrawler/logger"
	"sjsage522/pricecrawler/pkg/errors"
	"sjsage522/pricecrawler/services/cache"
	"sjsage522/pricecrawler/services/metrics"
	"sjsage522/pricecrawler/services/publisher"
	"sjsage522/pricecrawler/services/storage"
)

const (
	reportField         = "report"
	defaultLivenessTTL  = 72 * time.Hour
	defaultCacheKeyBase = "pricecrawler"
)

// Crawler runs one full pass over the listing
type Crawler interface {
	Crawl(ctx context.Context) (crawler.CrawlResult, error)
}

// Sink stores a finished batch
type Sink interface {
	Persist(ctx context.Context, batch crawler.CrawlBatch) storage.PersistOutcome
}

// Report summarizes one crawl cycle
type Report struct {
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
	Pages        int                     `json:"pages"`
	Records      int                     `json:"records"`
	End          crawler.CrawlEnd        `json:"end"`
	Fault        string                  `json:"fault,omitempty"`
	Persist      *storage.PersistOutcome `json:"persist,omitempty"`
	PersistError string                  `json:"persist_error,omitempty"`
}

// Committed reports whether the cycle's batch reached storage
func (r Report) Committed() bool {
	return r.Persist != nil && r.Persist.Status == storage.PersistSuccess
}

// Worker runs the daily crawl cycle
type Worker struct {
	crawler     Crawler
	sink        Sink
	publisher   publisher.Publisher
	cache       cache.CacheService
	metrics     *metrics.Metrics
	log         *logger.Logger
	now         func() time.Time
	sleep       crawler.SleepFunc
	keyPrefix   string
	livenessTTL time.Duration
}

// Option customizes a Worker
type Option func(*Worker)

// WithPublisher publishes a report after each cycle
func WithPublisher(p publisher.Publisher) Option {
	return func(w *Worker) { w.publisher = p }
}

// WithCache writes the last-success marker after committed crawls
func WithCache(c cache.CacheService, keyPrefix string) Option {
	return func(w *Worker) {
		w.cache = c
		if keyPrefix != "" {
			w.keyPrefix = keyPrefix
		}
	}
}

// WithMetrics attaches Prometheus collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithLogger replaces the worker logger
func WithLogger(l *logger.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithSleep replaces the wait between cycles
func WithSleep(sleep crawler.SleepFunc) Option {
	return func(w *Worker) { w.sleep = sleep }
}

// NewWorker creates a new worker
func NewWorker(c Crawler, sink Sink, opts ...Option) *Worker {
	w := &Worker{
		crawler:     c,
		sink:        sink,
		now:         time.Now,
		sleep:       helpers.Sleep,
		keyPrefix:   defaultCacheKeyBase,
		livenessTTL: defaultLivenessTTL,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logger.ForWorker()
	}
	return w
}

// LivenessKey is the cache key holding the time of the last committed crawl
func (w *Worker) LivenessKey() string {
	return w.keyPrefix + ":last_success"
}

// Start crawls immediately, then once per day at local midnight, until ctx is done
func (w *Worker) Start(ctx context.Context) error {
	for {
		w.RunOnce(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := UntilNextMidnight(w.now())
		w.log.Info().
			Dur("wait", wait).
			Time("next_run", w.now().Add(wait)).
			Msg("Waiting for next crawl")
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RunOnce performs one crawl and stores its batch. Cancelled crawls are not stored.
func (w *Worker) RunOnce(ctx context.Context) Report {
	result, err := w.crawler.Crawl(ctx)
	report := Report{
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Pages:      result.Pages,
		Records:    len(result.Batch),
		End:        result.End,
	}
	if result.Fault != nil {
		report.Fault = result.Fault.Error()
	}

	if err != nil || result.End == crawler.Cancelled {
		w.log.Warn().
			Err(err).
			Int("records", report.Records).
			Msg("Crawl cancelled, discarding batch")
		return report
	}

	if result.End == crawler.Faulted {
		w.log.Error().
			Str("fault", report.Fault).
			Int("records", report.Records).
			Msg("Crawl faulted, storing pages read before the fault")
	}

	outcome := w.sink.Persist(ctx, result.Batch)
	report.Persist = &outcome
	if outcome.Err != nil {
		report.PersistError = outcome.Err.Error()
	}

	if report.Committed() {
		w.log.Info().
			Int("written", outcome.Written).
			Int("pages", report.Pages).
			Str("end", string(report.End)).
			Msg("Crawl stored")
		w.recordLiveness(report)
	} else {
		w.log.Error().
			Err(outcome.Err).
			Int("attempted", outcome.Attempted).
			Int("records", report.Records).
			Msg("Crawl batch rolled back")
	}

	w.publish(ctx, report)
	return report
}

// recordLiveness only counts fully exhausted crawls as healthy
func (w *Worker) recordLiveness(report Report) {
	if report.End != crawler.Exhausted {
		w.metrics.AddPersisted(report.Persist.Written)
		return
	}

	w.metrics.MarkPersisted(report.Persist.Written, report.FinishedAt)
	if w.cache == nil {
		return
	}
	if err := cache.SetTimestamp(w.cache, w.LivenessKey(), report.FinishedAt, w.livenessTTL); err != nil {
		w.log.Warn().
			Err(errors.NewCache("worker", "failed to record last success", err)).
			Msg("Liveness marker not written")
	}
}

func (w *Worker) publish(ctx context.Context, report Report) {
	if w.publisher == nil {
		return
	}

	data, err := json.Marshal(report)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to encode crawl report")
		return
	}
	if err := w.publisher.Publish(ctx, reportField, data); err != nil {
		w.log.Error().Err(err).Msg("Failed to publish crawl report")
		return
	}
	if err := w.publisher.TrimStreams(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Failed to trim report streams")
	}
}

// UntilNextMidnight returns the wait from now to the next local midnight.
// At exactly midnight the wait is zero.
func UntilNextMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	if now.Equal(today) {
		return 0
	}
	wait := today.AddDate(0, 0, 1).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
