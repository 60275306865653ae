package crawler

import (
	"context"
	"fmt"
	"time"

	"sjsage522/pricecrawler/helpers"
	"sjsage522/pricecrawler/logger"
	"sjsage522/pricecrawler/pkg/errors"
	"sjsage522/pricecrawler/services/cache"
	"sjsage522/pricecrawler/services/metrics"
)

const (
	backoffShort = "short"
	backoffLong  = "long"
)

// RetryState counts consecutive rate-limited responses within one crawl
type RetryState struct {
	consecutive int
}

// RateLimited records one rate-limited response and returns the new streak
func (r *RetryState) RateLimited() int {
	r.consecutive++
	return r.consecutive
}

// Reset clears the streak
func (r *RetryState) Reset() {
	r.consecutive = 0
}

// Count returns the current streak
func (r *RetryState) Count() int {
	return r.consecutive
}

// Driver walks a listing page by page until an empty page or a structural fault
type Driver struct {
	cfg       CrawlerConfig
	fetcher   Fetcher
	extractor PageExtractor
	sleep     SleepFunc
	now       func() time.Time
	cache     cache.CacheService
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// DriverOption customizes a Driver
type DriverOption func(*Driver)

// WithSleep replaces the suspension primitive used for delays and backoff
func WithSleep(sleep SleepFunc) DriverOption {
	return func(d *Driver) { d.sleep = sleep }
}

// WithClock replaces the clock used to stamp records
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

// WithCache enables the cooldown marker written during long backoffs
func WithCache(c cache.CacheService) DriverOption {
	return func(d *Driver) { d.cache = c }
}

// WithMetrics attaches Prometheus collectors
func WithMetrics(m *metrics.Metrics) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// WithLogger replaces the crawler logger
func WithLogger(l *logger.Logger) DriverOption {
	return func(d *Driver) { d.log = l }
}

// NewDriver creates a crawl driver
func NewDriver(cfg CrawlerConfig, fetcher Fetcher, extractor PageExtractor, opts ...DriverOption) *Driver {
	if cfg.RateLimitEscalationThreshold < 1 {
		cfg.RateLimitEscalationThreshold = 1
	}
	if cfg.CacheKeyPrefix == "" {
		cfg.CacheKeyPrefix = "pricecrawler"
	}

	d := &Driver{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		sleep:     helpers.Sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logger.ForCrawler(cfg.SearchQuery)
	}
	return d
}

// CooldownKey is the cache key holding the end of the current long cooldown
func (d *Driver) CooldownKey() string {
	return d.cfg.CacheKeyPrefix + ":cooldown_until"
}

// Crawl runs one full pass over the listing starting at page 1.
// Transient failures and rate limiting are retried on the same page; a
// structural mismatch ends the crawl as Faulted with the records of the pages
// before it. The only error returned is the context's, with the partial result.
func (d *Driver) Crawl(ctx context.Context) (CrawlResult, error) {
	started := d.now()
	result := CrawlResult{StartedAt: started, Batch: CrawlBatch{}}
	var retry RetryState
	page := 1

	finish := func(end CrawlEnd, fault error) CrawlResult {
		result.End = end
		result.Fault = fault
		result.FinishedAt = d.now()
		d.metrics.IncCrawl(string(end))
		d.metrics.SetRateLimitStreak(0)
		return result
	}

	d.log.Info().Msg("Starting crawl")

	if err := d.awaitCooldown(ctx); err != nil {
		return finish(Cancelled, nil), err
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(Cancelled, nil), err
		}

		outcome := d.fetcher.Fetch(ctx, page)
		d.metrics.IncPage(outcome.Kind.String())

		switch outcome.Kind {
		case Success:
			retry.Reset()
			d.metrics.SetRateLimitStreak(0)

			extracted, err := d.extractor.Extract(outcome.Body, started)
			if err != nil {
				if !errors.IsRetryable(err) {
					fault := fmt.Errorf("page %d: %w", page, err)
					d.log.Error().
						Err(err).
						Int("page", page).
						Int("records", len(result.Batch)).
						Msg("Page layout mismatch, aborting crawl")
					return finish(Faulted, fault), nil
				}
				if err := d.backoff(ctx, backoffShort, page, err); err != nil {
					return finish(Cancelled, nil), err
				}
				continue
			}

			if extracted.Empty {
				d.log.Info().
					Int("page", page).
					Int("records", len(result.Batch)).
					Msg("Empty page reached, crawl complete")
				return finish(Exhausted, nil), nil
			}

			result.Batch = append(result.Batch, extracted.Records...)
			result.Pages = page
			d.metrics.AddRecords(len(extracted.Records), extracted.Skipped)

			event := d.log.Info()
			if extracted.Skipped > 0 {
				event = d.log.Warn().Int("skipped", extracted.Skipped)
			}
			event.Int("page", page).
				Int("records", len(extracted.Records)).
				Int("batch", len(result.Batch)).
				Msg("Page extracted")

			page++
			if err := d.sleep(ctx, d.cfg.BasePageDelay); err != nil {
				return finish(Cancelled, nil), err
			}

		case RateLimited:
			streak := retry.RateLimited()
			d.metrics.SetRateLimitStreak(streak)

			if streak < d.cfg.RateLimitEscalationThreshold {
				if err := d.backoff(ctx, backoffShort, page, outcome.Err); err != nil {
					return finish(Cancelled, nil), err
				}
				continue
			}

			d.markCooldown()
			if err := d.backoff(ctx, backoffLong, page, outcome.Err); err != nil {
				return finish(Cancelled, nil), err
			}
			retry.Reset()
			d.metrics.SetRateLimitStreak(0)

		default:
			// Network and transient failures never count toward escalation
			if err := d.backoff(ctx, backoffShort, page, outcome.Err); err != nil {
				return finish(Cancelled, nil), err
			}
		}
	}
}

// backoff waits before retrying the same page
func (d *Driver) backoff(ctx context.Context, kind string, page int, cause error) error {
	delay := d.cfg.ShortBackoff
	if kind == backoffLong {
		delay = d.cfg.LongBackoff
	}
	d.metrics.IncBackoff(kind)

	event := d.log.Warn()
	if kind == backoffLong {
		event = d.log.Error()
	}
	event.Err(cause).
		Str("backoff", kind).
		Dur("delay", delay).
		Int("page", page).
		Msg("Retrying page after backoff")

	return d.sleep(ctx, delay)
}

// awaitCooldown waits out a cooldown recorded by an earlier crawl or process
func (d *Driver) awaitCooldown(ctx context.Context) error {
	if d.cache == nil {
		return nil
	}
	until, err := cache.GetTimestamp(d.cache, d.CooldownKey())
	if err != nil {
		return nil
	}
	wait := until.Sub(d.now())
	if wait <= 0 {
		return nil
	}
	d.log.Warn().
		Time("until", until).
		Dur("delay", wait).
		Msg("Listing still cooling down, delaying crawl")
	return d.sleep(ctx, wait)
}

// markCooldown records when the long cooldown ends so operators can see a stalled crawl
func (d *Driver) markCooldown() {
	if d.cache == nil {
		return
	}
	until := d.now().Add(d.cfg.LongBackoff)
	if err := cache.SetTimestamp(d.cache, d.CooldownKey(), until, d.cfg.LongBackoff); err != nil {
		d.log.Warn().Err(errors.NewCache("crawler", "failed to record cooldown", err)).Msg("Cooldown marker not written")
	}
}
