// Package metrics exposes Prometheus collectors for the crawl loop.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the crawler collectors on a dedicated registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	PagesTotal      *prometheus.CounterVec
	BackoffsTotal   *prometheus.CounterVec
	RecordsTotal    prometheus.Counter
	SkippedTotal    prometheus.Counter
	FetchDuration   prometheus.Histogram
	CrawlsTotal     *prometheus.CounterVec
	PersistedTotal  prometheus.Counter
	LastSuccess     prometheus.Gauge
	RateLimitStreak prometheus.Gauge
	// Started is the liveness reference until the first crawl is committed
	Started           time.Time
	lastSuccessMillis atomic.Int64
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		Started:  time.Now(),
		PagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricecrawler_pages_total",
			Help: "Listing page fetches by outcome.",
		}, []string{"outcome"}),
		BackoffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricecrawler_backoffs_total",
			Help: "Backoff waits by kind (short, long).",
		}, []string{"kind"}),
		RecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricecrawler_records_extracted_total",
			Help: "Product records extracted from listing pages.",
		}),
		SkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricecrawler_entries_skipped_total",
			Help: "Result entries dropped because they carried no price.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricecrawler_fetch_duration_seconds",
			Help:    "Latency of listing page requests.",
			Buckets: prometheus.DefBuckets,
		}),
		CrawlsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricecrawler_crawls_total",
			Help: "Completed crawls by end state.",
		}, []string{"end"}),
		PersistedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricecrawler_records_persisted_total",
			Help: "Product rows committed to storage.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricecrawler_last_success_timestamp_seconds",
			Help: "Unix time of the last crawl whose batch was committed.",
		}),
		RateLimitStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricecrawler_rate_limit_streak",
			Help: "Consecutive rate-limited responses in the current crawl.",
		}),
	}

	registry.MustRegister(
		m.PagesTotal, m.BackoffsTotal, m.RecordsTotal, m.SkippedTotal, m.FetchDuration,
		m.CrawlsTotal, m.PersistedTotal, m.LastSuccess, m.RateLimitStreak,
	)
	return m
}

// IncPage counts one page fetch with the given outcome label.
func (m *Metrics) IncPage(outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(outcome).Inc()
}

// IncBackoff counts one backoff wait.
func (m *Metrics) IncBackoff(kind string) {
	if m == nil {
		return
	}
	m.BackoffsTotal.WithLabelValues(kind).Inc()
}

// AddRecords adds extracted and skipped entry counts for one page.
func (m *Metrics) AddRecords(extracted, skipped int) {
	if m == nil {
		return
	}
	m.RecordsTotal.Add(float64(extracted))
	m.SkippedTotal.Add(float64(skipped))
}

// ObserveFetch records one request latency.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// SetRateLimitStreak publishes the current rate-limit counter.
func (m *Metrics) SetRateLimitStreak(n int) {
	if m == nil {
		return
	}
	m.RateLimitStreak.Set(float64(n))
}

// IncCrawl counts a finished crawl.
func (m *Metrics) IncCrawl(end string) {
	if m == nil {
		return
	}
	m.CrawlsTotal.WithLabelValues(end).Inc()
}

// AddPersisted counts committed rows without touching liveness.
func (m *Metrics) AddPersisted(written int) {
	if m == nil {
		return
	}
	m.PersistedTotal.Add(float64(written))
}

// MarkPersisted records a committed batch and moves the liveness gauge.
func (m *Metrics) MarkPersisted(written int, at time.Time) {
	if m == nil {
		return
	}
	m.PersistedTotal.Add(float64(written))
	m.LastSuccess.Set(float64(at.Unix()))
	m.lastSuccessMillis.Store(at.UnixMilli())
}

// LastSuccessAt returns when MarkPersisted was last called, or the zero time.
func (m *Metrics) LastSuccessAt() time.Time {
	if m == nil {
		return time.Time{}
	}
	ms := m.lastSuccessMillis.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Handler serves /metrics from the registry and /healthz, which fails once the
// last committed crawl is older than maxAge. Before the first commit the
// process start time is the reference, so a crawl that never succeeds goes stale.
func (m *Metrics) Handler(maxAge time.Duration, now func() time.Time) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		last := m.LastSuccessAt()
		if last.IsZero() {
			if now().Sub(m.Started) > maxAge {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "stale: no successful crawl since start at %s\n", m.Started.Format(time.RFC3339))
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok: no crawl completed yet")
			return
		}
		if now().Sub(last) > maxAge {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "stale: last successful crawl at %s\n", last.Format(time.RFC3339))
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok: last successful crawl at %s\n", last.Format(time.RFC3339))
	})
	return mux
}
