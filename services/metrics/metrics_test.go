package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncPage("success")
	m.IncBackoff("short")
	m.AddRecords(3, 1)
	m.ObserveFetch(time.Second)
	m.SetRateLimitStreak(2)
	m.IncCrawl("exhausted")
	m.AddPersisted(3)
	m.MarkPersisted(3, time.Now())
	assert.True(t, m.LastSuccessAt().IsZero())
}

func TestCounters(t *testing.T) {
	m := New()
	m.IncPage("success")
	m.IncPage("success")
	m.IncPage("rate_limited")
	m.IncBackoff("long")
	m.AddRecords(5, 2)
	m.AddPersisted(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PagesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesTotal.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackoffsTotal.WithLabelValues("long")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RecordsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SkippedTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PersistedTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastSuccess))
}

func TestHealthzReflectsLastSuccess(t *testing.T) {
	m := New()
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	m.Started = now.Add(-time.Hour)
	clock := func() time.Time { return now }
	server := httptest.NewServer(m.Handler(36*time.Hour, clock))
	defer server.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	status, body := get("/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "no crawl completed yet")

	m.MarkPersisted(10, now.Add(-time.Hour))
	status, _ = get("/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(now.Add(-time.Hour).Unix()), testutil.ToFloat64(m.LastSuccess))

	m.MarkPersisted(10, now.Add(-48*time.Hour))
	status, body = get("/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, body, "stale")

	status, body = get("/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "pricecrawler_records_persisted_total 20")
}

func TestHealthzStaleWhenNoCrawlEverSucceeds(t *testing.T) {
	m := New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Started = start

	healthz := func(now time.Time) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler := m.Handler(36*time.Hour, func() time.Time { return now })
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		return rec
	}

	rec := healthz(start.Add(time.Hour))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no crawl completed yet")

	rec = healthz(start.Add(37 * time.Hour))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no successful crawl since start")
}
