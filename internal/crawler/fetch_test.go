package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sjsage522/pricecrawler/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, origin string) *PageFetcher {
	t.Helper()
	f, err := NewPageFetcher(CrawlerConfig{
		ListingOrigin:  origin,
		SearchQuery:    "raspberry pi",
		UserAgent:      "test-agent/1.0",
		RequestTimeout: 2 * time.Second,
	}, nil, nil)
	require.NoError(t, err)
	return f
}

func TestPageURL(t *testing.T) {
	f := newTestFetcher(t, "https://www.amazon.co.uk")
	assert.Equal(t, "https://www.amazon.co.uk/s?k=raspberry+pi&page=1", f.PageURL(1))
	assert.Equal(t, "https://www.amazon.co.uk/s?k=raspberry+pi&page=12", f.PageURL(12))
}

func TestFetchSendsQueryAndUserAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/s", r.URL.Path)
		assert.Equal(t, "raspberry pi", r.URL.Query().Get("k"))
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "test-agent/1.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer server.Close()

	outcome := newTestFetcher(t, server.URL).Fetch(context.Background(), 3)
	assert.Equal(t, Success, outcome.Kind)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.Contains(t, string(outcome.Body), "ok")
	assert.NoError(t, outcome.Err)
}

func TestFetchKeepsUndeclaredUTF8Prices(t *testing.T) {
	padding := strings.Repeat("<!-- filler -->", 80)
	page := `<html><body>` + padding +
		`<div data-component-type="s-search-result"><h2><a href="/dp/B0CK2FCG1K">Raspberry Pi 5</a></h2>` +
		`<span class="a-price"><span class="a-offscreen">£24.99</span></span></div></body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer server.Close()

	outcome := newTestFetcher(t, server.URL).Fetch(context.Background(), 1)
	require.Equal(t, Success, outcome.Kind)

	extractor, err := NewExtractor("https://www.amazon.co.uk", DefaultSelectors())
	require.NoError(t, err)
	result, err := extractor.Extract(outcome.Body, time.Now())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "£24.99", result.Records[0].Price)
}

func TestFetchClassification(t *testing.T) {
	tests := []struct {
		status  int
		want    OutcomeKind
		errType errors.ErrorType
	}{
		{http.StatusServiceUnavailable, RateLimited, errors.ErrorTypeRateLimit},
		{http.StatusTooManyRequests, RateLimited, errors.ErrorTypeRateLimit},
		{http.StatusInternalServerError, TransientError, errors.ErrorTypeTransient},
		{http.StatusBadGateway, TransientError, errors.ErrorTypeTransient},
		{http.StatusNotFound, Success, ""},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			outcome := newTestFetcher(t, server.URL).Fetch(context.Background(), 1)
			assert.Equal(t, tt.want, outcome.Kind)
			assert.Equal(t, tt.status, outcome.StatusCode)
			assert.Equal(t, tt.errType, errors.TypeOf(outcome.Err))
		})
	}
}

func TestFetchNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	origin := server.URL
	server.Close()

	outcome := newTestFetcher(t, origin).Fetch(context.Background(), 1)
	assert.Equal(t, NetworkFailure, outcome.Kind)
	assert.True(t, errors.IsType(outcome.Err, errors.ErrorTypeNetwork))
}

func TestFetchTimeoutIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f, err := NewPageFetcher(CrawlerConfig{
		ListingOrigin: server.URL,
		SearchQuery:   "raspberry pi",
		UserAgent:     "test-agent/1.0",
	}, &http.Client{Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	outcome := f.Fetch(context.Background(), 1)
	assert.Equal(t, NetworkFailure, outcome.Kind)
}

func TestFetchTruncatedBodyIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Promise more bytes than are sent so reading the body fails
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>"))
	}))
	defer server.Close()

	outcome := newTestFetcher(t, server.URL).Fetch(context.Background(), 1)
	assert.Equal(t, TransientError, outcome.Kind)
	assert.True(t, errors.IsType(outcome.Err, errors.ErrorTypeTransient))
}

func TestNewPageFetcherRejectsRelativeOrigin(t *testing.T) {
	_, err := NewPageFetcher(CrawlerConfig{ListingOrigin: "/s"}, nil, nil)
	assert.Error(t, err)
}
