package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sjsage522/pricecrawler/helpers"
	"sjsage522/pricecrawler/pkg/errors"
	"sjsage522/pricecrawler/services/metrics"
)

// PageFetcher issues listing page requests and classifies the responses.
// It never sleeps or retries; the driver owns backoff.
type PageFetcher struct {
	client    *http.Client
	listing   *url.URL
	query     string
	userAgent string
	metrics   *metrics.Metrics
}

// NewPageFetcher creates a fetcher for {origin}/s?k={query}&page={n}
func NewPageFetcher(cfg CrawlerConfig, client *http.Client, m *metrics.Metrics) (*PageFetcher, error) {
	origin, err := url.Parse(cfg.ListingOrigin)
	if err != nil {
		return nil, fmt.Errorf("parse listing origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("listing origin %q must be absolute", cfg.ListingOrigin)
	}

	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &PageFetcher{
		client:    client,
		listing:   origin.ResolveReference(&url.URL{Path: "/s"}),
		query:     cfg.SearchQuery,
		userAgent: cfg.UserAgent,
		metrics:   m,
	}, nil
}

// PageURL returns the listing URL for a 1-based page index
func (f *PageFetcher) PageURL(page int) string {
	u := *f.listing
	q := url.Values{}
	q.Set("k", f.query)
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch performs one GET for the page and classifies the result
func (f *PageFetcher) Fetch(ctx context.Context, page int) FetchOutcome {
	pageURL := f.PageURL(page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return FetchOutcome{Kind: NetworkFailure, Err: errors.NewNetwork("fetcher", "failed to create request", err)}
	}
	helpers.SetBrowserHeaders(req, f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	f.metrics.ObserveFetch(time.Since(start))
	if err != nil {
		return FetchOutcome{Kind: NetworkFailure, Err: errors.NewNetwork("fetcher", "failed to fetch "+pageURL, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return FetchOutcome{Kind: RateLimited, StatusCode: resp.StatusCode, Err: errors.NewRateLimit("fetcher", resp.StatusCode)}
	case resp.StatusCode >= http.StatusInternalServerError:
		_, _ = io.Copy(io.Discard, resp.Body)
		return FetchOutcome{
			Kind:       TransientError,
			StatusCode: resp.StatusCode,
			Err:        errors.NewTransient("fetcher", fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchOutcome{Kind: TransientError, StatusCode: resp.StatusCode, Err: errors.NewTransient("fetcher", "failed to read response body", err)}
	}

	utf8Body, err := helpers.DecodeUTF8(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return FetchOutcome{Kind: TransientError, StatusCode: resp.StatusCode, Err: errors.NewTransient("fetcher", "failed to decode response body", err)}
	}

	return FetchOutcome{Kind: Success, StatusCode: resp.StatusCode, Body: utf8Body}
}
