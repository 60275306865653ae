package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sjsage522/pricecrawler/pkg/errors"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config represents the application configuration
type Config struct {
	// Listing configuration
	ListingOrigin string
	LinkOrigin    string
	SearchQuery   string
	UserAgent     string

	// Crawl pacing
	BasePageDelay                time.Duration
	ShortBackoff                 time.Duration
	LongBackoff                  time.Duration
	RateLimitEscalationThreshold int
	RequestTimeout               time.Duration

	// Postgres configuration
	DatabaseURL      string
	DatabaseMaxConns int
	ProductsTable    string

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Memcache configuration
	MemcacheAddr string

	// Metrics and health endpoint; empty disables the listener
	MetricsAddr string

	// RunOnce performs a single crawl cycle and exits
	RunOnce bool

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	p := &parser{}

	listingOrigin := getEnv("LISTING_ORIGIN", "https://www.amazon.co.uk")

	cfg := &Config{
		ListingOrigin:                listingOrigin,
		LinkOrigin:                   getEnv("LINK_ORIGIN", listingOrigin),
		SearchQuery:                  getEnv("SEARCH_QUERY", "raspberry pi"),
		UserAgent:                    getEnv("USER_AGENT", defaultUserAgent),
		BasePageDelay:                p.seconds("BASE_PAGE_DELAY_SECONDS", 15),
		ShortBackoff:                 p.seconds("SHORT_BACKOFF_SECONDS", 15),
		LongBackoff:                  p.seconds("LONG_BACKOFF_SECONDS", 3600),
		RateLimitEscalationThreshold: p.int("RATE_LIMIT_ESCALATION_THRESHOLD", 10),
		RequestTimeout:               p.seconds("REQUEST_TIMEOUT_SECONDS", 30),
		DatabaseURL:                  os.Getenv("DATABASE_URL"),
		DatabaseMaxConns:             p.int("DATABASE_MAX_CONNS", 2),
		ProductsTable:                getEnv("PRODUCTS_TABLE", "products"),
		RedisAddr:                    os.Getenv("REDIS_ADDR"),
		RedisDB:                      p.int("REDIS_DB", 0),
		RedisStream:                  getEnv("REDIS_STREAM", "pricecrawler:reports"),
		RedisStreamCount:             p.int("REDIS_STREAM_COUNT", 1),
		RedisStreamMaxLength:         p.int("REDIS_STREAM_MAX_LENGTH", 1000),
		MemcacheAddr:                 os.Getenv("MEMCACHE_ADDR"),
		MetricsAddr:                  os.Getenv("METRICS_ADDR"),
		RunOnce:                      p.bool("RUN_ONCE", false),
		Environment:                  getEnv("PRICECRAWLER_ENVIRONMENT", "development"),
	}

	if len(p.errs) > 0 {
		return nil, errors.NewConfiguration("invalid environment", fmt.Errorf("%s", strings.Join(p.errs, "; ")))
	}
	return cfg, nil
}

// Validate checks that the configuration can drive a crawl
func (c *Config) Validate() error {
	var problems []string

	origins := []struct{ name, value string }{
		{"LISTING_ORIGIN", c.ListingOrigin},
		{"LINK_ORIGIN", c.LinkOrigin},
	}
	for _, origin := range origins {
		u, err := url.Parse(origin.value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s must be an absolute URL, got %q", origin.name, origin.value))
		}
	}
	if strings.TrimSpace(c.SearchQuery) == "" {
		problems = append(problems, "SEARCH_QUERY is required")
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		problems = append(problems, "USER_AGENT is required")
	}
	if c.BasePageDelay <= 0 || c.ShortBackoff <= 0 || c.LongBackoff <= 0 {
		problems = append(problems, "page delay and backoff durations must be positive")
	}
	if c.RateLimitEscalationThreshold < 1 {
		problems = append(problems, "RATE_LIMIT_ESCALATION_THRESHOLD must be at least 1")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if !validTableName.MatchString(c.ProductsTable) {
		problems = append(problems, fmt.Sprintf("invalid table name %q", c.ProductsTable))
	}
	if c.RedisAddr != "" && c.RedisStreamCount < 1 {
		problems = append(problems, "REDIS_STREAM_COUNT must be at least 1")
	}

	if len(problems) > 0 {
		return errors.NewConfiguration(strings.Join(problems, "; "), nil)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// parser collects malformed numeric values so they surface together
type parser struct {
	errs []string
}

func (p *parser) int(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not an integer", key, raw))
		return defaultValue
	}
	return v
}

func (p *parser) seconds(key string, defaultValue int) time.Duration {
	return time.Duration(p.int(key, defaultValue)) * time.Second
}

func (p *parser) bool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not a boolean", key, raw))
		return defaultValue
	}
	return v
}
