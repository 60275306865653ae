package cache

import (
	"fmt"
	"time"
)

// CacheService represents a generic cache service
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}

// SetTimestamp stores t as an RFC 3339 marker under key
func SetTimestamp(c CacheService, key string, t time.Time, expiration time.Duration) error {
	return c.Set(key, []byte(t.Format(time.RFC3339)), expiration)
}

// GetTimestamp reads a marker written by SetTimestamp
func GetTimestamp(c CacheService, key string) (time.Time, error) {
	raw, err := c.Get(key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("marker %s is not a timestamp: %w", key, err)
	}
	return t, nil
}
