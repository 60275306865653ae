package cache

import (
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"sjsage522/pricecrawler/logger"
)

// MemcacheService implements CacheService using memcache
type MemcacheService struct {
	client *memcache.Client
	log    *logger.Logger
}

// NewMemcacheService creates a new memcache service
func NewMemcacheService(serverAddr string) *MemcacheService {
	client := memcache.New(serverAddr)
	client.Timeout = 2 * time.Second
	return &MemcacheService{client: client, log: logger.ForCache()}
}

// Ping checks that the memcache server answers
func (m *MemcacheService) Ping() error {
	return m.client.Ping()
}

// Get retrieves a value from memcache
func (m *MemcacheService) Get(key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

// maxRelativeExpiration is the longest expiration memcache reads as relative;
// larger values are taken as a Unix timestamp
const maxRelativeExpiration = 30 * 24 * time.Hour

// expirationSeconds converts d into memcache's expiration field
func expirationSeconds(d time.Duration, now time.Time) int32 {
	if d > maxRelativeExpiration {
		return int32(now.Add(d).Unix())
	}
	return int32(d.Seconds())
}

// Set stores a value in memcache with an expiration time
func (m *MemcacheService) Set(key string, value []byte, expiration time.Duration) error {
	err := m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: expirationSeconds(expiration, time.Now()),
	})
	if err != nil {
		return err
	}
	m.log.Debug().Str("key", key).Dur("expiration", expiration).Msg("Cache entry set")
	return nil
}

// Delete removes a value from memcache
func (m *MemcacheService) Delete(key string) error {
	return m.client.Delete(key)
}
