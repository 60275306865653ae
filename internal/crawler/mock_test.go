package crawler

import (
	"errors"
	"time"
)

// MockCacheService is an in-memory cache that remembers each key's expiration
type MockCacheService struct {
	cache       map[string][]byte
	expirations map[string]time.Duration
}

func NewMockCacheService() *MockCacheService {
	return &MockCacheService{
		cache:       make(map[string][]byte),
		expirations: make(map[string]time.Duration),
	}
}

func (m *MockCacheService) Get(key string) ([]byte, error) {
	if val, ok := m.cache[key]; ok {
		return val, nil
	}
	return nil, errors.New("cache miss")
}

func (m *MockCacheService) Set(key string, value []byte, expiration time.Duration) error {
	m.cache[key] = value
	m.expirations[key] = expiration
	return nil
}

func (m *MockCacheService) Delete(key string) error {
	delete(m.cache, key)
	delete(m.expirations, key)
	return nil
}
