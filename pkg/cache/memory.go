package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryProvider is an in-process cache with per-entry expiry.
type MemoryProvider struct {
	cache *gocache.Cache
}

// NewMemoryProvider creates a memory cache. Entries stored with a zero TTL
// expire after defaultTTL.
func NewMemoryProvider(defaultTTL, cleanupInterval time.Duration) *MemoryProvider {
	return &MemoryProvider{cache: gocache.New(defaultTTL, cleanupInterval)}
}

// Get returns the value for key or ErrCacheMiss.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	if val, found := m.cache.Get(key); found {
		if b, ok := val.([]byte); ok {
			return b, nil
		}
	}
	return nil, ErrCacheMiss
}

// Set stores value under key.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.cache.Set(key, value, ttl)
	return nil
}

// Len returns the number of cached entries, expired ones included until the
// next cleanup.
func (m *MemoryProvider) Len() int {
	return m.cache.ItemCount()
}

// Close drops all entries.
func (m *MemoryProvider) Close() error {
	m.cache.Flush()
	return nil
}
