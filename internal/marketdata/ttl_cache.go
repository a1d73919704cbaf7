package marketdata

import (
	"sync"
	"time"
)

type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
}

// TTLCache is the in-process fallback used when Redis is disabled or unhealthy
type TTLCache struct {
	mu    sync.RWMutex
	cache map[string]ttlEntry
	now   func() time.Time
}

// NewTTLCache creates an empty cache
func NewTTLCache() *TTLCache {
	return &TTLCache{
		cache: make(map[string]ttlEntry),
		now:   time.Now,
	}
}

// Get retrieves a value if present and not expired
func (tc *TTLCache) Get(key string) (interface{}, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	entry, exists := tc.cache[key]
	if !exists || tc.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set stores a value with TTL
func (tc *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.cache[key] = ttlEntry{value: value, expiresAt: tc.now().Add(ttl)}
}

// Clear removes all cached values
func (tc *TTLCache) Clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.cache = make(map[string]ttlEntry)
}

// CleanupExpired removes expired entries and returns how many were dropped
func (tc *TTLCache) CleanupExpired() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := tc.now()
	removed := 0
	for key, entry := range tc.cache {
		if now.After(entry.expiresAt) {
			delete(tc.cache, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not
func (tc *TTLCache) Len() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.cache)
}
