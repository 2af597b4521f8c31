package broker

import (
	"sync"
	"time"
)

// CacheKey identifies one cached read: the operation plus the account it ran
// against.
type CacheKey struct {
	Operation string
	AccountID string
}

// ReadCache is a small cache-aside store for broker read responses. Position
// and working-order listings are hit by both the validator and the
// reconciler within seconds of each other; a short TTL absorbs that without
// hiding state changes for long.
type ReadCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[CacheKey]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewReadCache creates a cache with the given TTL. A zero or negative TTL
// disables caching.
func NewReadCache(ttl time.Duration) *ReadCache {
	return &ReadCache{
		ttl:     ttl,
		entries: make(map[CacheKey]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached value for key if it has not expired.
func (c *ReadCache) Get(key CacheKey) (any, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores a value for key with the cache's TTL.
func (c *ReadCache) Set(key CacheKey, value any) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops every cached read for an account. Called after mutating
// operations so subsequent reads observe the change.
func (c *ReadCache) Invalidate(accountID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.AccountID == accountID {
			delete(c.entries, key)
		}
	}
}
