package cache

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultLocalTTL is how long local entries live when no ttl is given.
	DefaultLocalTTL = 10 * time.Minute
	// DefaultLocalMaxEntries bounds the local cache size.
	DefaultLocalMaxEntries = 1000
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// LocalCache implements Cache in process memory.
// This is suitable for single-instance deployments.
type LocalCache struct {
	mu         sync.RWMutex
	entries    map[string]localEntry
	defaultTTL time.Duration
	maxEntries int
	now        func() time.Time
}

// NewLocalCache creates a new in-memory cache. Non-positive arguments use
// the defaults.
func NewLocalCache(defaultTTL time.Duration, maxEntries int) *LocalCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultLocalTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultLocalMaxEntries
	}
	return &LocalCache{
		entries:    make(map[string]localEntry),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get retrieves a value. Expired entries count as misses.
func (c *LocalCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, nil
	}
	return entry.value, nil
}

// Set stores a copy of value.
func (c *LocalCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = localEntry{value: stored, expiresAt: c.now().Add(ttl)}
	return nil
}

// evictLocked drops expired entries, or the entry closest to expiry when
// none have expired.
func (c *LocalCache) evictLocked() {
	now := c.now()
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close is a no-op for local cache.
func (c *LocalCache) Close() error {
	return nil
}
