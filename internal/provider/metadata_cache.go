package provider

import (
	"sync"
	"time"
)

// CacheKey identifies one provider's metadata for one object type.
type CacheKey struct {
	Provider   string
	ObjectType string
}

type cacheEntry struct {
	properties []Property
	expiresAt  time.Time
}

// MetadataCache memoizes provider property metadata with a TTL. It is
// created by the caller and injected into clients so entries never leak
// between independent owners.
type MetadataCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[CacheKey]cacheEntry
}

// NewMetadataCache returns a cache whose entries expire after ttl. A nil now
// uses time.Now. A non-positive ttl disables caching.
func NewMetadataCache(ttl time.Duration, now func() time.Time) *MetadataCache {
	if now == nil {
		now = time.Now
	}
	return &MetadataCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[CacheKey]cacheEntry),
	}
}

// Get returns the cached properties for key if present and not expired.
func (c *MetadataCache) Get(key CacheKey) ([]Property, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.Invalidate(key)
		return nil, false
	}
	return entry.properties, true
}

// Set stores properties under key.
func (c *MetadataCache) Set(key CacheKey, properties []Property) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		properties: properties,
		expiresAt:  c.now().Add(c.ttl),
	}
}

// Invalidate drops the entry for key.
func (c *MetadataCache) Invalidate(key CacheKey) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateProvider drops every entry of one provider and reports how many
// were removed.
func (c *MetadataCache) InvalidateProvider(provider string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if k.Provider == provider {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Purge drops every entry.
func (c *MetadataCache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[CacheKey]cacheEntry)
}

// Len returns the number of stored entries, expired or not.
func (c *MetadataCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
