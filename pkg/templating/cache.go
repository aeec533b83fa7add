package templating

import (
	"sync"
	"sync/atomic"

	"github.com/patrickmn/go-cache"
)

// CacheStats is a point-in-time snapshot of the memoization cache counters.
type CacheStats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Stores   uint64 `json:"stores"`
	Clears   uint64 `json:"clears"`
	Entries  int    `json:"entries"`
	Capacity int    `json:"capacity"`
}

// MemoCache is the bounded result cache for pure builtin calls. When the bound
// is reached the whole cache is cleared before the new entry is stored.
// Reads are lock-free; writes are serialized so the bound always holds.
type MemoCache struct {
	items    *cache.Cache
	capacity int
	mu       sync.Mutex

	hits   atomic.Uint64
	misses atomic.Uint64
	stores atomic.Uint64
	clears atomic.Uint64
}

// NewMemoCache returns a cache holding at most capacity entries. A capacity of
// zero or less disables caching entirely.
func NewMemoCache(capacity int) *MemoCache {
	return &MemoCache{
		items:    cache.New(cache.NoExpiration, 0),
		capacity: capacity,
	}
}

// Get returns the memoized value for key.
func (c *MemoCache) Get(key string) (any, bool) {
	if c.capacity <= 0 {
		c.misses.Add(1)
		return nil, false
	}
	v, ok := c.items.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores value under key. A concurrent duplicate computation of the same
// key keeps the first stored value.
func (c *MemoCache) Set(key string, value any) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items.Get(key); ok {
		return
	}
	if c.items.ItemCount() >= c.capacity {
		c.items.Flush()
		c.clears.Add(1)
	}
	c.items.Set(key, value, cache.NoExpiration)
	c.stores.Add(1)
}

// Clear drops every entry. Counters are kept.
func (c *MemoCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Flush()
}

// Stats returns the current counters.
func (c *MemoCache) Stats() CacheStats {
	return CacheStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Stores:   c.stores.Load(),
		Clears:   c.clears.Load(),
		Entries:  c.items.ItemCount(),
		Capacity: c.capacity,
	}
}
