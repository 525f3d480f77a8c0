package engine

import (
	"sync"
	"time"

	"arbiter/internal/ir"
)

// CacheKey identifies one validation outcome. CatalogVersion is part of the
// key so any register/unregister implicitly invalidates every cached
// outcome without an explicit purge.
type CacheKey struct {
	ActionType     ir.ActionType
	ActorID        string
	Phase          ir.Phase
	Turn           int
	CatalogVersion int64
}

// CacheStore holds validation verdicts for a bounded TTL. Implementations:
// MemoryCache (in-process) and RedisCache (shared across processes).
type CacheStore interface {
	Get(key CacheKey) (Verdict, bool)
	Set(key CacheKey, v Verdict, ttl time.Duration)
	Purge()
}

// MemoryCache is an in-process CacheStore. Entries are TTL-stamped and
// checked lazily on read; there are no eviction timers to accumulate.
//
// Thread-safe.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[CacheKey]cachedVerdict
	now     func() time.Time
}

type cachedVerdict struct {
	verdict   Verdict
	expiresAt time.Time
}

// MemoryCacheOption configures a MemoryCache.
type MemoryCacheOption func(*MemoryCache)

// WithCacheClock overrides the wall clock (tests).
func WithCacheClock(now func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) { c.now = now }
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[CacheKey]cachedVerdict),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached verdict if present and unexpired. Expired entries
// are deleted on the way out.
func (c *MemoryCache) Get(key CacheKey) (Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Verdict{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return Verdict{}, false
	}
	return e.verdict, true
}

// Set stores a verdict with the given TTL. A non-positive TTL disables
// caching for this entry.
func (c *MemoryCache) Set(key CacheKey, v Verdict, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedVerdict{verdict: v, expiresAt: c.now().Add(ttl)}
}

// Purge drops every entry.
func (c *MemoryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[CacheKey]cachedVerdict)
}

// Len returns the number of stored entries, expired ones included (they are
// reaped lazily).
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
