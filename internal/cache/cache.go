// Package cache implements the dedup store for delivered items.
//
// Entries are evicted oldest-first when capacity is exceeded, or when their
// TTL elapses. Lookups never refresh an entry, so eviction order is insertion
// order.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"boorubot/internal/booru"
	"boorubot/internal/metrics"
)

// Scope decides whether the dedup window is shared by all origins.
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeOrigin
)

// ParseScope maps a config value onto a Scope; anything but "origin" is global.
func ParseScope(s string) Scope {
	if s == "origin" {
		return ScopeOrigin
	}
	return ScopeGlobal
}

type Config struct {
	Capacity int
	TTL      time.Duration // <= 0 disables expiry
	Scope    Scope
}

type key struct {
	origin   int64
	provider booru.ID
	remoteID string
}

type Cache struct {
	mu    sync.Mutex
	lru   *expirable.LRU[key, time.Time]
	cfg   Config
	scope Scope
}

func New(cfg Config) *Cache {
	return &Cache{cfg: cfg, scope: cfg.Scope, lru: newLRU(cfg.Capacity, cfg.TTL)}
}

// Config returns the settings the cache runs with.
func (c *Cache) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func newLRU(capacity int, ttl time.Duration) *expirable.LRU[key, time.Time] {
	if capacity <= 0 {
		capacity = 1
	}
	return expirable.NewLRU[key, time.Time](capacity, func(key, time.Time) {
		metrics.RecordCache("evict")
	}, ttl)
}

func (c *Cache) keyOf(origin int64, provider booru.ID, remoteID string) key {
	if c.scope == ScopeGlobal {
		origin = 0
	}
	return key{origin: origin, provider: provider, remoteID: remoteID}
}

// Has reports whether the item is inside the dedup window.
func (c *Cache) Has(origin int64, provider booru.ID, remoteID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lru.Peek(c.keyOf(origin, provider, remoteID))
	return ok
}

// TryInsert atomically inserts the item if absent and reports whether this
// call inserted it. Of several concurrent callers with the same item exactly
// one gets true.
func (c *Cache) TryInsert(origin int64, provider booru.ID, remoteID string) bool {
	k := c.keyOf(origin, provider, remoteID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lru.Peek(k); ok {
		metrics.RecordCache("hit")
		return false
	}
	c.lru.Add(k, time.Now())
	metrics.RecordCache("insert")
	return true
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
	metrics.RecordCache("clear")
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Resize changes the capacity, evicting the oldest entries if needed.
// It returns the number of evicted entries.
func (c *Cache) Resize(capacity int) int {
	if capacity <= 0 {
		capacity = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Capacity = capacity
	return c.lru.Resize(capacity)
}
