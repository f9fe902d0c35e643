// Package cache provides a generic in-memory key/value cache with optional
// per-cache expiry.
//
// A Cache created with a zero TTL keeps entries until they are explicitly
// invalidated or pruned. The lock is held only for the duration of a single
// map operation; callers compute values outside the cache and Set them.
package cache

import (
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// entry is a cached value plus the time it was stored.
type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache is a mutex-protected map with optional time-to-live.
type Cache[K comparable, V any] struct {
	// mu guards entries.
	mu sync.Mutex
	// entries holds the cached values keyed by K.
	entries map[K]entry[V]
	// ttl is how long an entry stays valid; zero means permanent.
	ttl time.Duration
	// now returns the current time. Overridden in tests.
	now func() time.Time
}

// New creates a Cache whose entries expire ttl after insertion.
// A ttl of zero makes entries permanent until [Cache.Invalidate] or a prune.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// ///////////////////////////////////////////////
// Access
// ///////////////////////////////////////////////

// TTL returns the configured time-to-live (zero for permanent caches).
func (c *Cache[K, V]) TTL() time.Duration { return c.ttl }

// Get returns the value for k if present and not expired.
// Expired entries are dropped on access.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	if c.ttl > 0 && c.now().Sub(e.insertedAt) >= c.ttl {
		delete(c.entries, k)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores v under k, replacing any previous value and resetting its age.
func (c *Cache[K, V]) Set(k K, v V) {
	c.mu.Lock()
	c.entries[k] = entry[V]{value: v, insertedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate removes k from the cache.
func (c *Cache[K, V]) Invalidate(k K) {
	c.mu.Lock()
	delete(c.entries, k)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones that
// have not been accessed since expiring.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ///////////////////////////////////////////////
// Pruning
// ///////////////////////////////////////////////

// Retain removes every entry whose key does not satisfy keep and returns the
// number of entries removed.
func (c *Cache[K, V]) Retain(keep func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if !keep(k) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// RetainKeys removes every entry whose key is not in active.
func (c *Cache[K, V]) RetainKeys(active map[K]struct{}) int {
	return c.Retain(func(k K) bool {
		_, ok := active[k]
		return ok
	})
}
