// Package cache provides a small thread-safe key/value cache with
// per-entry time-to-live expiry.
package cache

import (
	"strings"
	"sync"
	"time"
)

// entry holds one cached value with its lifetime. Entries are immutable
// once constructed; Set replaces the whole entry.
type entry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Cache is an expiring string-keyed cache. An expired entry is never
// returned to a caller: reads delete it lazily, and Size/Keys sweep
// before reporting so observers never see stale counts.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a cache whose Set uses defaultTTL when no explicit TTL is
// given. A non-positive defaultTTL means entries never expire by default.
func New[V any](defaultTTL time.Duration) *Cache[V] {
	return &Cache[V]{
		entries:    make(map[string]entry[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the value for key if present and not expired. An expired
// entry is deleted as a side effect.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	ent, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if ent.expired(c.now()) {
		delete(c.entries, key)
		return zero, false
	}
	return ent.value, true
}

// Set stores value under key, unconditionally replacing any existing
// entry. A zero ttl uses the cache default; a negative ttl stores a
// never-expiring entry.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ent := entry[V]{value: value, storedAt: now}
	if ttl > 0 {
		ent.expiresAt = now.Add(ttl)
	}
	c.entries[key] = ent
}

// Invalidate removes key and reports whether an entry was removed.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns the count removed.
func (c *Cache[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries and returns the count removed.
func (c *Cache[V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := len(c.entries)
	c.entries = make(map[string]entry[V])
	return removed
}

// CleanupExpired sweeps all currently-expired entries and returns the
// count removed.
func (c *Cache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

// Size returns the number of live entries, sweeping expired ones first.
func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	return len(c.entries)
}

// Keys returns the live keys in unspecified order, sweeping expired
// entries first.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

func (c *Cache[V]) sweepLocked() int {
	now := c.now()
	removed := 0
	for key, ent := range c.entries {
		if ent.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
