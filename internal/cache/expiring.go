package cache

import (
	"sync"
	"time"
)

// Expiring layers an age limit over an LRU by storing each value with the
// time it was set. Expiry is enforced on read and by SweepOlderThan; the
// LRU's capacity bound still applies underneath.
type Expiring[V any] struct {
	mu     sync.Mutex
	lru    *LRU[timestamped[V]]
	maxAge time.Duration
	now    func() time.Time
}

type timestamped[V any] struct {
	value    V
	storedAt time.Time
}

// NewExpiring creates an expiring cache with the given capacity and max
// entry age.
func NewExpiring[V any](capacity int, maxAge time.Duration) *Expiring[V] {
	return &Expiring[V]{
		lru:    NewLRU[timestamped[V]](capacity),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Get returns the value for key if it is present and younger than maxAge.
// Stale entries are deleted on access.
func (c *Expiring[V]) Get(key string) (V, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(entry.storedAt) > c.maxAge {
		c.lru.Delete(key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores the value for key stamped with the current time.
func (c *Expiring[V]) Set(key string, value V) {
	c.lru.Set(key, timestamped[V]{value: value, storedAt: c.now()})
}

// Delete removes key.
func (c *Expiring[V]) Delete(key string) {
	c.lru.Delete(key)
}

// Len returns the number of entries, counting any not yet swept.
func (c *Expiring[V]) Len() int {
	return c.lru.Len()
}

// SweepOlderThan deletes every entry older than the given age and returns
// the number removed. Intended to be called on demand rather than from a
// background loop.
func (c *Expiring[V]) SweepOlderThan(age time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-age)
	var stale []string
	c.lru.mu.Lock()
	for key, elem := range c.lru.entries {
		if elem.Value.(*lruEntry[timestamped[V]]).value.storedAt.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	c.lru.mu.Unlock()

	for _, key := range stale {
		c.lru.Delete(key)
	}
	return len(stale)
}
