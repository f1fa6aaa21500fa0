// Package cache provides the bounded in-memory caches shared across the
// core: a strict LRU keyed by string, and a timestamped layer on top of it
// for entries that additionally age out.
package cache

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the capacity used when none is configured.
const DefaultCapacity = 1000

// LRU is a fixed-capacity key/value store with least-recently-used
// eviction. Both reads and writes refresh recency. Safe for concurrent
// use; every operation is a single short critical section.
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently touched
	entries  map[string]*list.Element

	onEvict func(key string, value V)
}

type lruEntry[V any] struct {
	key   string
	value V
}

// NewLRU creates an LRU with the given capacity. Capacity <= 0 falls back
// to DefaultCapacity.
func NewLRU[V any](capacity int) *LRU[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU[V]{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// OnEvict registers a callback invoked for each evicted entry. Set it
// before the cache is shared; it runs while the cache lock is held.
func (c *LRU[V]) OnEvict(fn func(key string, value V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get returns the value for key and refreshes its recency.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry[V]).value, true
}

// Set stores the value for key, refreshing recency. Insertion past
// capacity evicts the least-recently-touched entry.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

// Has reports whether key is cached without refreshing its recency.
func (c *LRU[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Delete removes key from the cache.
func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// Clear drops every entry.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element, c.capacity)
}

// Len returns the number of cached entries.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// evictOldest removes the back of the recency list. Caller holds the lock.
func (c *LRU[V]) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*lruEntry[V])
	c.order.Remove(elem)
	delete(c.entries, entry.key)
	if c.onEvict != nil {
		c.onEvict(entry.key, entry.value)
	}
}
