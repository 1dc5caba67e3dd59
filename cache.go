// A byte-bounded LRU, replacing the soft/weak references the design
// notes call out as unsuitable to model directly: "a clean
// re-architecture uses an LRU with a byte budget and explicit eviction
// callbacks; do not attempt to model GC-observable weak references."
//
// Used both by BlockIndex (rehydrated entry maps after sync) and by
// Database's three record caches (primary-full, primary-partial,
// secondary).
package triadb

import (
	"container/list"
	"sync"
)

// Sized is implemented by anything a ByteBoundedCache stores, so the
// cache can account for its footprint without a separate size table.
type Sized interface {
	// ByteSize estimates the in-memory footprint, used against the
	// cache's byte budget. Need not be exact.
	ByteSize() int
}

type cacheEntry[K comparable, V Sized] struct {
	key   K
	value V
	size  int
}

// ByteBoundedCache is an LRU cache bounded by total estimated byte size
// rather than entry count. Eviction runs synchronously inside Set, under
// the cache's own lock — simple and sufficient at the concurrency levels
// this engine targets (record caches tolerate benign double-compute
// under contention).
type ByteBoundedCache[K comparable, V Sized] struct {
	mu      sync.Mutex
	budget  int
	used    int
	ll      *list.List
	index   map[K]*list.Element
	onEvict func(K, V)
}

// NewByteBoundedCache returns a cache that evicts least-recently-used
// entries once the total estimated size exceeds budget bytes.
// onEvict, if non-nil, is called synchronously for every evicted entry.
func NewByteBoundedCache[K comparable, V Sized](budget int, onEvict func(K, V)) *ByteBoundedCache[K, V] {
	return &ByteBoundedCache[K, V]{
		budget:  budget,
		ll:      list.New(),
		index:   make(map[K]*list.Element),
		onEvict: onEvict,
	}
}

// Get returns the cached value for key, promoting it to most-recently-used.
func (c *ByteBoundedCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry[K, V]).value, true
}

// Set inserts or replaces the cached value for key, evicting
// least-recently-used entries until the cache is back within budget.
func (c *ByteBoundedCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := value.ByteSize()

	if el, ok := c.index[key]; ok {
		old := el.Value.(*cacheEntry[K, V])
		c.used += size - old.size
		old.value = value
		old.size = size
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&cacheEntry[K, V]{key: key, value: value, size: size})
		c.index[key] = el
		c.used += size
	}

	for c.used > c.budget && c.ll.Len() > 0 {
		back := c.ll.Back()
		entry := back.Value.(*cacheEntry[K, V])
		c.ll.Remove(back)
		delete(c.index, entry.key)
		c.used -= entry.size
		if c.onEvict != nil {
			c.onEvict(entry.key, entry.value)
		}
	}
}

// Delete removes key from the cache, if present.
func (c *ByteBoundedCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return
	}
	entry := el.Value.(*cacheEntry[K, V])
	c.ll.Remove(el)
	delete(c.index, key)
	c.used -= entry.size
}

// Len reports the current entry count.
func (c *ByteBoundedCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
