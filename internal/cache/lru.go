// Package cache provides the process-local TTL caches backing agent and
// metadata lookups. Entries expire individually; capacity is enforced by
// least-recently-used eviction.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/Agentic-Trust-Layer/agentic-trust-sub010/internal/metrics"
)

// LRU is a generic LRU cache with per-entry TTL expiration. The name
// labels the cache in lookup metrics.
type LRU[K comparable, V any] struct {
	name     string
	capacity int
	ttl      time.Duration
	nowFn    func() time.Time

	mu    sync.Mutex
	items map[K]*list.Element
	order *list.List
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

func NewLRU[K comparable, V any](name string, capacity int, ttl time.Duration) *LRU[K, V] {
	return &LRU[K, V]{
		name:     name,
		capacity: capacity,
		ttl:      ttl,
		nowFn:    time.Now,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the cached value when present and unexpired. An expired
// entry is removed on the way out and counts as a miss.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues(c.name, "miss").Inc()
		return zero, false
	}

	e := elem.Value.(*entry[K, V])
	if c.nowFn().After(e.expiresAt) {
		c.removeElement(elem)
		metrics.CacheLookupsTotal.WithLabelValues(c.name, "expired").Inc()
		return zero, false
	}

	c.order.MoveToFront(elem)
	metrics.CacheLookupsTotal.WithLabelValues(c.name, "hit").Inc()
	return e.value, true
}

// Put stores a value, restarting its TTL and evicting the oldest entry
// when the cache is full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		e := elem.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = c.nowFn().Add(c.ttl)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	elem := c.order.PushFront(&entry[K, V]{
		key:       key,
		value:     value,
		expiresAt: c.nowFn().Add(c.ttl),
	})
	c.items[key] = elem
}

// Delete drops a key, reporting whether it was present. Used to
// invalidate an agent after a registration or metadata write.
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Len counts resident entries, expired but unevicted ones included.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU[K, V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	e := elem.Value.(*entry[K, V])
	delete(c.items, e.key)
}
