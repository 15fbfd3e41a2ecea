// ABOUTME: Thread-safe TTL cache that remembers results by idempotency key
// ABOUTME: Used to return the original message when a client retries a send

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the value, its timestamp and its list element
type cacheEntry[V any] struct {
	value     V
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited map from key to the
// result first produced for that key. A doubly-linked list keeps insertion
// order so the oldest entry is evicted in O(1) when the cache is full.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry[V]
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically removes expired entries; call Close
// to stop it.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache[V]{
		entries: make(map[string]*cacheEntry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the value stored for key if it has not expired
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.now().Sub(entry.timestamp) >= c.ttl {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Put stores value for key, replacing any previous value. If the cache is
// at capacity the oldest entry is evicted to make room.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, exists := c.entries[key]; exists {
		entry.value = value
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry[V]{
		value:     value,
		timestamp: now,
		element:   elem,
	}
}

// Len returns the number of entries, including expired ones not yet cleaned
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache[V]) cleanup() {
	interval := time.Minute
	if c.ttl > 0 && c.ttl < interval {
		interval = c.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired removes all expired entries from the cache.
func (c *Cache[V]) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
