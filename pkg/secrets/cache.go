package secrets

import (
	"sync"
	"time"
)

type cached[T any] struct {
	v     T
	until time.Time
}

// Cache holds values for a fixed TTL. An entry past its deadline is treated as
// absent and dropped on the next read or sweep.
type Cache[T any] struct {
	mu    sync.RWMutex
	items map[string]cached[T]
	ttl   time.Duration
	now   func() time.Time
}

func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{items: make(map[string]cached[T]), ttl: ttl, now: time.Now}
}

// Get returns the value stored under key while it is fresh.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if ok && !c.now().After(it.until) {
		return it.v, true
	}
	if ok {
		c.mu.Lock()
		// a concurrent Put may have refreshed it
		if cur, still := c.items[key]; still && c.now().After(cur.until) {
			delete(c.items, key)
		}
		c.mu.Unlock()
	}
	var zero T
	return zero, false
}

// Put stores v under key for one TTL from now.
func (c *Cache[T]) Put(key string, v T) {
	c.mu.Lock()
	c.items[key] = cached[T]{v: v, until: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Bust forgets key, so the next Get misses and the caller reloads it.
func (c *Cache[T]) Bust(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len counts stored entries, stale ones included until they are swept.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// StartCleaner sweeps stale entries every interval until stop is closed.
func (c *Cache[T]) StartCleaner(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache[T]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, it := range c.items {
		if now.After(it.until) {
			delete(c.items, k)
		}
	}
}
