// internal/detection/cache.go
package detection

import (
	"container/list"
	"sync"
	"time"

	"mtdguard/internal/metrics"
)

// ResultCache is an LRU cache with TTL for memoized scorer results.
type ResultCache[V any] struct {
	name    string
	maxSize int
	ttl     time.Duration
	items   map[string]*cacheItem[V]
	lruList *list.List
	mu      sync.Mutex
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type cacheItem[V any] struct {
	key       string
	value     V
	element   *list.Element
	expiresAt time.Time
}

// NewResultCache creates a cache and starts its expiry sweeper. Call Close
// to stop the sweeper.
func NewResultCache[V any](name string, maxSize int, ttl time.Duration) *ResultCache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &ResultCache[V]{
		name:    name,
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*cacheItem[V]),
		lruList: list.New(),
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go c.cleanup(time.Minute)

	return c
}

func (c *ResultCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, exists := c.items[key]
	if !exists {
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return zero, false
	}

	if c.now().After(item.expiresAt) {
		c.removeItem(item)
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return zero, false
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(item.element)
	metrics.CacheHits.WithLabelValues(c.name).Inc()

	return item.value, true
}

func (c *ResultCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, exists := c.items[key]; exists {
		existing.value = value
		existing.expiresAt = c.now().Add(c.ttl)
		c.lruList.MoveToFront(existing.element)
		return
	}

	item := &cacheItem[V]{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
	item.element = c.lruList.PushFront(item)
	c.items[key] = item

	if len(c.items) > c.maxSize {
		c.evictLRU()
	}
}

func (c *ResultCache[V]) evictLRU() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	c.removeItem(oldest.Value.(*cacheItem[V]))
	metrics.CacheEvictions.WithLabelValues(c.name).Inc()
}

func (c *ResultCache[V]) removeItem(item *cacheItem[V]) {
	delete(c.items, item.key)
	c.lruList.Remove(item.element)
}

func (c *ResultCache[V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *ResultCache[V]) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, item := range c.items {
		if now.After(item.expiresAt) {
			c.removeItem(item)
		}
	}
}

func (c *ResultCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *ResultCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem[V])
	c.lruList.Init()
}

// Close stops the expiry sweeper. The cache stays usable.
func (c *ResultCache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

// cacheKey keys on the full text; distinct inputs never share an entry.
func cacheKey(prefix, text string) string {
	return prefix + ":" + text
}
