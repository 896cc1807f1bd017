// Package cache provides the in-process caches shared across connections:
// plain TTL, TTL with LRU eviction, and fixed-size FIFO. All caches are safe
// for concurrent use.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is the common read/write surface of all strategies.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Len() int
}

// now is swapped out in tests.
var now = time.Now

// ---- TTL ----

// TTLCache expires entries a fixed duration after they were written.
// Expired entries are reaped lazily on access.
type TTLCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]ttlEntry
}

type ttlEntry struct {
	value    any
	deadline time.Time
}

// NewTTL creates a cache whose entries expire after ttl.
func NewTTL(ttl time.Duration) *TTLCache {
	return &TTLCache{ttl: ttl, entries: make(map[string]ttlEntry)}
}

func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now().After(e.deadline) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *TTLCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry{value: value, deadline: now().Add(c.ttl)}
}

func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ---- TTL + LRU ----

// TTLLRUCache combines a TTL with a maximum entry count. When full, the least
// recently used entry is evicted to make room.
type TTLLRUCache struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

type lruEntry struct {
	key      string
	value    any
	deadline time.Time
}

// NewTTLLRU creates a cache holding at most maxEntries items, each expiring
// after ttl.
func NewTTLLRU(ttl time.Duration, maxEntries int) *TTLLRUCache {
	return &TTLLRUCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *TTLLRUCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*lruEntry)
	if now().After(e.deadline) {
		c.removeLocked(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

func (c *TTLLRUCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*lruEntry)
		e.value = value
		e.deadline = now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	for c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
	el := c.order.PushFront(&lruEntry{key: key, value: value, deadline: now().Add(c.ttl)})
	c.entries[key] = el
}

func (c *TTLLRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

func (c *TTLLRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTLLRUCache) removeLocked(el *list.Element) {
	e := el.Value.(*lruEntry)
	c.order.Remove(el)
	delete(c.entries, e.key)
}

// ---- fixed size ----

// FixedSizeCache keeps at most maxEntries items with FIFO eviction and no
// expiry. Used for small lookup tables that must stay bounded.
type FixedSizeCache struct {
	maxEntries int

	mu      sync.Mutex
	order   *list.List // front = newest
	entries map[string]*list.Element
}

type fifoEntry struct {
	key   string
	value any
}

// NewFixedSize creates a FIFO cache holding at most maxEntries items.
func NewFixedSize(maxEntries int) *FixedSizeCache {
	return &FixedSizeCache{
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (c *FixedSizeCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*fifoEntry).value, true
}

func (c *FixedSizeCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*fifoEntry).value = value
		return
	}
	for c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*fifoEntry)
		c.order.Remove(oldest)
		delete(c.entries, e.key)
	}
	el := c.order.PushFront(&fifoEntry{key: key, value: value})
	c.entries[key] = el
}

func (c *FixedSizeCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

func (c *FixedSizeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
