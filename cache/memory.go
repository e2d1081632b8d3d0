package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultCapacity is the entry bound used when none is configured.
const DefaultCapacity = 500

// MemoryCache is an in-memory cache bounded by entry count.
//
// Eviction is by insertion order: when a new key would exceed the capacity
// the oldest-inserted entry is dropped, regardless of how recently it was
// read. Expired entries are removed lazily when read.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front is the oldest insertion
	capacity int
	now      func() time.Time

	evictions   uint64
	expirations uint64
}

type cacheEntry struct {
	key       string
	value     any
	expiresAt time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock replaces the time source used for expiry checks.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates a new in-memory cache holding at most capacity entries.
// A non-positive capacity uses DefaultCapacity.
func NewMemoryCache(capacity int, opts ...MemoryOption) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &MemoryCache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
func (c *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		// Expired - clean up lazily
		c.removeLocked(elem)
		c.expirations++
		return nil, false
	}

	return entry.value, true
}

// Set stores a value with the given TTL. TTL<=0 means no caching.
//
// Overwriting a key replaces the entry atomically and counts as a fresh
// insertion for eviction order.
func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
	for c.order.Len() >= c.capacity {
		c.evictOldestLocked()
	}

	c.entries[key] = c.order.PushBack(&cacheEntry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
	})
	return nil
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
	c.mu.Unlock()
	return nil
}

// Invalidate removes every entry whose key satisfies match.
func (c *MemoryCache) Invalidate(_ context.Context, match Matcher) int {
	if match == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if match(elem.Value.(*cacheEntry).key) {
			c.removeLocked(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Clear removes all entries.
func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()
}

// Resize changes the capacity, evicting oldest entries beyond it.
func (c *MemoryCache) Resize(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = capacity
	for c.order.Len() > c.capacity {
		c.evictOldestLocked()
	}
}

// Len returns the number of stored entries, including not yet collected expired ones.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns the stored keys from oldest to newest insertion.
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*cacheEntry).key)
	}
	return keys
}

// Stats returns a snapshot of cache counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:     c.order.Len(),
		Capacity:    c.capacity,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

// Stats contains cache statistics.
type Stats struct {
	Entries     int
	Capacity    int
	Evictions   uint64
	Expirations uint64
}

func (c *MemoryCache) evictOldestLocked() {
	oldest := c.order.Front()
	if oldest == nil {
		return
	}
	c.removeLocked(oldest)
	c.evictions++
}

func (c *MemoryCache) removeLocked(elem *list.Element) {
	delete(c.entries, elem.Value.(*cacheEntry).key)
	c.order.Remove(elem)
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)
