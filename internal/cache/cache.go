package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is one cached response value
type Entry struct {
	Status    int
	Value     []byte
	Header    map[string][]string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats is a counter snapshot for one cache instance
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	Evicted uint64  `json:"evicted"`
	HitRate float64 `json:"hitRate"`
	Size    int     `json:"size"`
}

// Config holds cache construction parameters
type Config struct {
	MaxSize         int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns conservative cache defaults
func DefaultConfig() Config {
	return Config{
		MaxSize:         1000,
		DefaultTTL:      time.Minute,
		CleanupInterval: 30 * time.Second,
	}
}

// Cache is a bounded TTL response cache with FIFO eviction: when full,
// the oldest-inserted entry goes first, independent of read recency.
// Each route owns its own instance; entries are never shared.
type Cache struct {
	maxSize    int
	defaultTTL time.Duration

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest inserted

	hits    uint64
	misses  uint64
	sets    uint64
	evicted uint64

	stopCh chan struct{}
	done   chan struct{}
}

type cacheItem struct {
	key   string
	entry *Entry
}

// New creates a cache and starts its cleanup task
func New(config Config) *Cache {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}

	c := &Cache{
		maxSize:    config.MaxSize,
		defaultTTL: config.DefaultTTL,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.cleanupLoop(config.CleanupInterval)
	return c
}

// Set inserts or overwrites an entry. A zero ttl uses the default.
// Inserting a new key at capacity evicts the oldest-inserted entry.
func (c *Cache) Set(key string, entry *Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sets++

	if el, ok := c.entries[key]; ok {
		// Overwrite keeps the original insertion position
		el.Value.(*cacheItem).entry = entry
		return
	}

	if c.order.Len() >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = c.order.PushBack(&cacheItem{key: key, entry: entry})
}

// Get returns the entry for a key if present and unexpired. An expired
// entry is removed and counted as a miss.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	item := el.Value.(*cacheItem)
	if item.entry.expired(time.Now()) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}

	c.hits++
	return item.entry, true
}

// Has reports whether a key is present and unexpired, without touching
// the hit/miss counters.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	return ok && !el.Value.(*cacheItem).entry.expired(time.Now())
}

// Delete removes a key, reporting whether it was present
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear removes all entries, leaving counters intact
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of stored entries including not-yet-swept
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Sets:    c.sets,
		Evicted: c.evicted,
		Size:    c.order.Len(),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// ResetStats zeroes the counters without clearing entries
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses, c.sets, c.evicted = 0, 0, 0, 0
}

// Cleanup removes all expired entries now
func (c *Cache) Cleanup() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for el := c.order.Front(); el != nil; el = next {
		next = el.Next()
		if el.Value.(*cacheItem).entry.expired(now) {
			c.removeElement(el)
		}
	}
}

// Close stops the cleanup task and drops all entries
func (c *Cache) Close() {
	close(c.stopCh)
	<-c.done
	c.Clear()
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// evictOldest drops the front of the insertion list. Must be called
// with the lock held.
func (c *Cache) evictOldest() {
	el := c.order.Front()
	if el == nil {
		return
	}
	c.removeElement(el)
	c.evicted++
}

// removeElement unlinks an entry. Must be called with the lock held.
func (c *Cache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cacheItem).key)
}
