// Package memory provides a generic in-process cache with LRU eviction and
// per-entry expiry. The static file handler keeps file bodies in it.
package memory

import (
	"sync"
	"time"
)

// Config configures a Cache.
type Config struct {
	// MaxSize is the maximum number of entries. When a new key would
	// exceed it the least recently used entry is evicted.
	// 0 means unlimited.
	MaxSize int

	// DefaultTTL applies to entries stored without WithTTL.
	// 0 means entries never expire.
	DefaultTTL time.Duration

	// CleanupInterval is how often expired entries are swept in the
	// background. 0 disables the sweeper; expired entries are then only
	// dropped when read.
	CleanupInterval time.Duration
}

// Metrics is a snapshot of cache counters.
type Metrics struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Deletes     int64
	Evictions   int64
	Expirations int64
	CurrentSize int64
}

// HitRate returns hits / (hits + misses), or 0 before any read.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// entry is also a node of the recency ring.
type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time

	prev, next *entry[K, V]
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is a concurrency-safe map with LRU eviction and TTL expiry.
type Cache[K comparable, V any] struct {
	config Config

	// Reads reorder the ring, so every access takes the lock exclusively.
	mu   sync.Mutex
	data map[K]*entry[K, V]
	// ring is the sentinel of a circular list; ring.next is the most
	// recently used entry and ring.prev the least.
	ring    entry[K, V]
	metrics Metrics
	closed  bool
	now     func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a cache and starts the background sweeper when
// config.CleanupInterval is positive. Call Close to stop it.
func New[K comparable, V any](config Config) *Cache[K, V] {
	c := &Cache[K, V]{
		config: config,
		data:   make(map[K]*entry[K, V]),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	c.resetRing()
	if config.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop()
	}
	return c
}

// Get returns the value stored under key and marks it most recently used.
// A missing or expired key yields ErrNotFound.
func (c *Cache[K, V]) Get(key K) (V, error) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return zero, ErrClosed
	}

	e, ok := c.data[key]
	if !ok {
		c.metrics.Misses++
		return zero, ErrNotFound
	}
	if e.expired(c.now()) {
		c.removeLocked(key, e)
		c.metrics.Expirations++
		c.metrics.Misses++
		return zero, ErrNotFound
	}

	c.touch(e)
	c.metrics.Hits++
	return e.value, nil
}

// Set stores value under key, replacing any previous value.
func (c *Cache[K, V]) Set(key K, value V, opts ...SetOption) error {
	options := setOptions{ttl: c.config.DefaultTTL}
	for _, opt := range opts {
		opt(&options)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	expiresAt := c.expiration(options.ttl)
	if e, ok := c.data[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.touch(e)
		c.metrics.Sets++
		return nil
	}

	if c.config.MaxSize > 0 {
		for len(c.data) >= c.config.MaxSize {
			c.evictLocked()
		}
	}

	e := &entry[K, V]{key: key, value: value, expiresAt: expiresAt}
	c.data[key] = e
	c.pushFront(e)
	c.metrics.Sets++
	c.metrics.CurrentSize = int64(len(c.data))
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache[K, V]) Delete(key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if e, ok := c.data[key]; ok {
		c.removeLocked(key, e)
		c.metrics.Deletes++
	}
	return nil
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.data = make(map[K]*entry[K, V])
	c.resetRing()
	c.metrics.CurrentSize = 0
	return nil
}

// Len returns the number of stored entries, expired ones not yet swept
// included.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Metrics returns a snapshot of the counters.
func (c *Cache[K, V]) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Close stops the sweeper and drops all entries. Later calls return
// ErrClosed.
func (c *Cache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.data = nil
	c.resetRing()
	c.metrics.CurrentSize = 0
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
	return nil
}

func (c *Cache[K, V]) removeLocked(key K, e *entry[K, V]) {
	delete(c.data, key)
	unlink(e)
	c.metrics.CurrentSize = int64(len(c.data))
}

// evictLocked drops the least recently used entry.
func (c *Cache[K, V]) evictLocked() {
	oldest := c.ring.prev
	if oldest == &c.ring {
		return
	}
	c.removeLocked(oldest.key, oldest)
	c.metrics.Evictions++
}

func (c *Cache[K, V]) resetRing() {
	c.ring.next = &c.ring
	c.ring.prev = &c.ring
}

func (c *Cache[K, V]) pushFront(e *entry[K, V]) {
	e.prev = &c.ring
	e.next = c.ring.next
	c.ring.next.prev = e
	c.ring.next = e
}

// touch marks e most recently used.
func (c *Cache[K, V]) touch(e *entry[K, V]) {
	if c.ring.next == e {
		return
	}
	unlink(e)
	c.pushFront(e)
}

func unlink[K comparable, V any](e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
}

// keys lists keys from most to least recently used.
func (c *Cache[K, V]) keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []K
	for e := c.ring.next; e != &c.ring; e = e.next {
		out = append(out, e.key)
	}
	return out
}

func (c *Cache[K, V]) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// cleanup removes every expired entry.
func (c *Cache[K, V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	now := c.now()
	for key, e := range c.data {
		if e.expired(now) {
			c.removeLocked(key, e)
			c.metrics.Expirations++
		}
	}
}

func (c *Cache[K, V]) expiration(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{} // Zero time means no expiration
	}
	return c.now().Add(ttl)
}

// SetOption is a functional option for Set.
type SetOption func(*setOptions)

type setOptions struct {
	ttl time.Duration
}

// WithTTL sets a custom TTL for this entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
	}
}

// WithNoExpiration stores the entry without expiry regardless of
// DefaultTTL.
func WithNoExpiration() SetOption {
	return func(o *setOptions) {
		o.ttl = 0
	}
}
