// SPDX-License-Identifier: MIT

// Package cache holds recently seen datapoint values so coalesced reads
// can be answered without another CCU round trip. Keys follow
// dp:<interface>:<address>:<parameter>; build them with Key.
//
// Backends that serialize (Redis) return JSON-decoded values, so
// numbers come back as float64. The memory backend returns values as
// stored.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Cache provides thread-safe value caching with expiration.
type Cache interface {
	// Get retrieves a value. Returns false if not found or expired.
	Get(key string) (any, bool)
	// Set stores a value for ttl. Non-positive ttl values are ignored.
	Set(key string, value any, ttl time.Duration)
	// Delete removes a value.
	Delete(key string)
	// Clear removes all values.
	Clear()
	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

// Key builds the canonical datapoint key. Channel addresses keep their
// colon suffix (NEQ1234567:1).
func Key(interfaceID, address, parameter string) string {
	return "dp:" + interfaceID + ":" + address + ":" + parameter
}

// New builds the backend named by the configuration. An empty name
// selects the memory backend; "none" disables caching entirely.
func New(backend string, cleanupInterval time.Duration, redisCfg RedisConfig) (Cache, error) {
	switch backend {
	case "", "memory":
		return NewMemoryCache(cleanupInterval), nil
	case "redis":
		return NewRedisCache(redisCfg)
	case "none":
		return NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %q (supported: memory, redis, none)", backend)
	}
}

type entry struct {
	value      any
	expiration time.Time
}

func (e *entry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// MemoryCache is the in-process implementation of Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	evicted atomic.Int64

	janitor   *janitor
	closeOnce sync.Once
}

// NewMemoryCache creates an in-memory cache. A positive cleanupInterval
// starts a janitor goroutine that removes expired entries; call Close
// to stop it.
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]*entry),
	}
	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}
	return c
}

func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if !found || e.isExpired() {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = &entry{
		value:      value,
		expiration: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	c.sets.Add(1)
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evicted.Load(),
		CurrentSize: size,
	}
}

// deleteExpired removes expired entries and returns how many it dropped.
func (c *MemoryCache) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if e.isExpired() {
			delete(c.entries, key)
			count++
		}
	}
	c.evicted.Add(int64(count))
	return count
}

// Close stops the janitor goroutine. Safe to call more than once.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		if c.janitor != nil {
			close(c.janitor.stop)
		}
	})
	return nil
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(c *MemoryCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

// noOpCache never stores anything. Installed when caching is disabled.
type noOpCache struct{}

func NewNoOpCache() Cache {
	return &noOpCache{}
}

func (c *noOpCache) Get(key string) (any, bool)                   { return nil, false }
func (c *noOpCache) Set(key string, value any, ttl time.Duration) {}
func (c *noOpCache) Delete(key string)                            {}
func (c *noOpCache) Clear()                                       {}
func (c *noOpCache) Stats() Stats                                 { return Stats{} }
