// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the response cache for remote-tool and
// external-call step results: a bounded in-memory key/value store with
// pluggable eviction, TTL expiry measured from creation time, and an
// idempotency policy that refuses to cache calls whose side effects make
// reuse unsafe.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Strategy selects how entries are evicted once the cache is full.
type Strategy string

const (
	StrategyLRU   Strategy = "lru"
	StrategyLFU   Strategy = "lfu"
	StrategyTTL   Strategy = "ttl"
	StrategyMixed Strategy = "mixed"
)

// Config configures the response cache. Defaults follow
// original_source's CacheConfig.
type Config struct {
	MaxEntries      int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Strategy        Strategy
}

func (c *Config) setDefaults() {
	if c.MaxEntries == 0 {
		c.MaxEntries = 10000
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = time.Hour
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.Strategy == "" {
		c.Strategy = StrategyMixed
	}
}

// entry holds a cached value plus the bookkeeping eviction strategies need.
type entry struct {
	key         string
	value       interface{}
	createdAt   time.Time
	lastAccess  time.Time
	accessCount int
	ttl         time.Duration
	elem        *list.Element // position in lru for StrategyLRU/Mixed
}

// isExpired checks elapsed time against creation time exclusively — never
// against last-access time, so a hot key with no TTL headroom left still
// expires on schedule.
func (e *entry) isExpired(now time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return now.Sub(e.createdAt) > e.ttl
}

// Stats reports cache-wide counters.
type Stats struct {
	Hits      int
	Misses    int
	Evictions int
	Expired   int
	Size      int
}

// Cache is a bounded, thread-safe response cache.
type Cache struct {
	config Config
	mu     sync.Mutex
	items  map[string]*entry
	lru    *list.List // front = least recently used
	stats  Stats

	done chan struct{}
}

// New creates a response cache and starts its background expiry sweep.
func New(config Config) *Cache {
	config.setDefaults()
	c := &Cache{
		config: config,
		items:  make(map[string]*entry),
		lru:    list.New(),
		done:   make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Close stops the background expiry sweep.
func (c *Cache) Close() {
	close(c.done)
}

// Key deterministically derives a cache key from a step kind, a target, and
// its resolved parameters, so identical calls produce identical keys
// regardless of Go map iteration order.
func Key(prefix, target string, params map[string]interface{}) string {
	normalized, err := json.Marshal(sortedParams(params))
	if err != nil {
		normalized = []byte(target)
	}
	sum := sha256.Sum256(normalized)
	return prefix + ":" + target + ":" + hex.EncodeToString(sum[:])
}

func sortedParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return map[string]interface{}{}
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]interface{}, len(params))
	for _, k := range keys {
		out[k] = params[k]
	}
	return out
}

// Get looks up key, returning (value, true) on a live hit. Expired entries
// are removed and counted as both an expiry and a miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	if e.isExpired(time.Now()) {
		c.removeLocked(e)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}

	e.lastAccess = time.Now()
	e.accessCount++
	if c.config.Strategy == StrategyLRU || c.config.Strategy == StrategyMixed {
		c.lru.MoveToBack(e.elem)
	}

	c.stats.Hits++
	return e.value, true
}

// Put stores value under key with ttl (the configured default if ttl <= 0),
// evicting entries first if the cache is at capacity.
func (c *Cache) Put(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		c.removeLocked(existing)
	}

	c.ensureCapacityLocked()

	now := time.Now()
	e := &entry{key: key, value: value, createdAt: now, lastAccess: now, accessCount: 1, ttl: ttl}
	e.elem = c.lru.PushBack(e)
	c.items[key] = e
	c.stats.Size++
}

// Invalidate removes a single key, reporting whether it was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// InvalidatePrefix removes every key with the given prefix, returning the
// count removed.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*entry
	for k, e := range c.items {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		c.removeLocked(e)
	}
	return len(toRemove)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry)
	c.lru = list.New()
	c.stats.Size = 0
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// removeLocked must be called with c.mu held.
func (c *Cache) removeLocked(e *entry) {
	delete(c.items, e.key)
	if e.elem != nil {
		c.lru.Remove(e.elem)
	}
	c.stats.Size--
}

// ensureCapacityLocked must be called with c.mu held.
func (c *Cache) ensureCapacityLocked() {
	for len(c.items) >= c.config.MaxEntries && len(c.items) > 0 {
		c.evictLocked()
	}
}

// evictLocked removes one entry according to the configured strategy. Must
// be called with c.mu held.
func (c *Cache) evictLocked() {
	switch c.config.Strategy {
	case StrategyLRU:
		if front := c.lru.Front(); front != nil {
			c.removeLocked(front.Value.(*entry))
		}
	case StrategyLFU:
		var victim *entry
		for _, e := range c.items {
			if victim == nil || e.accessCount < victim.accessCount {
				victim = e
			}
		}
		if victim != nil {
			c.removeLocked(victim)
		}
	case StrategyTTL:
		var oldest *entry
		for _, e := range c.items {
			if oldest == nil || e.createdAt.Before(oldest.createdAt) {
				oldest = e
			}
		}
		if oldest != nil {
			c.removeLocked(oldest)
		}
	case StrategyMixed:
		now := time.Now()
		for _, e := range c.items {
			if e.isExpired(now) {
				c.removeLocked(e)
				c.stats.Evictions++
				return
			}
		}
		if front := c.lru.Front(); front != nil {
			c.removeLocked(front.Value.(*entry))
		}
	}
	c.stats.Evictions++
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.cleanupExpired()
		}
	}
}

func (c *Cache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var expired []*entry
	for _, e := range c.items {
		if e.isExpired(now) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.removeLocked(e)
		c.stats.Expired++
	}
}
