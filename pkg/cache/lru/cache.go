// Package lru is the process-local completion cache used by the chat client.
package lru

import (
	"container/list"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/pario-ai/companion/pkg/models"
)

// Cache is a bounded least-recently-used map from request key to completion text.
// It performs no locking; callers sharing a Cache across goroutines must
// serialize access themselves.
type Cache struct {
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	hits     atomic.Int64
	misses   atomic.Int64
}

type entry struct {
	key   string
	value string
}

// New creates a Cache holding at most capacity entries. A capacity below one
// is treated as one.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity+1),
	}
}

// KeyFields are the request fields that identify a cacheable completion.
type KeyFields struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// Key computes a SHA-256 hash over a canonical JSON encoding of f.
// Temperature and TopP are rounded to two decimals first.
func Key(f KeyFields) string {
	canonical := map[string]any{
		"model":       f.Model,
		"system":      f.System,
		"prompt":      f.Prompt,
		"temperature": round2(f.Temperature),
		"max_tokens":  f.MaxTokens,
		"top_p":       round2(f.TopP),
	}
	// encoding/json writes map keys in sorted order.
	data, _ := json.Marshal(canonical)
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Get returns the cached value for key and marks it most recently used.
func (c *Cache) Get(key string) (string, bool) {
	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return "", false
	}
	c.ll.MoveToFront(el)
	c.hits.Add(1)
	return el.Value.(*entry).value, true
}

// Contains reports whether key is cached without changing its recency.
func (c *Cache) Contains(key string) bool {
	_, ok := c.items[key]
	return ok
}

// Put stores value under key as the most recently used entry, evicting the
// least recently used entry when the cache is over capacity.
func (c *Cache) Put(key, value string) {
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).value = value
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&entry{key: key, value: value})
	for c.ll.Len() > c.capacity {
		c.removeOldest()
	}
}

func (c *Cache) removeOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.ll.Len()
}

// Clear removes every entry. Hit and miss counters are kept.
func (c *Cache) Clear() {
	c.ll.Init()
	clear(c.items)
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() models.CacheStats {
	return models.CacheStats{
		Entries:  int64(c.ll.Len()),
		Capacity: int64(c.capacity),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}
