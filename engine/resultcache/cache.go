// Package resultcache keeps recently read task results in a size and TTL
// bounded cache. Only results of SUCCEEDED tasks belong here: they never
// change once written.
package resultcache

import (
	"encoding/json"
	"time"

	"github.com/examforge/examforge/engine/core"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize = 256
	DefaultTTL  = 10 * time.Minute
	keyPrefix   = "task/"
)

// Entry is a cached result together with the task owner it belongs to.
type Entry struct {
	OwnerID string
	Result  json.RawMessage
}

// Cache is safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, Entry]
}

// New returns a cache holding at most size entries, each for at most ttl.
// Non-positive arguments fall back to the defaults.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, Entry](size, nil, ttl)}
}

// Key is the cache key for a task's result.
func Key(id core.ID) string { return keyPrefix + id.String() }

func (c *Cache) Get(id core.ID) (Entry, bool) {
	v, ok := c.lru.Get(Key(id))
	if !ok {
		return Entry{}, false
	}
	v.Result = append(json.RawMessage(nil), v.Result...)
	return v, true
}

func (c *Cache) Put(id core.ID, ownerID string, result json.RawMessage) {
	if len(result) == 0 {
		return
	}
	c.lru.Add(Key(id), Entry{OwnerID: ownerID, Result: append(json.RawMessage(nil), result...)})
}

func (c *Cache) Evict(id core.ID) {
	c.lru.Remove(Key(id))
}

func (c *Cache) Len() int { return c.lru.Len() }
