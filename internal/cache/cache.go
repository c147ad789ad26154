// Package cache provides an in-memory TTL cache and a stale-while-revalidate
// loader on top of it.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often Run removes expired entries.
const DefaultSweepInterval = 5 * time.Minute

// Entry is a cached value together with its age bookkeeping.
type Entry[V any] struct {
	Value     V
	CreatedAt time.Time
	TTL       time.Duration
}

// Age reports how old the entry is at now.
func (e Entry[V]) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

func (e *Entry[V]) expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// Cache is a string-keyed TTL cache safe for concurrent use. Operations on
// different keys do not contend on a shared lock.
//
// Expired entries are removed lazily on read and by Cleanup; nothing ever
// returns a value older than its TTL.
type Cache[V any] struct {
	entries sync.Map // string -> *Entry[V]
	now     func() time.Time
}

func New[V any]() *Cache[V] {
	return &Cache[V]{now: time.Now}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Peek is Get that also returns the entry's age bookkeeping.
func (c *Cache[V]) Peek(key string) (Entry[V], bool) {
	e, ok := c.load(key)
	if !ok {
		return Entry[V]{}, false
	}
	return *e, true
}

func (c *Cache[V]) load(key string) (*Entry[V], bool) {
	raw, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	e := raw.(*Entry[V])
	if e.expired(c.now()) {
		// Only drop the entry we looked at; a concurrent Set wins.
		c.entries.CompareAndDelete(key, raw)
		return nil, false
	}
	return e, true
}

// Set stores v under key, replacing any previous entry and resetting its age.
func (c *Cache[V]) Set(key string, v V, ttl time.Duration) {
	c.entries.Store(key, &Entry[V]{
		Value:     v,
		CreatedAt: c.now(),
		TTL:       ttl,
	})
}

func (c *Cache[V]) Has(key string) bool {
	_, ok := c.load(key)
	return ok
}

func (c *Cache[V]) Delete(key string) {
	c.entries.Delete(key)
}

func (c *Cache[V]) Clear() {
	c.entries.Clear()
}

// Size counts live (unexpired) entries.
func (c *Cache[V]) Size() int {
	now := c.now()
	n := 0
	c.entries.Range(func(_, raw any) bool {
		if !raw.(*Entry[V]).expired(now) {
			n++
		}
		return true
	})
	return n
}

// Cleanup removes every expired entry and returns how many were removed.
func (c *Cache[V]) Cleanup() int {
	now := c.now()
	removed := 0
	c.entries.Range(func(key, raw any) bool {
		if raw.(*Entry[V]).expired(now) && c.entries.CompareAndDelete(key, raw) {
			removed++
		}
		return true
	})
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Cleanup()

		case <-ctx.Done():
			return
		}
	}
}
