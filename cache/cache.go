// Package cache keeps recent lookup outcomes so identical requests within a
// caller-chosen window skip the browser queue.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/use-agent/planillas/models"
)

// entry holds a cached outcome with its creation timestamp.
type entry struct {
	outcome   *models.Outcome
	createdAt time.Time
}

// Cache is a simple in-memory cache for lookup outcomes.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	now        func() time.Time
}

// New creates a new Cache with the given maximum number of entries.
// A background goroutine runs every 5 minutes to evict expired entries
// (older than 1 hour).
func New(maxEntries int) *Cache {
	c := newCache(maxEntries, time.Now)
	go c.cleanupLoop()
	return c
}

func newCache(maxEntries int, now func() time.Time) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		now:        now,
	}
}

// Key generates a cache key from the normalized request fields.
func Key(req models.LookupRequest) string {
	h := sha256.New()
	h.Write([]byte(req.DocumentType))
	h.Write([]byte("|"))
	h.Write([]byte(req.SubjectID))
	h.Write([]byte("|"))
	h.Write([]byte(req.PeriodYear))
	h.Write([]byte("|"))
	h.Write([]byte(req.PeriodMonth))
	return hex.EncodeToString(h.Sum(nil))
}

// Get retrieves a cached outcome if it exists and is younger than maxAge.
// maxAge is in milliseconds. If maxAge <= 0, no cache lookup is performed.
// Returns the outcome and whether it was a cache hit.
func (c *Cache) Get(key string, maxAgeMs int) (*models.Outcome, bool) {
	if maxAgeMs <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	maxAge := time.Duration(maxAgeMs) * time.Millisecond
	if c.now().Sub(e.createdAt) > maxAge {
		return nil, false
	}

	return e.outcome, true
}

// Set stores an outcome. Failed lookups are not cached: the next request
// should try the site again. If the cache is at capacity, a random entry
// is evicted to make room.
func (c *Cache) Set(key string, o *models.Outcome) {
	if o == nil || o.Result == models.ResultScrapeFailed {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict one random entry if at capacity (map iteration is random in Go).
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{
		outcome:   o,
		createdAt: c.now(),
	}
}

// Len returns the number of cached outcomes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// cleanupLoop evicts entries older than 1 hour every 5 minutes.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		c.evictBefore(c.now().Add(-1 * time.Hour))
	}
}

func (c *Cache) evictBefore(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
}
