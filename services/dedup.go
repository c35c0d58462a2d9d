package services

import (
	"sync"
	"time"
)

// DedupCache suppresses redundant cleanup calls for the same key inside a
// short window. Page teardown can fire several identical beacons; only the
// first one inside the window should reach the store.
type DedupCache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func NewDedupCache(window time.Duration) *DedupCache {
	return &DedupCache{
		window:  window,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen reports whether key was recorded within the window.
func (c *DedupCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	processed, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.now().Sub(processed) > c.window {
		delete(c.entries, key)
		return false
	}
	return true
}

// Record marks key as processed now, evicting any expired entries while the
// lock is held.
func (c *DedupCache) Record(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = now

	cutoff := now.Add(-c.window)
	for k, processed := range c.entries {
		if processed.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}
