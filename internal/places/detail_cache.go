package places

import (
	"sync"
	"time"

	"github.com/example/dining-coordinator/internal/application"
)

// detailCache stores recently fetched restaurant details so repeated lookups
// during a voting session avoid another round trip to the places API.
type detailCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]detailCacheEntry
}

type detailCacheEntry struct {
	restaurant application.Restaurant
	expiresAt  time.Time
}

func newDetailCache(ttl time.Duration, maxEntries int, now func() time.Time) *detailCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if now == nil {
		now = time.Now
	}
	return &detailCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]detailCacheEntry),
	}
}

func (c *detailCache) Get(id string) (application.Restaurant, bool) {
	if c == nil {
		return application.Restaurant{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return application.Restaurant{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, id)
		c.mu.Unlock()
		return application.Restaurant{}, false
	}
	return entry.restaurant, true
}

func (c *detailCache) Store(id string, restaurant application.Restaurant) {
	if c == nil {
		return
	}
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[id] = detailCacheEntry{restaurant: restaurant, expiresAt: expiry}
}

func (c *detailCache) cleanupLocked() {
	now := c.now()
	for id, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
}

func (c *detailCache) evictOneLocked() {
	for id := range c.entries {
		delete(c.entries, id)
		return
	}
}
