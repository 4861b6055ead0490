package sharedcache

import (
	"sync"
	"time"

	"github.com/reforgehq/reforge-go/internal/wire"
)

// memoCache is a small in-process TTL cache sitting in front of Redis,
// so a burst of checkpoint/poll calls within the same process doesn't
// round-trip to Redis for every tick. Expiry plus oldest-access
// eviction, sized to the handful of entries a single process's
// distinct shared-cache keys ever need (one per api_key_id in
// practice).
type memoCache struct {
	mu      sync.RWMutex
	entries map[string]*memoEntry
	maxSize int
	ttl     time.Duration
}

type memoEntry struct {
	value      wire.Configs
	expiresAt  time.Time
	accessTime time.Time
}

func newMemoCache(maxEntries int, ttl time.Duration) *memoCache {
	return &memoCache{entries: make(map[string]*memoEntry), maxSize: maxEntries, ttl: ttl}
}

func (c *memoCache) Get(key string) (wire.Configs, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return wire.Configs{}, false
	}
	if time.Now().After(entry.expiresAt) {
		return wire.Configs{}, false
	}
	entry.accessTime = time.Now()
	return entry.value, true
}

func (c *memoCache) Set(key string, value wire.Configs) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &memoEntry{value: value, expiresAt: time.Now().Add(c.ttl), accessTime: time.Now()}
}

func (c *memoCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *memoCache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.accessTime.Before(oldestTime) {
			oldestKey, oldestTime, first = key, entry.accessTime, false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
