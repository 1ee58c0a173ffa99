package credcache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	artifact  Artifact
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[uint]memoryEntry
	gcEvery time.Duration
	nextGC  time.Time
	now     func() time.Time
}

// NewMemory returns a process-local cache.
func NewMemory() Cache {
	return newMemoryCache(time.Now)
}

func newMemoryCache(now func() time.Time) *memoryCache {
	return &memoryCache{
		entries: make(map[uint]memoryEntry),
		gcEvery: 10 * time.Minute,
		nextGC:  now().Add(10 * time.Minute),
		now:     now,
	}
}

func (c *memoryCache) Get(_ context.Context, serverID uint) (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[serverID]
	if !ok {
		return Artifact{}, false
	}
	if !e.expiresAt.After(c.now()) {
		delete(c.entries, serverID)
		return Artifact{}, false
	}
	return e.artifact, true
}

func (c *memoryCache) Put(_ context.Context, serverID uint, artifact Artifact, ttl time.Duration) {
	if ttl <= 0 || artifact.Empty() {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[serverID] = memoryEntry{artifact: artifact, expiresAt: now.Add(ttl)}
	if now.After(c.nextGC) {
		for id, e := range c.entries {
			if e.expiresAt.Before(now) {
				delete(c.entries, id)
			}
		}
		c.nextGC = now.Add(c.gcEvery)
	}
}

func (c *memoryCache) Invalidate(_ context.Context, serverID uint) {
	c.mu.Lock()
	delete(c.entries, serverID)
	c.mu.Unlock()
}
