package eligibility

import (
	"context"
	"sync"
	"time"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

// Entry is a cached eligibility answer. Freshness is decided by the verifier
// from StoredAt; caches only decide how long an entry is retained.
type Entry struct {
	StoredAt time.Time            `json:"storedAt"`
	Data     *model.AbcLaunchData `json:"data,omitempty"`
	Eligible bool                 `json:"eligible"`
}

// Cache retains entries for a fixed retention period.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Close() error
}

type memoryEntry struct {
	expiry time.Time
	entry  Entry
}

// MemoryCache is a process-local Cache with a janitor goroutine.
type MemoryCache struct {
	now       func() time.Time
	entries   map[string]memoryEntry
	stopCh    chan struct{}
	stopOnce  sync.Once
	retention time.Duration
	mu        sync.RWMutex
}

// NewMemoryCache creates a cache that forgets entries retention after they are stored.
func NewMemoryCache(retention time.Duration) *MemoryCache {
	if retention <= 0 {
		retention = 15 * time.Minute
	}

	cache := &MemoryCache{
		now:       time.Now,
		entries:   make(map[string]memoryEntry),
		retention: retention,
		stopCh:    make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stored, exists := c.entries[key]
	if !exists || c.now().After(stored.expiry) {
		return Entry{}, false, nil
	}
	return stored.entry, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{
		entry:  entry,
		expiry: c.now().Add(c.retention),
	}
	return nil
}

func (c *MemoryCache) cleanup() {
	interval := c.retention
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for key, stored := range c.entries {
				if now.After(stored.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Len returns the number of retained entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}
