package storage

import (
	"sync"
	"time"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

// Cache serves repeated reads of a type without touching disk.
// Cached slices are shared: callers must not mutate returned records.
type Cache interface {
	Get(t models.DataType) ([]models.Record, bool)
	Put(t models.DataType, records []models.Record)
	Invalidate(t models.DataType)
}

// TTLCache expires an entry once it has gone unread for the configured TTL.
type TTLCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[models.DataType]*cacheEntry
}

type cacheEntry struct {
	records []models.Record
	expires time.Time
}

// NewTTLCache creates a cache. now may be nil to use the wall clock.
func NewTTLCache(ttl time.Duration, now func() time.Time) *TTLCache {
	if now == nil {
		now = time.Now
	}
	return &TTLCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[models.DataType]*cacheEntry),
	}
}

// Get returns the cached records for t and extends their lifetime.
func (c *TTLCache) Get(t models.DataType) ([]models.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[t]
	if !ok {
		return nil, false
	}
	now := c.now()
	if !now.Before(e.expires) {
		delete(c.entries, t)
		return nil, false
	}
	e.expires = now.Add(c.ttl)
	return e.records, true
}

// Put stores records for t.
func (c *TTLCache) Put(t models.DataType, records []models.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t] = &cacheEntry{records: records, expires: c.now().Add(c.ttl)}
}

// Invalidate drops the entry for t.
func (c *TTLCache) Invalidate(t models.DataType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, t)
}

// SetTTL changes the lifetime applied from the next access on.
func (c *TTLCache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}
