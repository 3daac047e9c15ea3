package ledger

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a fetched snapshot stays fresh.
const DefaultTTL = 5 * time.Minute

// Snapshot is an immutable copy of the ledger rows.
type Snapshot struct {
	Rows      []Row
	FetchedAt time.Time
}

// Cache is a read-through TTL cache over a Store.
//
// Fetches run outside the lock and concurrent misses may each hit the store.
// Invalidate bumps a generation counter, and a fetch that started before an
// invalidation is handed to its caller but never installed.
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu         sync.Mutex
	snapshot   *Snapshot
	generation uint64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache with the given TTL; a non-positive ttl means DefaultTTL.
func NewCache(store Store, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{store: store, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the held snapshot while fresh, otherwise fetches a new one.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	if c.snapshot != nil && c.now().Sub(c.snapshot.FetchedAt) < c.ttl {
		snap := c.snapshot
		c.mu.Unlock()
		return snap, nil
	}
	gen := c.generation
	c.mu.Unlock()

	rows, err := c.store.Rows(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Rows: rows, FetchedAt: c.now()}

	c.mu.Lock()
	if c.generation == gen && (c.snapshot == nil || !snap.FetchedAt.Before(c.snapshot.FetchedAt)) {
		c.snapshot = snap
	}
	c.mu.Unlock()
	return snap, nil
}

// Invalidate drops the held snapshot so the next Get fetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.generation++
	c.mu.Unlock()
}
