package refrange

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a loaded reference table is served before the
// source is consulted again.
const DefaultCacheTTL = time.Hour

const (
	// DefaultRetryTTL bounds how long a table that stands in for a failed
	// load is served before the source is tried again.
	DefaultRetryTTL = 30 * time.Second
	// DefaultLoadTimeout bounds a single source load.
	DefaultLoadTimeout = 10 * time.Second
)

// LoadFunc produces the reference table of a species. The table must never
// be nil; a non-nil error marks it as a fallback for a failed load.
type LoadFunc func(ctx context.Context, species Species) (*ReferenceTable, error)

// CacheObserver receives cache events. Implementations must be safe for
// concurrent use.
type CacheObserver interface {
	CacheHit(species string)
	CacheMiss(species string)
	TableLoaded(species, source string)
}

type tableEntry struct {
	table     *ReferenceTable
	expiresAt time.Time
}

// TableCache serves reference tables per species with TTL-based expiry.
// Cached tables are immutable and replaced wholesale, so readers see either
// the old or the new table. Concurrent misses for one species share a
// single load.
type TableCache struct {
	mu       sync.RWMutex
	entries  map[Species]*tableEntry
	gen      map[Species]uint64
	ttl      time.Duration
	retryTTL time.Duration
	timeout  time.Duration
	load     LoadFunc
	group    singleflight.Group
	nowFunc  func() time.Time
	observer CacheObserver
}

type CacheOption func(*TableCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *TableCache) { c.nowFunc = now }
}

func WithObserver(o CacheObserver) CacheOption {
	return func(c *TableCache) { c.observer = o }
}

// WithRetryTTL sets the lifetime of fallback tables from failed loads.
func WithRetryTTL(d time.Duration) CacheOption {
	return func(c *TableCache) { c.retryTTL = d }
}

func WithLoadTimeout(d time.Duration) CacheOption {
	return func(c *TableCache) { c.timeout = d }
}

// NewTableCache creates a cache backed by load. A non-positive ttl selects
// DefaultCacheTTL.
func NewTableCache(load LoadFunc, ttl time.Duration, opts ...CacheOption) *TableCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &TableCache{
		entries:  make(map[Species]*tableEntry),
		gen:      make(map[Species]uint64),
		ttl:      ttl,
		retryTTL: DefaultRetryTTL,
		timeout:  DefaultLoadTimeout,
		load:     load,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retryTTL <= 0 || c.retryTTL > c.ttl {
		c.retryTTL = c.ttl
	}
	if c.timeout <= 0 {
		c.timeout = DefaultLoadTimeout
	}
	return c
}

// Get returns the cached table of species, loading it when absent or expired.
// The load is shared by concurrent callers and detached from ctx's
// cancellation, so one caller giving up does not fail it for the others.
func (c *TableCache) Get(ctx context.Context, species Species) *ReferenceTable {
	c.mu.RLock()
	entry, ok := c.entries[species]
	c.mu.RUnlock()
	if ok && c.nowFunc().Before(entry.expiresAt) {
		if c.observer != nil {
			c.observer.CacheHit(string(species))
		}
		return entry.table
	}
	if c.observer != nil {
		c.observer.CacheMiss(string(species))
	}

	v, _, _ := c.group.Do(string(species), func() (interface{}, error) {
		c.mu.RLock()
		gen := c.gen[species]
		c.mu.RUnlock()

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		table, err := c.load(loadCtx, species)
		if c.observer != nil {
			c.observer.TableLoaded(string(species), string(table.Source))
		}
		ttl := c.ttl
		if err != nil {
			ttl = c.retryTTL
		}

		c.mu.Lock()
		// An invalidation during the load makes this result stale.
		if c.gen[species] == gen {
			c.entries[species] = &tableEntry{table: table, expiresAt: c.nowFunc().Add(ttl)}
		}
		c.mu.Unlock()
		return table, nil
	})
	return v.(*ReferenceTable)
}

// Put publishes table as the current table of its species.
func (c *TableCache) Put(table *ReferenceTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[table.Species]++
	c.entries[table.Species] = &tableEntry{table: table, expiresAt: c.nowFunc().Add(c.ttl)}
	c.group.Forget(string(table.Species))
}

// Invalidate drops the cached table of species; the next Get reloads it.
func (c *TableCache) Invalidate(species Species) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[species]++
	delete(c.entries, species)
	c.group.Forget(string(species))
}

// TTL returns the configured lifetime of cached tables.
func (c *TableCache) TTL() time.Duration { return c.ttl }
