package cache

import (
	"context"
	"errors"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"installops/internal/observability/metrics"
)

// DefaultSize is used when a non-positive size is configured.
const DefaultSize = 512

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
}

// ManufacturerKeyCache remembers which stored manufacturer key answered a
// lookup for a raw manufacturer string. Reads never refresh recency, so the
// oldest inserted entry is evicted first.
type ManufacturerKeyCache struct {
	entries  *lru.Cache[string, string]
	group    singleflight.Group
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	purging   atomic.Bool
}

// NewManufacturerKeyCache constructs a cache bounded to size entries.
func NewManufacturerKeyCache(size int) (*ManufacturerKeyCache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c := &ManufacturerKeyCache{capacity: size}
	entries, err := lru.NewWithEvict[string, string](size, func(string, string) {
		if c.purging.Load() {
			return
		}
		c.evictions.Add(1)
		metrics.IncManufacturerCacheEvent(metrics.CacheEvict)
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Get returns the cached stored key for lookup.
func (c *ManufacturerKeyCache) Get(lookup string) (string, bool) {
	if c == nil {
		return "", false
	}
	stored, ok := c.entries.Peek(lookup)
	if ok {
		c.hits.Add(1)
		metrics.IncManufacturerCacheEvent(metrics.CacheHit)
		return stored, true
	}
	c.misses.Add(1)
	metrics.IncManufacturerCacheEvent(metrics.CacheMiss)
	return "", false
}

// GetOrLoad returns the cached value or runs load once per lookup across
// concurrent callers. Only found results are stored.
func (c *ManufacturerKeyCache) GetOrLoad(ctx context.Context, lookup string, load func(ctx context.Context) (string, bool, error)) (string, bool, error) {
	if load == nil {
		return "", false, errors.New("manufacturer cache: nil loader")
	}
	if c == nil {
		return load(ctx)
	}
	if stored, ok := c.Get(lookup); ok {
		return stored, true, nil
	}

	type loaded struct {
		stored string
		found  bool
	}
	v, err, _ := c.group.Do(lookup, func() (any, error) {
		stored, found, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if found {
			c.entries.ContainsOrAdd(lookup, stored)
		}
		return loaded{stored: stored, found: found}, nil
	})
	if err != nil {
		return "", false, err
	}
	res := v.(loaded)
	return res.stored, res.found, nil
}

// Purge drops every entry. Purged entries are not counted as evictions.
func (c *ManufacturerKeyCache) Purge() {
	if c == nil {
		return
	}
	c.purging.Store(true)
	c.entries.Purge()
	c.purging.Store(false)
}

// Stats returns current counters.
func (c *ManufacturerKeyCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.entries.Len(),
		Capacity:  c.capacity,
	}
}
