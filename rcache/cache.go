package rcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("rcache")

// tier is the origin of a cache entry: written directly by a caller, or
// promoted from the durable backing store.
type tier int

const (
	tierMemory tier = iota
	tierDurable
)

type entry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
	origin   tier
}

// CategoryStats is the hit and miss count for one key category.
type CategoryStats struct {
	Hits   uint64
	Misses uint64
}

// Stats is a point-in-time view of cache counters. Counters are monotonic
// for the process lifetime until Clear. DurableHitCount is the subset of
// HitCount served by entries that originated in the durable tier, so it
// measures what survived a restart.
type Stats struct {
	EntryCount      int
	HitCount        uint64
	DurableHitCount uint64
	MissCount       uint64
	ByCategory      map[string]CategoryStats
}

// Cache is a key-value store with per-entry time-to-live and an optional
// durable backing tier. It is safe for concurrent use.
type Cache struct {
	mutex   sync.RWMutex
	entries map[string]entry

	statsMutex  sync.Mutex
	hits        uint64
	durableHits uint64
	misses      uint64
	byCategory  map[string]CategoryStats

	clock          clock.Clock
	durable        ds.TTLDatastore
	durableTimeout time.Duration
	mirrors        sync.WaitGroup
}

// New creates a new result cache.
func New(options ...Option) (*Cache, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	return &Cache{
		entries:        make(map[string]entry),
		byCategory:     make(map[string]CategoryStats),
		clock:          opts.clock,
		durable:        opts.durable,
		durableTimeout: opts.durableTimeout,
	}, nil
}

// Get returns the fresh value stored under key. An absent or expired entry
// is a miss. On a memory miss, a configured durable tier is consulted and
// any fresh entry found there is promoted into memory with its remaining
// time-to-live.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mutex.RLock()
	ent, ok := c.entries[key]
	c.mutex.RUnlock()
	if ok && c.fresh(ent) {
		c.recordHit(key, ent.origin)
		return ent.value, true
	}

	if c.durable != nil {
		if value, ok := c.durableGet(ctx, key); ok {
			c.recordHit(key, tierDurable)
			return value, true
		}
	}

	c.recordMiss(key)
	return nil, false
}

// GetStale returns the value stored under key regardless of freshness. It
// exists for callers that explicitly fall back to stale data after all
// upstream providers have failed; it never counts toward hit or miss stats.
func (c *Cache) GetStale(ctx context.Context, key string) ([]byte, bool) {
	c.mutex.RLock()
	ent, ok := c.entries[key]
	c.mutex.RUnlock()
	if ok {
		return ent.value, true
	}

	if c.durable == nil {
		return nil, false
	}
	dctx, cancel := context.WithTimeout(ctx, c.durableTimeout)
	defer cancel()
	value, err := c.durable.Get(dctx, ds.NewKey(key))
	if err != nil {
		if !errors.Is(err, ds.ErrNotFound) {
			log.Debugw("Durable store unavailable for stale read", "err", err, "key", key)
		}
		return nil, false
	}
	return value, true
}

// Set stores value under key with the given time-to-live, overwriting any
// existing entry. When a durable tier is configured the write is mirrored
// there asynchronously; a durable write failure is logged and does not fail
// the set.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.mutex.Lock()
	c.entries[key] = entry{
		value:    value,
		storedAt: c.clock.Now(),
		ttl:      ttl,
		origin:   tierMemory,
	}
	c.mutex.Unlock()

	if c.durable == nil {
		return
	}
	c.mirrors.Add(1)
	go func() {
		defer c.mirrors.Done()
		// Mirror writes outlive the originating request.
		dctx, cancel := context.WithTimeout(context.Background(), c.durableTimeout)
		defer cancel()
		if err := c.durable.PutWithTTL(dctx, ds.NewKey(key), value, ttl); err != nil {
			log.Errorw("Durable store unavailable, entry kept in memory only", "err", err, "key", key)
		}
	}()
}

// Invalidate removes the entry stored under key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mutex.Lock()
	delete(c.entries, key)
	c.mutex.Unlock()

	if c.durable == nil {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, c.durableTimeout)
	defer cancel()
	if err := c.durable.Delete(dctx, ds.NewKey(key)); err != nil {
		log.Errorw("Cannot delete entry from durable store", "err", err, "key", key)
	}
}

// Clear removes all entries from both tiers and resets all counters. This
// is an operationally dangerous action and is only ever taken explicitly.
func (c *Cache) Clear(ctx context.Context) {
	c.mutex.Lock()
	c.entries = make(map[string]entry)
	c.mutex.Unlock()

	c.statsMutex.Lock()
	c.hits = 0
	c.durableHits = 0
	c.misses = 0
	c.byCategory = make(map[string]CategoryStats)
	c.statsMutex.Unlock()

	if c.durable == nil {
		return
	}
	results, err := c.durable.Query(ctx, dsq.Query{KeysOnly: true})
	if err != nil {
		log.Errorw("Cannot list durable store for clear", "err", err)
		return
	}
	defer results.Close()
	for result := range results.Next() {
		if result.Error != nil {
			log.Errorw("Cannot list durable store for clear", "err", result.Error)
			return
		}
		if err = c.durable.Delete(ctx, ds.RawKey(result.Key)); err != nil {
			log.Errorw("Cannot delete entry from durable store", "err", err, "key", result.Key)
		}
	}
}

// SweepExpired removes all expired entries from the memory tier and returns
// the number removed. It is idempotent and safe to call concurrently with
// Get and Set. Durable entries expire on their own or are removed when an
// expired entry is seen on the read path.
func (c *Cache) SweepExpired() int {
	var removed int
	c.mutex.Lock()
	for key, ent := range c.entries {
		if !c.fresh(ent) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mutex.Unlock()
	if removed != 0 {
		log.Debugw("Swept expired cache entries", "removed", removed)
	}
	return removed
}

// Stats returns current cache counters. The per-category breakdown buckets
// keys by their leading path segment.
func (c *Cache) Stats() Stats {
	c.mutex.RLock()
	entryCount := len(c.entries)
	c.mutex.RUnlock()

	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	byCategory := make(map[string]CategoryStats, len(c.byCategory))
	for category, cs := range c.byCategory {
		byCategory[category] = cs
	}
	return Stats{
		EntryCount:      entryCount,
		HitCount:        c.hits,
		DurableHitCount: c.durableHits,
		MissCount:       c.misses,
		ByCategory:      byCategory,
	}
}

// Close waits for any in-flight durable mirror writes to finish.
func (c *Cache) Close() {
	c.mirrors.Wait()
}

func (c *Cache) fresh(ent entry) bool {
	return c.clock.Now().Sub(ent.storedAt) < ent.ttl
}

// durableGet reads key from the durable tier. A fresh entry is promoted
// into memory with its remaining time-to-live; an expired one is deleted
// and treated as absent. Durable tier failure is a miss, never an error.
func (c *Cache) durableGet(ctx context.Context, key string) ([]byte, bool) {
	dctx, cancel := context.WithTimeout(ctx, c.durableTimeout)
	defer cancel()

	dsKey := ds.NewKey(key)
	expiration, err := c.durable.GetExpiration(dctx, dsKey)
	if err != nil {
		if !errors.Is(err, ds.ErrNotFound) {
			log.Debugw("Durable store unavailable, memory tier only", "err", err, "key", key)
		}
		return nil, false
	}

	remaining := expiration.Sub(c.clock.Now())
	if remaining <= 0 {
		if err = c.durable.Delete(dctx, dsKey); err != nil {
			log.Debugw("Cannot delete expired entry from durable store", "err", err, "key", key)
		}
		return nil, false
	}

	value, err := c.durable.Get(dctx, dsKey)
	if err != nil {
		if !errors.Is(err, ds.ErrNotFound) {
			log.Debugw("Durable store unavailable, memory tier only", "err", err, "key", key)
		}
		return nil, false
	}

	c.mutex.Lock()
	c.entries[key] = entry{
		value:    value,
		storedAt: c.clock.Now(),
		ttl:      remaining,
		origin:   tierDurable,
	}
	c.mutex.Unlock()
	return value, true
}

func (c *Cache) recordHit(key string, origin tier) {
	category := categoryOf(key)
	c.statsMutex.Lock()
	c.hits++
	if origin == tierDurable {
		c.durableHits++
	}
	cs := c.byCategory[category]
	cs.Hits++
	c.byCategory[category] = cs
	c.statsMutex.Unlock()
}

func (c *Cache) recordMiss(key string) {
	category := categoryOf(key)
	c.statsMutex.Lock()
	c.misses++
	cs := c.byCategory[category]
	cs.Misses++
	c.byCategory[category] = cs
	c.statsMutex.Unlock()
}

// categoryOf returns the leading path segment of a cache key.
func categoryOf(key string) string {
	if i := strings.IndexByte(key, '/'); i != -1 {
		return key[:i]
	}
	return key
}
