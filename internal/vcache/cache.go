// Package vcache is the bounded, TTL-expiring store for generated wrapper
// payloads, keyed by (publisher, attribute tuple). It is the only state
// shared across concurrently handled requests in the serving path.
package vcache

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/detect"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/observability"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
	DefaultMaxEntries    = 1000

	// noneSentinel stands in for absent attribute fields so keys stay
	// finite and collision-free over the detector's output space.
	noneSentinel = "none"
)

type entry struct {
	payload    []byte
	insertedAt time.Time
	expiresAt  time.Time
}

type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxEntries    int
}

// Cache is an explicitly constructed instance, not a process-wide global:
// tests get isolated caches and shutdown can stop the sweeper
// deterministically.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	ttl        time.Duration
	sweepEvery time.Duration
	maxEntries int

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started bool
}

func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[string]entry),
		ttl:        opts.TTL,
		sweepEvery: opts.SweepInterval,
		maxEntries: opts.MaxEntries,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Key builds the deterministic cache key for a publisher and attribute tuple.
func Key(publisherID int64, a detect.Attributes) string {
	fields := [4]string{a.Geo, string(a.Device), a.Browser, a.OS}
	for i, f := range fields {
		if f == "" {
			fields[i] = noneSentinel
		}
	}
	return strconv.FormatInt(publisherID, 10) + ":" + strings.Join(fields[:], ":")
}

// Get returns the cached payload if present and fresh. A stale entry is a
// miss; it stays in place for the sweeper rather than being deleted under a
// read lock.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		observability.CacheMisses.Inc()
		return nil, false
	}
	observability.CacheHits.Inc()
	return e.payload, true
}

// Put inserts or overwrites the payload for key. Concurrent puts for the same
// not-yet-cached key are allowed to race; generation is deterministic so the
// last write is as good as the first.
func (c *Cache) Put(key string, payload []byte) {
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = entry{payload: payload, insertedAt: now, expiresAt: now.Add(c.ttl)}
	size := len(c.entries)
	c.mu.Unlock()
	observability.CacheEntries.Set(float64(size))
}

// InvalidatePublisher removes every entry for the publisher, regardless of
// TTL. Called on any config or rule mutation for that publisher.
func (c *Cache) InvalidatePublisher(publisherID int64) int {
	prefix := strconv.FormatInt(publisherID, 10) + ":"

	c.mu.Lock()
	removed := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	observability.CacheEntries.Set(float64(size))
	if removed > 0 {
		log.Debug().Int64("publisher_id", publisherID).Int("removed", removed).Msg("cache invalidated")
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Start launches the background sweeper. Stop it with Stop; Start must be
// called at most once.
func (c *Cache) Start() {
	c.started = true
	go func() {
		defer close(c.done)
		t := time.NewTicker(c.sweepEvery)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C:
				c.safeSweep(time.Now())
			}
		}
	}()
}

// Stop halts the sweeper and waits for it to exit. Safe to call more than
// once, and a no-op if the sweeper was never started.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.stop) })
	if c.started {
		<-c.done
	}
}

// safeSweep isolates sweep faults: a panic in maintenance degrades to
// "no sweep this cycle", never to a crashed server.
func (c *Cache) safeSweep(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("cache sweep panicked")
		}
	}()
	c.Sweep(now)
}

// Sweep removes expired entries, then evicts oldest-inserted entries until
// the cache is back under its size limit. Eviction order is by insertion
// time, an approximation of LRU that is good enough under a short TTL.
func (c *Cache) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}

	if over := len(c.entries) - c.maxEntries; over > 0 {
		type aged struct {
			key string
			at  time.Time
		}
		all := make([]aged, 0, len(c.entries))
		for k, e := range c.entries {
			all = append(all, aged{key: k, at: e.insertedAt})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
		for i := 0; i < over; i++ {
			delete(c.entries, all[i].key)
			removed++
		}
	}

	observability.CacheEvictions.Add(float64(removed))
	observability.CacheEntries.Set(float64(len(c.entries)))
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("size", len(c.entries)).Msg("cache sweep")
	}
}
