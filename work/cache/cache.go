package cache

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"embed-proxy/work/auth"
	"embed-proxy/work/logger"
	"embed-proxy/work/metrics"
	"embed-proxy/work/types"

	"github.com/benbjohnson/clock"
	"github.com/maypok86/otter/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// Entry is a cached upstream response body. Entries are immutable once stored;
// a later Put for the same key replaces the whole entry.
type Entry struct {
	Key         string    // absolute upstream URL that was fetched
	Payload     []byte    // full response body
	ContentType string    // upstream content-type header
	InsertedAt  time.Time // set on Put, drives expiry
}

// Stats is an observability snapshot of the cache.
type Stats struct {
	Count     int   // live entries
	Hits      int64 // Get calls answered from the cache
	Misses    int64 // Get calls that found nothing usable
	KeySize   int64 // sum of live key lengths in bytes
	ValueSize int64 // sum of live payload lengths in bytes
}

// Options configures a SegmentCache.
type Options struct {
	TTL           time.Duration // entries older than this are absent
	SweepInterval time.Duration // period of the background expiry sweep
	MaxBytes      int64         // weight ceiling for keys + payloads, 0 means no ceiling
	AdminToken    string        // secret required by Clear
	Clock         clock.Clock   // time source, clock.New() when nil
}

// SegmentCache is a time-bounded store of upstream segment, image and page bodies
// keyed by the upstream URL. It is safe for concurrent use.
//
// Behavior:
//   - Entries live for TTL from their last Put and are absent afterwards.
//   - Expired entries are dropped lazily by Get and in bulk by the periodic Sweep.
//   - Two concurrent misses for one key may both fetch and both Put; the last
//     write wins.
//   - Storage is an otter cache bounded by MaxBytes of key and payload weight.
type SegmentCache struct {
	store         *otter.Cache[string, *Entry]
	ttl           time.Duration
	sweepInterval time.Duration
	adminToken    string
	clock         clock.Clock
	hits          *xsync.Counter
	misses        *xsync.Counter

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSegmentCache creates a cache. The sweeper is not running until Start is called.
func NewSegmentCache(opts Options) (*SegmentCache, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	storeOpts := &otter.Options[string, *Entry]{}
	if opts.MaxBytes > 0 {
		storeOpts.MaximumWeight = uint64(opts.MaxBytes)
		storeOpts.Weigher = func(key string, e *Entry) uint32 {
			w := int64(len(key)) + int64(len(e.Payload))
			if w > math.MaxUint32 {
				return math.MaxUint32
			}
			return uint32(w)
		}
	}

	store, err := otter.New(storeOpts)
	if err != nil {
		return nil, err
	}

	return &SegmentCache{
		store:         store,
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		adminToken:    opts.AdminToken,
		clock:         opts.Clock,
		hits:          xsync.NewCounter(),
		misses:        xsync.NewCounter(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Put stores or replaces the entry for key and resets its age to zero.
//
// Parameters:
//   - key: absolute upstream URL, including its query string
//   - payload: full response body, not copied
//   - contentType: upstream content-type header, served back on hits
func (c *SegmentCache) Put(key string, payload []byte, contentType string) {
	c.store.Set(key, &Entry{
		Key:         key,
		Payload:     payload,
		ContentType: contentType,
		InsertedAt:  c.clock.Now(),
	})
	metrics.CacheEntries.Set(float64(c.store.EstimatedSize()))
}

// Get returns the entry for key if present and not expired.
//
// Parameters:
//   - key: absolute upstream URL the entry was stored under
//
// Returns:
//   - *Entry: the stored entry, nil on a miss
//   - bool: true when the entry is live
//
// Behavior:
//   - An entry whose age has reached the TTL is evicted on the spot and
//     reported as a miss.
//   - The eviction only removes the exact entry that was found expired; a Put
//     that lands in between is kept.
func (c *SegmentCache) Get(key string) (*Entry, bool) {
	e, ok := c.store.GetIfPresent(key)
	if ok && c.expired(e) {
		c.evict(key, e)
		ok = false
	}

	if !ok {
		c.misses.Inc()
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	c.hits.Inc()
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e, true
}

// Clear removes every entry and returns how many were removed. The token must
// match the admin secret, otherwise nothing is touched and an Unauthorized error
// is returned.
func (c *SegmentCache) Clear(token string) (int, error) {
	if !auth.TokenMatches(c.adminToken, token) {
		logger.Warn("{cache/cache - Clear} Rejected cache clear with invalid token")
		return 0, types.Unauthorized()
	}

	removed := 0
	for range c.store.All() {
		removed++
	}
	c.store.InvalidateAll()

	metrics.CacheEvictions.WithLabelValues("cleared").Add(float64(removed))
	metrics.CacheEntries.Set(0)
	logger.Info("{cache/cache - Clear} Cleared %d cache entries", removed)

	return removed, nil
}

// Stats returns a snapshot of hit/miss counters and the size of live entries.
func (c *SegmentCache) Stats() Stats {
	s := Stats{
		Hits:   c.hits.Value(),
		Misses: c.misses.Value(),
	}

	for key, e := range c.store.All() {
		if c.expired(e) {
			continue
		}
		s.Count++
		s.KeySize += int64(len(key))
		s.ValueSize += int64(len(e.Payload))
	}

	return s
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *SegmentCache) Len() int {
	return c.store.EstimatedSize()
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *SegmentCache) Sweep() int {
	// collect first, the store is not modified while iterating
	expired := make(map[string]*Entry)
	for key, e := range c.store.All() {
		if c.expired(e) {
			expired[key] = e
		}
	}

	removed := 0
	for key, e := range expired {
		if c.evict(key, e) {
			removed++
		}
	}

	if removed > 0 {
		logger.Debug("{cache/cache - Sweep} Evicted %d expired entries", removed)
	}
	metrics.CacheEntries.Set(float64(c.store.EstimatedSize()))

	return removed
}

// evict removes key only while it still holds stale. It reports whether
// stale was removed.
func (c *SegmentCache) evict(key string, stale *Entry) bool {
	removed := false
	c.store.ComputeIfPresent(key, func(current *Entry) (*Entry, otter.ComputeOp) {
		if current != stale {
			return current, otter.CancelOp
		}
		removed = true
		return nil, otter.InvalidateOp
	})

	if removed {
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
	}
	return removed
}

// Start runs the periodic expiry sweep until ctx is done or Close is called.
// Calling Start more than once has no effect.
func (c *SegmentCache) Start(ctx context.Context) {
	if c.sweepInterval <= 0 || !c.started.CompareAndSwap(false, true) {
		return
	}

	logger.Debug("{cache/cache - Start} Starting expiry sweep (ttl: %s, interval: %s)", c.ttl, c.sweepInterval)

	ticker := c.clock.Ticker(c.sweepInterval)

	go func() {
		defer close(c.done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Close stops the sweeper and drops all entries.
func (c *SegmentCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.started.Load() {
			<-c.done
		}
		c.store.InvalidateAll()
	})
}

// expired reports whether e has reached the TTL. An age of exactly the TTL is
// already expired.
func (c *SegmentCache) expired(e *Entry) bool {
	return c.ttl > 0 && c.clock.Since(e.InsertedAt) >= c.ttl
}
