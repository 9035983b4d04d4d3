package bufmgr

// pagecache.go implements the sharded frame cache: a keyed map of
// page-reference to frame with clock-order eviction and an atomic
// get-and-guard path. The sharding strategy — maphash-seeded per-shard
// hashing, power-of-two shard count — pairs each map entry with its
// owning PageReference so eviction can null its swizzled page slot.

import (
	"context"
	"hash/maphash"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/kvtree/bufmgr/internal/clock"
	"github.com/kvtree/bufmgr/internal/frame"
)

// PageLoader is the external collaborator contract consumed on a cache
// miss: given a page reference, it produces a frame, allocating
// segments via the allocator itself.
type PageLoader interface {
	Load(ctx context.Context, ref *PageReference) (*frame.Frame, error)
}

// PageLoaderFunc adapts a function to PageLoader.
type PageLoaderFunc func(ctx context.Context, ref *PageReference) (*frame.Frame, error)

// Load implements PageLoader.
func (f PageLoaderFunc) Load(ctx context.Context, ref *PageReference) (*frame.Frame, error) {
	return f(ctx, ref)
}

type pageEntry struct {
	ref *PageReference
	fr  *frame.Frame
}

type pageShard struct {
	mu      sync.RWMutex
	index   map[RecordPageKey]*pageEntry
	hand    int
	evictMu sync.Mutex

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func newPageShard() *pageShard {
	return &pageShard{index: make(map[RecordPageKey]*pageEntry, 1024)}
}

/* -------------------------------------------------------------------------
   clock.Shard implementation
   ------------------------------------------------------------------------- */

func (s *pageShard) TryLockEviction() bool { return s.evictMu.TryLock() }
func (s *pageShard) UnlockEviction()       { s.evictMu.Unlock() }

func (s *pageShard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// SweepStep visits up to steps positions of the clock hand, applying the
// second-chance/guard/watermark/evict decision at each.
func (s *pageShard) SweepStep(scope clock.Scope, watermark int64, steps int) clock.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res clock.Result
	if len(s.index) == 0 {
		return res
	}

	keys := make([]RecordPageKey, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	// Visit each key at most once per call, so a small shard does not
	// wrap the hand back over keys it has already decided on.
	if steps > len(keys) {
		steps = len(keys)
	}

	for i := 0; i < steps; i++ {
		idx := s.hand % len(keys)
		s.hand++
		key := keys[idx]

		e, ok := s.index[key]
		if !ok {
			continue
		}

		if !scope.IsGlobal() && (e.ref.DatabaseID() != scope.DatabaseID || e.ref.ResourceID() != scope.ResourceID) {
			continue // out of scope, not a candidate this cycle
		}

		fr := e.fr
		switch {
		case fr.IsHot():
			fr.ClearHot()
			res.SecondChance++
		case fr.GuardCount() > 0:
			res.GuardSkips++
		case !scope.IsGlobal() && fr.Revision >= watermark:
			res.WatermarkSkips++
		default:
			e.ref.ClearPage()
			fr.Close()
			if fr.IsClosed() {
				delete(s.index, key)
				s.evictions.Add(1)
				res.Evicted++
			} else {
				// A guard raced us between the GuardCount() check above
				// and the Close() call: ownership wins, keep the mapping.
				res.OwnershipSkips++
			}
		}
	}
	return res
}

/* -------------------------------------------------------------------------
   PageCache: public surface
   ------------------------------------------------------------------------- */

// PageCache is the sharded frame cache. It backs both the record-page
// cache and the record-page-fragment cache as two independent instances
// with independent capacity/sweep schedules.
type PageCache struct {
	shards  []*pageShard
	seed    maphash.Seed
	loaders singleflight.Group
	metrics metricsSink
}

// NewPageCache constructs a PageCache with shardCount shards (must be a
// power of two).
func NewPageCache(shardCount int, metrics metricsSink) *PageCache {
	if shardCount <= 0 || (shardCount&(shardCount-1)) != 0 {
		panic("bufmgr: PageCache shard count must be a power of two")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	c := &PageCache{
		shards:  make([]*pageShard, shardCount),
		seed:    maphash.MakeSeed(),
		metrics: metrics,
	}
	for i := range c.shards {
		c.shards[i] = newPageShard()
	}
	return c
}

// Shards exposes the underlying clock.Shard set so a Sweeper can drive
// this cache (pkg/bufmgr/manager.go wires this at construction).
func (c *PageCache) Shards() []clock.Shard {
	out := make([]clock.Shard, len(c.shards))
	for i, s := range c.shards {
		out[i] = s
	}
	return out
}

func (c *PageCache) hash(key RecordPageKey) uint64 {
	var h maphash.Hash
	h.SetSeed(c.seed)
	var buf [24]byte
	putInt64(buf[0:8], key.DatabaseID)
	putInt64(buf[8:16], key.ResourceID)
	putInt64(buf[16:24], key.Key)
	h.Write(buf[:])
	return h.Sum64()
}

func putInt64(b []byte, v int64) {
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
}

func (c *PageCache) shardFor(key RecordPageKey) *pageShard {
	return c.shards[c.hash(key)&uint64(len(c.shards)-1)]
}

// Get returns the frame mapped to ref's key, marking it hot on a hit.
func (c *PageCache) Get(ref *PageReference) (*frame.Frame, bool) {
	key := ref.RecordKey()
	shard := c.shardFor(key)

	shard.mu.RLock()
	e, ok := shard.index[key]
	shard.mu.RUnlock()

	if !ok || e.fr.IsClosed() {
		shard.misses.Add(1)
		c.metrics.incMiss()
		return nil, false
	}
	e.fr.MarkAccessed()
	shard.hits.Add(1)
	c.metrics.incHit()
	return e.fr, true
}

// GetAndGuard atomically marks hot and acquires a guard on the mapped
// frame, or returns false if the slot is empty or the frame is closed.
// The shard's read lock is held across the lookup and guard acquisition
// so no sweep can interleave.
func (c *PageCache) GetAndGuard(ref *PageReference) (*frame.Guard, bool) {
	key := ref.RecordKey()
	shard := c.shardFor(key)

	shard.mu.RLock()
	e, ok := shard.index[key]
	if !ok {
		shard.mu.RUnlock()
		shard.misses.Add(1)
		c.metrics.incMiss()
		return nil, false
	}
	g, guardOK := frame.Acquire(e.fr)
	shard.mu.RUnlock()

	if !guardOK {
		shard.misses.Add(1)
		c.metrics.incMiss()
		return nil, false
	}
	e.fr.MarkAccessed()
	shard.hits.Add(1)
	c.metrics.incHit()
	return g, true
}

// Compute calls loader only on a miss; on a hit it marks the existing
// frame hot and returns it unchanged. Concurrent misses for the same key
// collapse into a single Load call via singleflight.
func (c *PageCache) Compute(ctx context.Context, ref *PageReference, loader PageLoader) (*frame.Frame, error) {
	if fr, ok := c.Get(ref); ok {
		return fr, nil
	}

	key := ref.RecordKey()
	v, err, _ := c.loaders.Do(recordKeyToken(key), func() (any, error) {
		if fr, ok := c.Get(ref); ok {
			return fr, nil
		}
		fr, err := loader.Load(ctx, ref)
		if err != nil {
			return nil, err
		}
		c.Put(ref, fr)
		return fr, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*frame.Frame), nil
}

// Put inserts or overwrites the mapping for ref and marks the frame hot.
func (c *PageCache) Put(ref *PageReference, fr *frame.Frame) {
	key := ref.RecordKey()
	shard := c.shardFor(key)

	shard.mu.Lock()
	shard.index[key] = &pageEntry{ref: ref, fr: fr}
	shard.mu.Unlock()

	fr.MarkAccessed()
	ref.SetPage(fr)
}

// PutIfAbsent inserts fr only if ref's key is not already mapped.
// Returns false if an existing mapping was left untouched.
func (c *PageCache) PutIfAbsent(ref *PageReference, fr *frame.Frame) bool {
	key := ref.RecordKey()
	shard := c.shardFor(key)

	shard.mu.Lock()
	if _, exists := shard.index[key]; exists {
		shard.mu.Unlock()
		return false
	}
	shard.index[key] = &pageEntry{ref: ref, fr: fr}
	shard.mu.Unlock()

	fr.MarkAccessed()
	ref.SetPage(fr)
	return true
}

// Remove removes the mapping for ref's key without closing the frame:
// this is an ownership transfer, typically to the intent log.
func (c *PageCache) Remove(ref *PageReference) (*frame.Frame, bool) {
	return c.RemoveKey(ref.RecordKey())
}

// RemoveKey is Remove by key, used by callers that only hold the key
// (e.g. the intent log removing a fragment descriptor).
func (c *PageCache) RemoveKey(key RecordPageKey) (*frame.Frame, bool) {
	shard := c.shardFor(key)
	shard.mu.Lock()
	e, ok := shard.index[key]
	if ok {
		delete(shard.index, key)
	}
	shard.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e.fr, true
}

// Clear removes every mapping, best-effort closing each frame. Guards
// still outstanding at this point are not released: a frame with a live
// guard vetoes its Close, so it leaves the cache still open.
func (c *PageCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		entries := shard.index
		shard.index = make(map[RecordPageKey]*pageEntry)
		shard.mu.Unlock()

		for _, e := range entries {
			e.ref.ClearPage()
			e.fr.Close()
		}
	}
}

// AsMap returns a snapshot of every (key, frame) pair currently cached,
// for the sweeper and for bulk key-scoped invalidation.
func (c *PageCache) AsMap() map[RecordPageKey]*frame.Frame {
	out := make(map[RecordPageKey]*frame.Frame)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for k, e := range shard.index {
			out[k] = e.fr
		}
		shard.mu.RUnlock()
	}
	return out
}

// Len returns the total number of cached frames across all shards.
func (c *PageCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		total += shard.Len()
	}
	return total
}

// removeAndCloseMatching scans every shard and removes+closes every entry
// for which match returns true, used by the façade's ClearForDatabase and
// ClearForResource.
func (c *PageCache) removeAndCloseMatching(match func(RecordPageKey) bool) int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for k, e := range shard.index {
			if match(k) {
				delete(shard.index, k)
				e.ref.ClearPage()
				e.fr.Close()
				n++
			}
		}
		shard.mu.Unlock()
	}
	return n
}

func recordKeyToken(k RecordPageKey) string {
	var buf [24]byte
	putInt64(buf[0:8], k.DatabaseID)
	putInt64(buf[8:16], k.ResourceID)
	putInt64(buf[16:24], k.Key)
	return string(buf[:])
}
