package bufmgr

// genericpagecache.go implements the generic metadata cache under a
// weight-bounded capacity policy: root/index metadata that is cheap to
// recompute but expensive to hold unboundedly, layered directly on
// Ristretto rather than the hand-rolled GenericCache, since Ristretto
// already supplies weight-bounded capacity, a per-entry weigher, a
// synchronous removal listener, and Wait() as clean_up.

import (
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/kvtree/bufmgr/internal/frame"
)

// GenericPageKey identifies an entry in the generic page cache: unlike
// RecordPageKey this tier is not restricted to one resource's leaf pages,
// so revision is part of identity.
type GenericPageKey struct {
	DatabaseID int64
	ResourceID int64
	Revision   int64
	Key        int64
}

// GenericPageCache holds root and index metadata values, explicitly
// rejecting page-frame-typed values: frames belong to the record/fragment
// page caches, which know how to return their segments to the allocator
// on eviction.
//
// Ristretto exposes no key enumeration of its own (its internal sketches
// are keyed by hash, not by the original key), so scoped invalidation
// (AsMap, Clear) needs a side-table of live keys. keys is best-effort:
// entries Ristretto drops on its own via weight-bound eviction are only
// untracked lazily, the next time AsMap notices a Get miss for them.
type GenericPageCache struct {
	cache *ristretto.Cache[GenericPageKey, any]

	mu   sync.Mutex
	keys map[GenericPageKey]struct{}
}

// NewGenericPageCache constructs a GenericPageCache weight-bounded at
// maxCost (e.g. total bytes of retained metadata).
func NewGenericPageCache(maxCost int64) (*GenericPageCache, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[GenericPageKey, any]{
		NumCounters: maxCost / 8 * 10, // Ristretto's own sizing heuristic: ~10x expected entries.
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &GenericPageCache{cache: rc, keys: make(map[GenericPageKey]struct{})}, nil
}

// Get returns the cached value for key.
func (c *GenericPageCache) Get(key GenericPageKey) (any, bool) {
	return c.cache.Get(key)
}

// Put inserts value under key with the given cost (the per-entry
// weigher). Returns ErrFrameValueRejected if value is a page frame.
func (c *GenericPageCache) Put(key GenericPageKey, value any, cost int64) error {
	if _, isFrame := value.(*frame.Frame); isFrame {
		return ErrFrameValueRejected
	}
	c.cache.Set(key, value, cost)
	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Remove evicts key synchronously.
func (c *GenericPageCache) Remove(key GenericPageKey) {
	c.cache.Del(key)
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
}

// AsMap returns a snapshot of every (key, value) pair believed live, for
// the façade's scoped invalidation. Keys whose value has since been
// weight-evicted by Ristretto are dropped from the side-table as they're
// noticed.
func (c *GenericPageCache) AsMap() map[GenericPageKey]any {
	c.mu.Lock()
	tracked := make([]GenericPageKey, 0, len(c.keys))
	for k := range c.keys {
		tracked = append(tracked, k)
	}
	c.mu.Unlock()

	out := make(map[GenericPageKey]any, len(tracked))
	var stale []GenericPageKey
	for _, k := range tracked {
		if v, ok := c.cache.Get(k); ok {
			out[k] = v
		} else {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 {
		c.mu.Lock()
		for _, k := range stale {
			delete(c.keys, k)
		}
		c.mu.Unlock()
	}
	return out
}

// Clear empties the cache and its key-tracking side-table.
func (c *GenericPageCache) Clear() {
	c.cache.Clear()
	c.mu.Lock()
	c.keys = make(map[GenericPageKey]struct{})
	c.mu.Unlock()
}

// CleanUp blocks until every pending Set/Del has been applied, Ristretto's
// equivalent of Caffeine's clean_up.
func (c *GenericPageCache) CleanUp() {
	c.cache.Wait()
}

// Close releases the cache's background goroutines.
func (c *GenericPageCache) Close() {
	c.cache.Close()
}
