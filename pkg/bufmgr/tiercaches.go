package bufmgr

// tiercaches.go implements the four remaining composite-keyed caches
// (revision-root, index-node, names, path-summary) as typed wrappers
// around GenericCache. Each wrapper exists purely to give
// collaborators a typed accessor without reaching into a raw
// GenericCache[K, any]; the eviction/promotion mechanics live entirely in
// genericcache.go.

import (
	"sync"

	"github.com/kvtree/bufmgr/internal/rbtree"
)

/* -------------------------------------------------------------------------
   Revision-root cache
   ------------------------------------------------------------------------- */

// RevisionRootKey identifies one database/resource's root record at a
// specific revision.
type RevisionRootKey struct {
	DatabaseID int64
	ResourceID int64
	Revision   int64
}

// Unswizzler clears the page slot of every nested reference transitively
// reachable from a revision-root record before it is cached, so that a
// cached root never transitively pins frames belonging to the frame
// caches.
type Unswizzler interface {
	UnswizzleNestedReferences()
}

// RevisionRootCache caches revision-root records, unswizzling on insert.
type RevisionRootCache struct {
	inner *GenericCache[RevisionRootKey, Unswizzler]
}

// NewRevisionRootCache constructs a RevisionRootCache bounded at capacity
// entries.
func NewRevisionRootCache(capacity int) *RevisionRootCache {
	return &RevisionRootCache{inner: NewGenericCache[RevisionRootKey, Unswizzler](capacity, nil)}
}

// Put unswizzles value's nested page references, then inserts it.
func (c *RevisionRootCache) Put(key RevisionRootKey, value Unswizzler) {
	value.UnswizzleNestedReferences()
	c.inner.Put(key, value)
}

// Get returns the cached revision-root for key.
func (c *RevisionRootCache) Get(key RevisionRootKey) (Unswizzler, bool) { return c.inner.Get(key) }

// Remove deletes key's mapping.
func (c *RevisionRootCache) Remove(key RevisionRootKey) { c.inner.Remove(key) }

// Clear empties the cache.
func (c *RevisionRootCache) Clear() { c.inner.Clear() }

// AsMap returns a snapshot of the cache's contents.
func (c *RevisionRootCache) AsMap() map[RevisionRootKey]Unswizzler { return c.inner.AsMap() }

// CleanUp force-drains deferred maintenance.
func (c *RevisionRootCache) CleanUp() { c.inner.CleanUp() }

// Close stops the cache's maintenance worker.
func (c *RevisionRootCache) Close() { c.inner.Close() }

/* -------------------------------------------------------------------------
   Index-node cache (red-black)
   ------------------------------------------------------------------------- */

// IndexTreeScope identifies one (database, resource, revision, index
// kind, index number) red-black tree: the unit a removal hook must
// unlink within.
type IndexTreeScope struct {
	DatabaseID int64
	ResourceID int64
	Revision   int64
	IndexKind  uint8
	IndexNum   int64
}

// IndexNodeKey identifies one node within one IndexTreeScope.
type IndexNodeKey struct {
	IndexTreeScope
	NodeKey int64
}

// IndexNodeCache caches index nodes and, on eviction, unlinks the node
// from its owning red-black tree's parent child slot. Each
// IndexTreeScope owns exactly one *rbtree.Tree; nodes are ordered by
// NodeKey within their scope.
type IndexNodeCache struct {
	inner *GenericCache[IndexNodeKey, any]

	treesMu sync.Mutex
	trees   map[IndexTreeScope]*rbtree.Tree[int64, *rbtree.Node[int64, any]]
}

// NewIndexNodeCache constructs an IndexNodeCache bounded at capacity
// entries across all scopes.
func NewIndexNodeCache(capacity int) *IndexNodeCache {
	c := &IndexNodeCache{
		trees: make(map[IndexTreeScope]*rbtree.Tree[int64, *rbtree.Node[int64, any]]),
	}
	c.inner = NewGenericCache[IndexNodeKey, any](capacity, c.onRemoved)
	return c
}

func lessInt64(a, b int64) bool { return a < b }

func (c *IndexNodeCache) treeFor(scope IndexTreeScope) *rbtree.Tree[int64, *rbtree.Node[int64, any]] {
	c.treesMu.Lock()
	defer c.treesMu.Unlock()
	t, ok := c.trees[scope]
	if !ok {
		t = rbtree.New[int64, *rbtree.Node[int64, any]](lessInt64)
		c.trees[scope] = t
	}
	return t
}

// onRemoved is the GenericCache removal hook: it unlinks the node from
// its scope's red-black tree so the tree's shape stays consistent with
// the cache's contents.
func (c *IndexNodeCache) onRemoved(key IndexNodeKey, value any, cause RemovalCause) {
	if cause == RemovalCauseReplaced {
		return // key is still cached with its new value; keep its node
	}
	c.treesMu.Lock()
	defer c.treesMu.Unlock()
	t, ok := c.trees[key.IndexTreeScope]
	if !ok {
		return
	}
	if n, found := t.Find(key.NodeKey); found {
		t.Delete(n)
	}
	if t.Len() == 0 {
		delete(c.trees, key.IndexTreeScope)
	}
}

// Put inserts value at key, threading it into its scope's red-black tree.
func (c *IndexNodeCache) Put(key IndexNodeKey, value any) {
	t := c.treeFor(key.IndexTreeScope)
	c.treesMu.Lock()
	t.Upsert(key.NodeKey, nil)
	c.treesMu.Unlock()
	c.inner.Put(key, value)
}

// Get returns the cached value for key.
func (c *IndexNodeCache) Get(key IndexNodeKey) (any, bool) { return c.inner.Get(key) }

// Remove deletes key's mapping, invoking the removal hook.
func (c *IndexNodeCache) Remove(key IndexNodeKey) { c.inner.Remove(key) }

// Clear empties the cache and every scope's tree.
func (c *IndexNodeCache) Clear() {
	c.inner.Clear()
	c.treesMu.Lock()
	c.trees = make(map[IndexTreeScope]*rbtree.Tree[int64, *rbtree.Node[int64, any]])
	c.treesMu.Unlock()
}

// AsMap returns a snapshot of the cache's contents.
func (c *IndexNodeCache) AsMap() map[IndexNodeKey]any { return c.inner.AsMap() }

// CleanUp force-drains deferred maintenance.
func (c *IndexNodeCache) CleanUp() { c.inner.CleanUp() }

// Close stops the cache's maintenance worker.
func (c *IndexNodeCache) Close() { c.inner.Close() }

/* -------------------------------------------------------------------------
   Names cache
   ------------------------------------------------------------------------- */

// NamesKey identifies a name table for one revision's index number.
type NamesKey struct {
	DatabaseID int64
	ResourceID int64
	Revision   int64
	IndexNum   int64
}

// NamesCache caches name tables.
type NamesCache struct {
	inner *GenericCache[NamesKey, any]
}

// NewNamesCache constructs a NamesCache bounded at capacity entries.
func NewNamesCache(capacity int) *NamesCache {
	return &NamesCache{inner: NewGenericCache[NamesKey, any](capacity, nil)}
}

// Get returns the cached name table for key.
func (c *NamesCache) Get(key NamesKey) (any, bool) { return c.inner.Get(key) }

// Put inserts value under key.
func (c *NamesCache) Put(key NamesKey, value any) { c.inner.Put(key, value) }

// Remove deletes key's mapping.
func (c *NamesCache) Remove(key NamesKey) { c.inner.Remove(key) }

// Clear empties the cache.
func (c *NamesCache) Clear() { c.inner.Clear() }

// AsMap returns a snapshot of the cache's contents.
func (c *NamesCache) AsMap() map[NamesKey]any { return c.inner.AsMap() }

// CleanUp force-drains deferred maintenance.
func (c *NamesCache) CleanUp() { c.inner.CleanUp() }

// Close stops the cache's maintenance worker.
func (c *NamesCache) Close() { c.inner.Close() }

/* -------------------------------------------------------------------------
   Path-summary cache
   ------------------------------------------------------------------------- */

// PathSummaryKey identifies a path-summary record by its path-node key.
type PathSummaryKey struct {
	DatabaseID  int64
	ResourceID  int64
	PathNodeKey int64
}

// PathSummaryCache caches path-summary records.
type PathSummaryCache struct {
	inner *GenericCache[PathSummaryKey, any]
}

// NewPathSummaryCache constructs a PathSummaryCache bounded at capacity
// entries.
func NewPathSummaryCache(capacity int) *PathSummaryCache {
	return &PathSummaryCache{inner: NewGenericCache[PathSummaryKey, any](capacity, nil)}
}

// Get returns the cached path-summary record for key.
func (c *PathSummaryCache) Get(key PathSummaryKey) (any, bool) { return c.inner.Get(key) }

// Put inserts value under key.
func (c *PathSummaryCache) Put(key PathSummaryKey, value any) { c.inner.Put(key, value) }

// Remove deletes key's mapping.
func (c *PathSummaryCache) Remove(key PathSummaryKey) { c.inner.Remove(key) }

// Clear empties the cache.
func (c *PathSummaryCache) Clear() { c.inner.Clear() }

// AsMap returns a snapshot of the cache's contents.
func (c *PathSummaryCache) AsMap() map[PathSummaryKey]any { return c.inner.AsMap() }

// CleanUp force-drains deferred maintenance.
func (c *PathSummaryCache) CleanUp() { c.inner.CleanUp() }

// Close stops the cache's maintenance worker.
func (c *PathSummaryCache) Close() { c.inner.Close() }
