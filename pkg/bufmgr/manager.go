package bufmgr

// manager.go implements the buffer manager façade: bundles the seven
// caches behind one handle, wires the clock sweeper against the record
// and fragment page caches, and offers key-scoped and global
// invalidation.

import (
	"context"

	"github.com/kvtree/bufmgr/internal/clock"
	"github.com/kvtree/bufmgr/internal/epoch"
	"github.com/kvtree/bufmgr/internal/segment"
)

// BufferManager bundles the allocator and all seven caches behind typed
// accessors.
type BufferManager struct {
	allocator *segment.Allocator
	epoch     *epoch.Manager

	recordPages   *PageCache
	fragmentPages *PageCache
	genericPages  *GenericPageCache

	revisionRoots *RevisionRootCache
	indexNodes    *IndexNodeCache
	names         *NamesCache
	pathSummaries *PathSummaryCache

	recordSweeper   *clock.Sweeper
	fragmentSweeper *clock.Sweeper

	cfg *config
}

// New constructs a BufferManager: reserves the allocator's segment
// ladder, wires the seven caches, and builds (without starting) the
// per-shard sweepers for the record and fragment page caches; see
// StartSweepers.
func New(opts ...Option) (*BufferManager, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	var metrics metricsSink = noopMetrics{}
	var sweepMetrics clock.MetricsSink
	if cfg.registry != nil {
		pm := NewPrometheusMetrics("bufmgr", cfg.registry)
		metrics = pm
		sweepMetrics = pm
	}

	alloc := segment.New(segment.WithLogger(cfg.logger))
	if err := alloc.Init(cfg.physicalBudget); err != nil {
		return nil, err
	}

	genericPages, err := NewGenericPageCache(cfg.genericPageMaxCost)
	if err != nil {
		_ = alloc.Free()
		return nil, err
	}

	m := &BufferManager{
		allocator:     alloc,
		epoch:         epoch.NewManager(epochNoneActive),
		recordPages:   NewPageCache(cfg.pageShards, metrics),
		fragmentPages: NewPageCache(cfg.pageShards, metrics),
		genericPages:  genericPages,
		revisionRoots: NewRevisionRootCache(cfg.revisionRootCapacity),
		indexNodes:    NewIndexNodeCache(cfg.indexNodeCapacity),
		names:         NewNamesCache(cfg.namesCapacity),
		pathSummaries: NewPathSummaryCache(cfg.pathSummaryCapacity),
		cfg:           cfg,
	}

	recordOpts := []clock.Option{clock.WithLogger(cfg.logger)}
	fragmentOpts := []clock.Option{clock.WithLogger(cfg.logger)}
	if sweepMetrics != nil {
		recordOpts = append(recordOpts, clock.WithMetrics(sweepMetrics))
		fragmentOpts = append(fragmentOpts, clock.WithMetrics(sweepMetrics))
	}
	m.recordSweeper = clock.New(m.recordPages.Shards(), m.epoch, cfg.sweepInterval, recordOpts...)
	m.fragmentSweeper = clock.New(m.fragmentPages.Shards(), m.epoch, cfg.sweepInterval, fragmentOpts...)

	return m, nil
}

// epochNoneActive is the sentinel MinimumActiveRevision value when no
// transaction is currently open: effectively "infinite", so the sweeper
// never treats any revision as protected by the watermark alone.
const epochNoneActive = int64(1<<63 - 1)

// StartSweepers launches the background eviction workers for the record
// and fragment page caches. Callers that only want to exercise the caches
// synchronously (e.g. most tests) may skip calling this.
func (m *BufferManager) StartSweepers(ctx context.Context) {
	m.recordSweeper.Start(ctx)
	m.fragmentSweeper.Start(ctx)
}

// Allocator exposes the segment allocator for collaborators that need to
// allocate segments directly (e.g. a PageLoader implementation).
func (m *BufferManager) Allocator() *segment.Allocator { return m.allocator }

// EpochTracker exposes the manager's revision tracker so transactions can
// register their active revision.
func (m *BufferManager) EpochTracker() *epoch.Manager { return m.epoch }

// RecordPages returns the record-page cache.
func (m *BufferManager) RecordPages() *PageCache { return m.recordPages }

// FragmentPages returns the record-page-fragment cache.
func (m *BufferManager) FragmentPages() *PageCache { return m.fragmentPages }

// GenericPages returns the generic (root/index metadata) page cache.
func (m *BufferManager) GenericPages() *GenericPageCache { return m.genericPages }

// RevisionRoots returns the revision-root cache.
func (m *BufferManager) RevisionRoots() *RevisionRootCache { return m.revisionRoots }

// IndexNodes returns the red-black index-node cache.
func (m *BufferManager) IndexNodes() *IndexNodeCache { return m.indexNodes }

// Names returns the names cache.
func (m *BufferManager) Names() *NamesCache { return m.names }

// PathSummaries returns the path-summary cache.
func (m *BufferManager) PathSummaries() *PathSummaryCache { return m.pathSummaries }

// NewIntentLog constructs a fresh per-transaction intent log bound to
// this manager's caches.
func (m *BufferManager) NewIntentLog() *TransactionIntentLog {
	return newTransactionIntentLog(m)
}

// drainAllCaches force-drains every cache's deferred maintenance queue;
// used by TransactionIntentLog before closing frames and by Close
// before shutdown.
func (m *BufferManager) drainAllCaches() {
	m.genericPages.CleanUp()
	m.revisionRoots.CleanUp()
	m.indexNodes.CleanUp()
	m.names.CleanUp()
	m.pathSummaries.CleanUp()
}

// ClearForDatabase removes and closes every frame belonging to databaseID
// across every cache, and removes matching entries from the metadata
// tiers.
func (m *BufferManager) ClearForDatabase(databaseID int64) {
	match := func(k RecordPageKey) bool { return k.DatabaseID == databaseID }
	m.recordPages.removeAndCloseMatching(match)
	m.fragmentPages.removeAndCloseMatching(match)
	m.clearMetadataForDatabase(databaseID)
}

// ClearForResource removes and closes every frame belonging to the
// (databaseID, resourceID) pair, across every cache.
func (m *BufferManager) ClearForResource(databaseID, resourceID int64) {
	match := func(k RecordPageKey) bool {
		return k.DatabaseID == databaseID && k.ResourceID == resourceID
	}
	m.recordPages.removeAndCloseMatching(match)
	m.fragmentPages.removeAndCloseMatching(match)
	m.clearMetadataForResource(databaseID, resourceID)
}

func (m *BufferManager) clearMetadataForDatabase(databaseID int64) {
	for k := range m.genericPages.AsMap() {
		if k.DatabaseID == databaseID {
			m.genericPages.Remove(k)
		}
	}
	for k := range m.revisionRoots.AsMap() {
		if k.DatabaseID == databaseID {
			m.revisionRoots.Remove(k)
		}
	}
	for k := range m.indexNodes.AsMap() {
		if k.DatabaseID == databaseID {
			m.indexNodes.Remove(k)
		}
	}
	for k := range m.names.AsMap() {
		if k.DatabaseID == databaseID {
			m.names.Remove(k)
		}
	}
	for k := range m.pathSummaries.AsMap() {
		if k.DatabaseID == databaseID {
			m.pathSummaries.Remove(k)
		}
	}
}

func (m *BufferManager) clearMetadataForResource(databaseID, resourceID int64) {
	for k := range m.genericPages.AsMap() {
		if k.DatabaseID == databaseID && k.ResourceID == resourceID {
			m.genericPages.Remove(k)
		}
	}
	for k := range m.revisionRoots.AsMap() {
		if k.DatabaseID == databaseID && k.ResourceID == resourceID {
			m.revisionRoots.Remove(k)
		}
	}
	for k := range m.indexNodes.AsMap() {
		if k.DatabaseID == databaseID && k.ResourceID == resourceID {
			m.indexNodes.Remove(k)
		}
	}
	for k := range m.names.AsMap() {
		if k.DatabaseID == databaseID && k.ResourceID == resourceID {
			m.names.Remove(k)
		}
	}
	for k := range m.pathSummaries.AsMap() {
		if k.DatabaseID == databaseID && k.ResourceID == resourceID {
			m.pathSummaries.Remove(k)
		}
	}
}

// ClearAll empties every cache without closing the allocator, used at
// shutdown before Close.
func (m *BufferManager) ClearAll() {
	m.recordPages.Clear()
	m.fragmentPages.Clear()
	m.genericPages.Clear()
	m.revisionRoots.Clear()
	m.indexNodes.Clear()
	m.names.Clear()
	m.pathSummaries.Clear()
}

// Close stops the sweepers, empties every cache, closing each remaining
// frame that has no live guard, and finally frees the allocator.
// Outstanding guards are not released: a frame still guarded here stays
// open after it leaves its cache.
func (m *BufferManager) Close() error {
	_ = m.recordSweeper.Stop()
	_ = m.fragmentSweeper.Stop()

	m.drainAllCaches()
	m.ClearAll()
	m.genericPages.Close()
	m.revisionRoots.Close()
	m.indexNodes.Close()
	m.names.Close()
	m.pathSummaries.Close()

	return m.allocator.Free()
}
