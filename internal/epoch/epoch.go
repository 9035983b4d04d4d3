// Package epoch implements the epoch tracker: a cache-external object
// exposing a single monotone watermark, the minimum revision number
// still referenced by any active transaction. The sweeper
// (internal/clock) reads it once per cycle and nothing else is allowed
// to depend on its internals.
//
// © 2025 bufmgr authors. MIT License.
package epoch

import (
	"container/heap"
	"sync"
)

// Tracker is the collaborator contract consumed by the sweeper:
// MinimumActiveRevision returns the watermark.
type Tracker interface {
	MinimumActiveRevision() int64
}

// revisionHeap is a min-heap over active revision numbers with lazy
// deletion: End() marks a slot dead instead of doing an O(n) heap
// removal, and Pop()-time cleanup skips dead slots.
type revisionHeap []int64

func (h revisionHeap) Len() int            { return len(h) }
func (h revisionHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h revisionHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *revisionHeap) Push(x any)         { *h = append(*h, x.(int64)) }
func (h *revisionHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Manager is the concrete Tracker implementation. Transactions call
// Begin when they take their starting revision snapshot and End when
// they commit or abort; the watermark is the smallest revision still
// held open by any Begin without a matching End.
type Manager struct {
	mu sync.Mutex

	// live counts how many open transactions reference a given revision.
	// A revision with count 0 contributes nothing to the watermark.
	live map[int64]int

	// h holds one entry per Begin call (duplicates allowed); End merely
	// decrements live[rev] and lets the next watermark computation skip
	// entries whose live count has dropped to zero.
	h revisionHeap

	// noneActiveValue is returned when no transaction is currently open;
	// it acts as "no floor", so sweepers scoped to a particular resource
	// fall back to treating every frame as evictable.
	noneActiveValue int64
}

// NewManager constructs an empty tracker. noneActiveValue is the
// watermark reported when there are no active transactions (typically
// math.MaxInt64, so that "revision >= watermark" never blocks eviction
// when nothing is running).
func NewManager(noneActiveValue int64) *Manager {
	return &Manager{
		live:            make(map[int64]int),
		noneActiveValue: noneActiveValue,
	}
}

// Begin registers a new active transaction snapshot at revision rev.
func (m *Manager) Begin(rev int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[rev]++
	heap.Push(&m.h, rev)
}

// End retires a transaction's snapshot at revision rev.
func (m *Manager) End(rev int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.live[rev]; ok {
		if c <= 1 {
			delete(m.live, rev)
		} else {
			m.live[rev] = c - 1
		}
	}
}

// MinimumActiveRevision returns the smallest revision still referenced
// by any active transaction, or noneActiveValue if none are active.
func (m *Manager) MinimumActiveRevision() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.h.Len() > 0 {
		top := m.h[0]
		if m.live[top] > 0 {
			return top
		}
		heap.Pop(&m.h)
	}
	return m.noneActiveValue
}
