package segment

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// defaultSegmentsPerClass sizes each class's reserved virtual region.
// Physical memory is not committed until a segment is first written to,
// so reserving generously costs only address space.
const defaultSegmentsPerClass = 4096

// Allocator is the process-wide segment allocator: an explicitly
// constructed, explicitly destroyed service, not a package-level
// singleton.
type Allocator struct {
	log *zap.Logger

	budget    int64
	physBytes atomic.Int64

	regions [numClasses]*region
	deques  [numClasses]*freeDeque

	// borrowed is the correctness-critical shared state: every segment
	// handed out by Allocate lives here until Release
	// atomically removes it. Double releases are detected against this
	// set and silently absorbed.
	mu       sync.Mutex
	borrowed map[uintptr]*Segment

	driftCount atomic.Uint64

	segmentsPerClass int
	closed           atomic.Bool
}

// Option configures an Allocator at construction time.
type Option func(*Allocator)

// WithLogger plugs an external zap.Logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithSegmentsPerClass overrides how many segments each ladder rung's
// virtual region is pre-partitioned into. Mostly useful for tests that
// want a tiny footprint.
func WithSegmentsPerClass(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.segmentsPerClass = n
		}
	}
}

// New constructs an Allocator. Init must still be called before Allocate.
func New(opts ...Option) *Allocator {
	a := &Allocator{
		log:              zap.NewNop(),
		segmentsPerClass: defaultSegmentsPerClass,
		borrowed:         make(map[uintptr]*Segment),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Init reserves one virtual region per size class and sets the physical
// memory budget. It must be called exactly once before any Allocate call.
func (a *Allocator) Init(maxPhysicalBytes int64) error {
	a.budget = maxPhysicalBytes
	for c := Class(0); c < numClasses; c++ {
		r, fd, err := newRegion(c, a.segmentsPerClass)
		if err != nil {
			a.rollbackRegions(c)
			return err
		}
		a.regions[c] = r
		a.deques[c] = fd
	}
	return nil
}

func (a *Allocator) rollbackRegions(upTo Class) {
	for c := Class(0); c < upTo; c++ {
		if a.regions[c] != nil {
			_ = a.regions[c].release()
		}
	}
}

// Allocate rounds size up to the smallest ladder rung ≥ size, pops a
// segment from that rung's free deque, and charges its actual ladder
// size against the physical-bytes budget.
func (a *Allocator) Allocate(size int64) (*Segment, error) {
	class, err := ClassFor(size)
	if err != nil {
		return nil, err
	}
	ladderSize := Ladder[class]

	for {
		cur := a.physBytes.Load()
		next := cur + ladderSize
		if a.budget > 0 && next > a.budget {
			return nil, ErrOutOfMemory
		}
		if a.physBytes.CompareAndSwap(cur, next) {
			break
		}
	}

	seg := a.deques[class].pop()
	if seg == nil {
		// Exhausted the pre-partitioned region for this class: undo the
		// charge and surface OOM rather than growing unboundedly.
		a.physBytes.Add(-ladderSize)
		return nil, ErrOutOfMemory
	}

	a.mu.Lock()
	a.borrowed[seg.addr()] = seg
	a.mu.Unlock()

	return seg, nil
}

// Release returns a segment to its size class's free deque after issuing
// "don't need" advice on its backing pages. Release never throws:
// double releases are absorbed and counted, and a failed
// advice call leaves the segment marked borrowed (so it is not handed out
// again while still possibly resident).
func (a *Allocator) Release(seg *Segment) {
	if seg == nil {
		return
	}
	addr := seg.addr()

	a.mu.Lock()
	_, ok := a.borrowed[addr]
	if ok {
		delete(a.borrowed, addr)
	}
	a.mu.Unlock()

	if !ok {
		// Double release: clamp and log, never propagate.
		a.driftCount.Add(1)
		a.log.Warn("segment: double release detected", zap.Uintptr("addr", addr))
		return
	}

	if err := adviseDontNeed(seg.data); err != nil {
		// Advice failed: the segment may still hold physical pages. Put it
		// back into borrowed so a future Release can retry and we never
		// hand it out from the free deque while its state is unknown.
		a.mu.Lock()
		a.borrowed[addr] = seg
		a.mu.Unlock()
		a.log.Warn("segment: madvise failed, segment re-tracked as borrowed", zap.Error(err))
		return
	}

	a.chargeDown(seg.Size())
	a.deques[seg.class].push(seg)
}

// Reset issues "don't need" advice on the segment without touching the
// free deque or the physical-bytes accounting: the segment keeps its
// virtual mapping and its owner (unlike Release, it stays borrowed).
func (a *Allocator) Reset(seg *Segment) error {
	if seg == nil {
		return nil
	}
	return adviseDontNeed(seg.data)
}

func (a *Allocator) chargeDown(n int64) {
	for {
		cur := a.physBytes.Load()
		next := cur - n
		if next < 0 {
			// Accounting drift: clamp to zero, count, and log rather than
			// propagate.
			a.driftCount.Add(1)
			a.log.Warn("segment: physical-bytes counter underflow clamped to zero")
			next = 0
		}
		if a.physBytes.CompareAndSwap(cur, next) {
			return
		}
	}
}

// PhysicalBytes returns the current physical-bytes counter.
func (a *Allocator) PhysicalBytes() int64 { return a.physBytes.Load() }

// DriftCount returns the number of accounting-drift events absorbed so far
// (double releases, counter underflow attempts).
func (a *Allocator) DriftCount() uint64 { return a.driftCount.Load() }

// BorrowedCount returns the number of segments currently checked out.
func (a *Allocator) BorrowedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.borrowed)
}

// Free releases every reserved virtual region back to the OS. Callers
// must ensure all segments have already been Released; any still-borrowed
// segment is logged as a leak but does not block shutdown.
func (a *Allocator) Free() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.mu.Lock()
	leaked := len(a.borrowed)
	a.mu.Unlock()
	if leaked > 0 {
		a.log.Warn("segment: allocator freed with leaked segments", zap.Int("leaked", leaked))
	}

	var firstErr error
	for c := Class(0); c < numClasses; c++ {
		if a.regions[c] == nil {
			continue
		}
		if err := a.regions[c].release(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.regions[c] = nil
	}
	return firstErr
}
