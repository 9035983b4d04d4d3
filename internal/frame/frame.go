// Package frame implements the page frame and its scoped guard: a
// versioned, reference-counted handle around one or two memory segments
// that transactions borrow through optimistic guards instead of locks.
//
// Frames get their own package, separate from the caches that store
// them, because their lifecycle is rich enough to deserve isolation:
// guard counts, a HOT bit, a closed terminal state, and version-based
// reuse detection.
//
// © 2025 bufmgr authors. MIT License.
package frame

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kvtree/bufmgr/internal/segment"
)

// ErrClosed names the closed-frame condition. No Frame method returns
// it: on a closed frame SlotBytes/DeweyBytes return nil, Acquire reports
// false and AcquireGuard panics.
var ErrClosed = errors.New("frame: closed")

// ErrFrameReused is returned by Guard.Release when the frame's version
// changed between acquisition and release: the caller observed stale
// data and must retry its lookup.
var ErrFrameReused = errors.New("frame: reused, retry lookup")

// IndexKind discriminates which tier a frame's page belongs to. The
// buffer manager treats this as an opaque tag; interpretation is left to
// external collaborators.
type IndexKind uint8

const (
	IndexKindDocument IndexKind = iota
	IndexKindPathSummary
	IndexKindCAS
	IndexKindPath
	IndexKindName
)

// RecordSerializer writes a record into a frame's slot memory using the
// fixed-slot projector. It is an external collaborator contract: the
// buffer manager never interprets the bytes it protects.
type RecordSerializer interface {
	Serialize(slot []byte, record any) error
}

// Frame is the value type of the record-page caches, modeling a
// key-value leaf page. All cross-thread-observable state transitions
// (version, guard count, hot flag, closed) are atomic with
// acquire-release ordering.
type Frame struct {
	// segments: slot area is always present; the Dewey-ID area is optional
	// and nil when unused.
	slotSeg   *segment.Segment
	deweySeg  *segment.Segment
	allocator *segment.Allocator

	version    atomic.Uint64
	guardCount atomic.Int32
	hot        atomic.Bool
	closed     atomic.Bool

	closeMu sync.Mutex

	// Metadata, immutable after construction except Revision which a
	// transaction may bump in place before the frame is logged.
	PageKey      int64
	Revision     int64
	IndexKind    IndexKind
	DatabaseID   int64
	ResourceID   int64
	Serializer   RecordSerializer
	RecordRefs   map[int64]any

	// Fixed-slot byte layout indices.
	LastUsedSlotIndex    int32
	LastUsedDeweyIDIndex int32
}

// New constructs a frame over already-allocated segments. The frame takes
// ownership of both segments: closing the frame returns them to alloc.
func New(alloc *segment.Allocator, slotSeg, deweySeg *segment.Segment) *Frame {
	f := &Frame{
		allocator: alloc,
		slotSeg:   slotSeg,
		deweySeg:  deweySeg,
		RecordRefs: make(map[int64]any),
	}
	return f
}

// SlotBytes exposes the slot segment's backing memory for the
// projector/materializer. Returns nil if the frame is closed.
func (f *Frame) SlotBytes() []byte {
	if f.closed.Load() {
		return nil
	}
	return f.slotSeg.Bytes()
}

// DeweyBytes exposes the optional Dewey-ID segment's backing memory, or
// nil if this frame has none or is closed.
func (f *Frame) DeweyBytes() []byte {
	if f.closed.Load() || f.deweySeg == nil {
		return nil
	}
	return f.deweySeg.Bytes()
}

// Version returns the current recycle-generation counter. Every eviction
// (frame-recycle event) increments it exactly once.
func (f *Frame) Version() uint64 { return f.version.Load() }

// IsClosed reports whether Close has taken effect (guard count was zero
// at the time it ran).
func (f *Frame) IsClosed() bool { return f.closed.Load() }

// IsHot reports the current HOT bit. Used by the sweeper only.
func (f *Frame) IsHot() bool { return f.hot.Load() }

// MarkAccessed sets the HOT bit. Idempotent; called on every cache hit.
func (f *Frame) MarkAccessed() { f.hot.Store(true) }

// ClearHot clears the HOT bit. Used by the sweeper's second-chance pass.
func (f *Frame) ClearHot() { f.hot.Store(false) }

// GuardCount returns the current number of live guards. Used by the
// sweeper only.
func (f *Frame) GuardCount() int32 { return f.guardCount.Load() }

// AcquireGuard increments the guard count. Precondition: the frame must
// not be closed; violating this is a programming error (an invalid
// argument) and panics rather than being silently absorbed.
func (f *Frame) AcquireGuard() {
	if f.closed.Load() {
		panic("frame: AcquireGuard on closed frame")
	}
	f.guardCount.Add(1)
}

// ReleaseGuard decrements the guard count. Once a frame is closed its
// guard count is permanently pinned at zero (Close requires it to reach
// zero before segments are freed, and AcquireGuard refuses to raise it
// again), so a release arriving against an already-closed frame is a
// stale guard observing a recycle, not a bookkeeping bug: it is
// absorbed rather than treated as underflow. Underflow against a still
// open frame is fatal: it can only be caused by a bug in guard
// bookkeeping.
func (f *Frame) ReleaseGuard() {
	if f.closed.Load() {
		return
	}
	if f.guardCount.Add(-1) < 0 {
		panic("frame: guard count underflow")
	}
}

// Close attempts to close the frame: synchronized; a no-op if already
// closed; vetoed (returns without closing) if any guard is currently
// live. Otherwise the version is incremented before segments are
// returned to the allocator and closed is published last, so that a
// racing guard-holder reading the version after release always observes
// the mismatch.
func (f *Frame) Close() {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()

	if f.closed.Load() {
		return
	}
	if f.guardCount.Load() > 0 {
		return
	}

	f.version.Add(1)

	if f.slotSeg != nil {
		f.allocator.Release(f.slotSeg)
		f.slotSeg = nil
	}
	if f.deweySeg != nil {
		f.allocator.Release(f.deweySeg)
		f.deweySeg = nil
	}

	f.closed.Store(true)
}

/* -------------------------------------------------------------------------
   Scoped guard
   ------------------------------------------------------------------------- */

// Guard is a scoped acquisition of a Frame: it prevents eviction while
// live and detects frame reuse via a captured version on release.
type Guard struct {
	f            *Frame
	versionAtFix uint64
	released     bool
}

// Acquire constructs a Guard over f, capturing its version before
// incrementing the guard count. Returns false if the frame is already
// closed (the caller should treat this as a cache miss).
func Acquire(f *Frame) (*Guard, bool) {
	if f.closed.Load() {
		return nil, false
	}
	v := f.version.Load()
	f.AcquireGuard()
	// Re-check closed: a close that raced us and lost (saw guardCount>0)
	// will simply not have closed; a close that raced us and won would
	// have required guardCount==0, which can't be true once we've
	// incremented it above, so no further check is required here.
	return &Guard{f: f, versionAtFix: v}, true
}

// Frame returns the guarded frame.
func (g *Guard) Frame() *Frame { return g.f }

// Release ends the scoped acquisition. It must be called exactly once.
// Returns ErrFrameReused if the frame's version changed since Acquire,
// meaning the caller may have been reading a recycled page and must
// retry its lookup.
func (g *Guard) Release() error {
	if g.released {
		panic("frame: Guard released twice")
	}
	g.released = true
	g.f.ReleaseGuard()
	if g.f.version.Load() != g.versionAtFix {
		return ErrFrameReused
	}
	return nil
}
