package segment

import "testing"

func newTestAllocator(t *testing.T, budget int64) *Allocator {
	t.Helper()
	a := New(WithSegmentsPerClass(8))
	if err := a.Init(budget); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = a.Free() })
	return a
}

func TestAllocateEachLadderClass(t *testing.T) {
	a := newTestAllocator(t, 0) // unlimited budget
	for c, sz := range Ladder {
		seg, err := a.Allocate(sz)
		if err != nil {
			t.Fatalf("class %d: Allocate(%d): %v", c, sz, err)
		}
		if seg.Size() != sz {
			t.Fatalf("class %d: got size %d, want %d", c, seg.Size(), sz)
		}
		if len(seg.Bytes()) != int(sz) {
			t.Fatalf("class %d: Bytes() len %d, want %d", c, len(seg.Bytes()), sz)
		}
		a.Release(seg)
	}
}

func TestAllocateRoundsUpToLadder(t *testing.T) {
	a := newTestAllocator(t, 0)
	seg, err := a.Allocate(1) // smaller than the smallest rung
	if err != nil {
		t.Fatalf("Allocate(1): %v", err)
	}
	if seg.Size() != Ladder[Class4KiB] {
		t.Fatalf("got size %d, want %d", seg.Size(), Ladder[Class4KiB])
	}
}

func TestAllocateUnsupportedSize(t *testing.T) {
	a := newTestAllocator(t, 0)
	_, err := a.Allocate(Ladder[numClasses-1] + 1)
	if err == nil {
		t.Fatal("expected ErrUnsupportedSize")
	}
}

// TestOutOfMemoryByOneByte exercises a budget exhausted by exactly one
// byte, then recovered by a Release.
func TestOutOfMemoryByOneByte(t *testing.T) {
	budget := 2*Ladder[Class4KiB] - 1 // a second 4 KiB segment overshoots by one byte
	a := newTestAllocator(t, budget)

	seg1, err := a.Allocate(Ladder[Class4KiB])
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}

	if _, err := a.Allocate(Ladder[Class4KiB]); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}

	a.Release(seg1)

	seg2, err := a.Allocate(Ladder[Class4KiB])
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	a.Release(seg2)
}

// TestPhysicalBytesAtSteadyState verifies that the physical-bytes
// counter at steady state equals the sum of ladder sizes of all
// currently-allocated segments.
func TestPhysicalBytesAtSteadyState(t *testing.T) {
	a := newTestAllocator(t, 0)
	var held []*Segment
	var want int64
	for i := 0; i < 4; i++ {
		seg, err := a.Allocate(Ladder[Class16KiB])
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		held = append(held, seg)
		want += seg.Size()
	}
	if got := a.PhysicalBytes(); got != want {
		t.Fatalf("PhysicalBytes() = %d, want %d", got, want)
	}
	for _, seg := range held {
		a.Release(seg)
	}
	if got := a.PhysicalBytes(); got != 0 {
		t.Fatalf("PhysicalBytes() after release = %d, want 0", got)
	}
}

// TestDoubleReleaseAbsorbed verifies that a double release is absorbed
// rather than corrupting the allocator's accounting.
func TestDoubleReleaseAbsorbed(t *testing.T) {
	a := newTestAllocator(t, 0)
	seg, err := a.Allocate(Ladder[Class4KiB])
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	a.Release(seg)
	before := a.PhysicalBytes()
	a.Release(seg) // double release: must be absorbed, not panic or go negative
	if got := a.PhysicalBytes(); got != before || got < 0 {
		t.Fatalf("PhysicalBytes() after double release = %d, want %d and >= 0", got, before)
	}
	if a.DriftCount() == 0 {
		t.Fatal("expected DriftCount() to record the double release")
	}
}

func TestResetKeepsSegmentBorrowed(t *testing.T) {
	a := newTestAllocator(t, 0)
	seg, err := a.Allocate(Ladder[Class4KiB])
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := a.Reset(seg); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := a.BorrowedCount(); got != 1 {
		t.Fatalf("BorrowedCount() after Reset = %d, want 1", got)
	}
	a.Release(seg)
}
