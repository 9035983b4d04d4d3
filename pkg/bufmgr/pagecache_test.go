package bufmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kvtree/bufmgr/internal/clock"
	"github.com/kvtree/bufmgr/internal/frame"
	"github.com/kvtree/bufmgr/internal/segment"
)

func newTestCacheAllocator(t *testing.T) *segment.Allocator {
	t.Helper()
	a := segment.New(segment.WithSegmentsPerClass(8))
	if err := a.Init(64 << 20); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = a.Free() })
	return a
}

func newTestFrameFor(t *testing.T, alloc *segment.Allocator, key int64) *frame.Frame {
	t.Helper()
	seg, err := alloc.Allocate(4096)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	f := frame.New(alloc, seg, nil)
	f.PageKey = key
	return f
}

func TestPageCachePutGet(t *testing.T) {
	alloc := newTestCacheAllocator(t)
	c := NewPageCache(4, nil)

	ref := NewPageReference(1, 1, 42)
	fr := newTestFrameFor(t, alloc, 42)
	c.Put(ref, fr)

	got, ok := c.Get(ref)
	if !ok || got != fr {
		t.Fatalf("expected cache hit returning the same frame")
	}
	if ref.Page() != fr {
		t.Fatalf("expected reference to be swizzled to the inserted frame")
	}
}

func TestPageCacheMissOnEmpty(t *testing.T) {
	c := NewPageCache(4, nil)
	ref := NewPageReference(1, 1, 7)
	if _, ok := c.Get(ref); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestPageCacheGetAndGuardBlocksEviction(t *testing.T) {
	alloc := newTestCacheAllocator(t)
	c := NewPageCache(4, nil)

	ref := NewPageReference(1, 1, 1)
	fr := newTestFrameFor(t, alloc, 1)
	c.Put(ref, fr)

	g, ok := c.GetAndGuard(ref)
	if !ok {
		t.Fatal("expected GetAndGuard to succeed")
	}
	defer g.Release()

	fr.ClearHot()
	shard := c.shardFor(ref.RecordKey())
	res := shard.SweepStep(clock.Scope{}, 0, 10)
	if res.GuardSkips != 1 {
		t.Fatalf("expected guard skip while guard is held, got %+v", res)
	}
	if fr.IsClosed() {
		t.Fatal("frame must not be closed while guarded")
	}
}

func TestPageCacheComputeDeduplicatesConcurrentLoads(t *testing.T) {
	alloc := newTestCacheAllocator(t)
	c := NewPageCache(4, nil)
	ref := NewPageReference(2, 2, 9)

	var calls atomic.Int32
	loader := PageLoaderFunc(func(ctx context.Context, r *PageReference) (*frame.Frame, error) {
		calls.Add(1)
		return newTestFrameFor(t, alloc, r.Key()), nil
	})

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := c.Compute(context.Background(), ref, loader); err != nil {
				t.Errorf("Compute: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one Load call, got %d", calls.Load())
	}
}

func TestPageCacheComputePropagatesLoaderError(t *testing.T) {
	c := NewPageCache(4, nil)
	ref := NewPageReference(1, 1, 1)
	wantErr := errors.New("boom")
	loader := PageLoaderFunc(func(ctx context.Context, r *PageReference) (*frame.Frame, error) {
		return nil, wantErr
	})
	_, err := c.Compute(context.Background(), ref, loader)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected loader error to propagate, got %v", err)
	}
}

func TestPageCacheRemoveTransfersOwnershipWithoutClosing(t *testing.T) {
	alloc := newTestCacheAllocator(t)
	c := NewPageCache(4, nil)
	ref := NewPageReference(1, 1, 5)
	fr := newTestFrameFor(t, alloc, 5)
	c.Put(ref, fr)

	got, ok := c.Remove(ref)
	if !ok || got != fr {
		t.Fatal("expected Remove to return the frame")
	}
	if fr.IsClosed() {
		t.Fatal("Remove must not close the frame: caller takes ownership")
	}
	if _, ok := c.Get(ref); ok {
		t.Fatal("expected cache to no longer contain the removed key")
	}
}

func TestPageCacheSweepStepEvictsColdUnguardedGlobalScope(t *testing.T) {
	alloc := newTestCacheAllocator(t)
	c := NewPageCache(1, nil)
	ref := NewPageReference(1, 1, 3)
	fr := newTestFrameFor(t, alloc, 3)
	c.Put(ref, fr)
	fr.ClearHot()

	shard := c.shardFor(ref.RecordKey())
	res := shard.SweepStep(clock.Scope{}, 0, 10)
	if res.Evicted != 1 {
		t.Fatalf("expected one eviction, got %+v", res)
	}
	if !fr.IsClosed() {
		t.Fatal("expected frame to be closed after eviction")
	}
	if ref.Page() != nil {
		t.Fatal("expected reference's page slot to be nulled on eviction")
	}
	if _, ok := c.Get(ref); ok {
		t.Fatal("expected evicted key to be gone from the cache")
	}
}

func TestPageCacheClearClosesAllFrames(t *testing.T) {
	alloc := newTestCacheAllocator(t)
	c := NewPageCache(4, nil)
	frames := make([]*frame.Frame, 0, 5)
	for i := int64(0); i < 5; i++ {
		ref := NewPageReference(1, 1, i)
		fr := newTestFrameFor(t, alloc, i)
		c.Put(ref, fr)
		frames = append(frames, fr)
	}
	c.Clear()
	for _, fr := range frames {
		if !fr.IsClosed() {
			t.Fatal("expected Clear to close every frame")
		}
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after Clear, got %d entries", c.Len())
	}
}

func TestPageCacheRemoveAndCloseMatchingScopesByDatabase(t *testing.T) {
	alloc := newTestCacheAllocator(t)
	c := NewPageCache(4, nil)

	keep := NewPageReference(1, 1, 1)
	keepFrame := newTestFrameFor(t, alloc, 1)
	c.Put(keep, keepFrame)

	drop := NewPageReference(2, 1, 1)
	dropFrame := newTestFrameFor(t, alloc, 1)
	c.Put(drop, dropFrame)

	n := c.removeAndCloseMatching(func(k RecordPageKey) bool { return k.DatabaseID == 2 })
	if n != 1 {
		t.Fatalf("expected exactly one match, got %d", n)
	}
	if !dropFrame.IsClosed() {
		t.Fatal("expected matching frame to be closed")
	}
	if keepFrame.IsClosed() {
		t.Fatal("expected non-matching frame to survive")
	}
}
