package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kvtree/bufmgr/internal/epoch"
)

// fakeFrame is a minimal stand-in for frame.Frame used to exercise the
// Sweeper's driving logic independent of pkg/bufmgr.
type fakeFrame struct {
	hot      bool
	guards   int32
	revision int64
	closed   bool
}

type fakeShard struct {
	mu     sync.Mutex
	evMu   sync.Mutex
	frames []*fakeFrame
}

func (f *fakeShard) TryLockEviction() bool { return f.evMu.TryLock() }
func (f *fakeShard) UnlockEviction()       { f.evMu.Unlock() }

func (f *fakeShard) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeShard) SweepStep(scope Scope, watermark int64, steps int) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	var res Result
	n := steps
	if n > len(f.frames) {
		n = len(f.frames)
	}
	remaining := f.frames[:0]
	for i, fr := range f.frames {
		if i >= n {
			remaining = append(remaining, fr)
			continue
		}
		switch {
		case fr.hot:
			fr.hot = false
			res.SecondChance++
			remaining = append(remaining, fr)
		case fr.guards > 0:
			res.GuardSkips++
			remaining = append(remaining, fr)
		case !scope.IsGlobal() && fr.revision >= watermark:
			res.WatermarkSkips++
			remaining = append(remaining, fr)
		default:
			fr.closed = true
			res.Evicted++
		}
	}
	f.frames = remaining
	return res
}

func TestSweepAllHotClearsWithoutEviction(t *testing.T) {
	shard := &fakeShard{}
	for i := 0; i < 10; i++ {
		shard.frames = append(shard.frames, &fakeFrame{hot: true})
	}
	tracker := epoch.NewManager(1 << 62)

	res := shard.SweepStep(Scope{}, tracker.MinimumActiveRevision(), 10)
	if res.Evicted != 0 {
		t.Fatalf("expected no evictions on all-hot pass, got %d", res.Evicted)
	}
	if res.SecondChance != 10 {
		t.Fatalf("expected 10 second-chance clears, got %d", res.SecondChance)
	}
	for _, fr := range shard.frames {
		if fr.hot {
			t.Fatal("hot bit should have been cleared")
		}
	}

	// Second pass: no longer hot, no guards, global scope → must evict all.
	res2 := shard.SweepStep(Scope{}, tracker.MinimumActiveRevision(), 10)
	if res2.Evicted != 10 {
		t.Fatalf("expected all 10 evicted on second pass, got %d", res2.Evicted)
	}
}

func TestSweepAllGuardedMakesNoEvictions(t *testing.T) {
	shard := &fakeShard{}
	for i := 0; i < 5; i++ {
		shard.frames = append(shard.frames, &fakeFrame{guards: 1})
	}
	res := shard.SweepStep(Scope{}, 0, 10)
	if res.Evicted != 0 {
		t.Fatalf("expected no evictions while guarded, got %d", res.Evicted)
	}
	if res.GuardSkips != 5 {
		t.Fatalf("expected 5 guard skips, got %d", res.GuardSkips)
	}
}

func TestSweeperRunsCyclesOnShards(t *testing.T) {
	shard := &fakeShard{frames: []*fakeFrame{{}, {}, {}}}
	tracker := epoch.NewManager(1 << 62)

	done := make(chan Result, 1)
	sink := sinkFunc(func(_ int, r Result) { done <- r })

	sw := New([]Shard{shard}, tracker, 5*time.Millisecond, WithMetrics(sink))
	ctx, cancel := context.WithCancel(context.Background())
	sw.Start(ctx)
	defer func() {
		cancel()
		_ = sw.Stop()
	}()

	select {
	case r := <-done:
		if r.Evicted == 0 && r.SecondChance == 0 {
			t.Fatalf("expected some activity in first cycle, got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sweep cycle")
	}
}

type sinkFunc func(shardIndex int, r Result)

func (f sinkFunc) ObserveSweep(shardIndex int, r Result) { f(shardIndex, r) }
