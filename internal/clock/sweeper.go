// Package clock implements the background clock sweeper: one dedicated
// worker per shard, running a second-chance eviction pass bounded by a
// watermark read from the epoch tracker.
//
// The sweeper only drives the loop and accounts the outcome counters;
// the actual per-key atomic compute lives in the Shard implementation
// (pkg/bufmgr), since only the cache knows how to do that without a
// second lock. This keeps ring-walk mechanics separate from the shard's
// own map while the shard still owns the actual mutation.
//
// © 2025 bufmgr authors. MIT License.
package clock

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kvtree/bufmgr/internal/epoch"
)

// Scope restricts a sweeper to one (database, resource) pair. The zero
// value (0, 0) means "global": every frame is a sweep candidate
// regardless of which database/resource it belongs to.
type Scope struct {
	DatabaseID int64
	ResourceID int64
}

// IsGlobal reports whether this scope covers every database/resource.
func (s Scope) IsGlobal() bool { return s.DatabaseID == 0 && s.ResourceID == 0 }

// Result tallies the outcome of one SweepStep call, used both to update
// Prometheus counters and in tests that assert boundary behaviour.
type Result struct {
	Evicted        uint64
	SecondChance   uint64
	WatermarkSkips uint64
	GuardSkips     uint64
	OwnershipSkips uint64
}

// Add accumulates another Result's counters into r.
func (r *Result) Add(o Result) {
	r.Evicted += o.Evicted
	r.SecondChance += o.SecondChance
	r.WatermarkSkips += o.WatermarkSkips
	r.GuardSkips += o.GuardSkips
	r.OwnershipSkips += o.OwnershipSkips
}

// Shard is the contract a sharded cache must satisfy to be driven by a
// Sweeper. All methods must be safe to call from the sweeper's dedicated
// goroutine concurrently with ordinary cache traffic.
type Shard interface {
	// TryLockEviction attempts to acquire the shard's eviction mutex,
	// returning false immediately on contention.
	TryLockEviction() bool
	// UnlockEviction releases the eviction mutex acquired by a
	// successful TryLockEviction.
	UnlockEviction()
	// Len returns the current number of keys, used to size the sweep
	// step (max(10, |keys|/10)).
	Len() int
	// SweepStep visits up to steps positions of the clock hand, applying
	// the second-chance/guard/watermark/evict decision to each, scoped
	// by scope unless scope.IsGlobal().
	SweepStep(scope Scope, watermark int64, steps int) Result
}

// MetricsSink receives per-cycle counters. Implementations must not
// block.
type MetricsSink interface {
	ObserveSweep(shardIndex int, r Result)
}

type noopSink struct{}

func (noopSink) ObserveSweep(int, Result) {}

// Sweeper drives one goroutine per shard, each running periodic
// second-chance eviction cycles.
type Sweeper struct {
	shards   []Shard
	tracker  epoch.Tracker
	scope    Scope
	interval time.Duration
	log      *zap.Logger
	metrics  MetricsSink

	group  *errgroup.Group
	cancel context.CancelFunc
}

// Option configures a Sweeper at construction time.
type Option func(*Sweeper)

// WithLogger plugs an external zap.Logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics plugs a MetricsSink; defaults to a no-op sink.
func WithMetrics(m MetricsSink) Option {
	return func(s *Sweeper) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithScope restricts every shard's sweep to one (database, resource)
// pair. Defaults to global.
func WithScope(scope Scope) Option {
	return func(s *Sweeper) { s.scope = scope }
}

const minStepsPerCycle = 10

// New constructs a Sweeper over shards, reading the watermark from
// tracker every cycle and ticking every interval.
func New(shards []Shard, tracker epoch.Tracker, interval time.Duration, opts ...Option) *Sweeper {
	s := &Sweeper{
		shards:   shards,
		tracker:  tracker,
		interval: interval,
		log:      zap.NewNop(),
		metrics:  noopSink{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches one goroutine per shard under an errgroup.Group bound
// to ctx. Start must be called at most once.
func (s *Sweeper) Start(ctx context.Context) {
	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	s.cancel = cancel
	s.group = g

	for i, shard := range s.shards {
		i, shard := i, shard
		g.Go(func() error {
			s.runShard(gctx, i, shard)
			return nil
		})
	}
}

func (s *Sweeper) runShard(ctx context.Context, index int, shard Shard) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(index, shard)
		}
	}
}

// cycle runs exactly one sweep cycle: lock, read the watermark, size the
// step, sweep, unlock.
func (s *Sweeper) cycle(index int, shard Shard) {
	if !shard.TryLockEviction() {
		return // contention: skip this cycle
	}
	defer shard.UnlockEviction()

	watermark := s.tracker.MinimumActiveRevision()
	n := shard.Len() / 10
	if n < minStepsPerCycle {
		n = minStepsPerCycle
	}

	res := shard.SweepStep(s.scope, watermark, n)
	s.metrics.ObserveSweep(index, res)
	if res.Evicted > 0 {
		s.log.Debug("clock: sweep cycle evicted frames",
			zap.Int("shard", index),
			zap.Uint64("evicted", res.Evicted),
			zap.Uint64("second_chance", res.SecondChance),
			zap.Uint64("watermark_skips", res.WatermarkSkips),
			zap.Uint64("guard_skips", res.GuardSkips),
		)
	}
}

// Stop cancels every shard goroutine and waits for them to exit.
func (s *Sweeper) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	return s.group.Wait()
}
