package bufmgr

// config.go defines BufferManager's functional-option configuration: a
// private config struct with defaults, options that only capture
// pointers to external collaborators, and validation folded into
// applyOptions before New commits to constructing anything.

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type config struct {
	physicalBudget int64
	pageShards     int

	recordCapacityHint     int
	fragmentCapacityHint   int
	genericPageMaxCost     int64
	revisionRootCapacity   int
	indexNodeCapacity      int
	namesCapacity          int
	pathSummaryCapacity    int

	sweepInterval time.Duration

	logger   *zap.Logger
	registry *prometheus.Registry
}

func defaultConfig() *config {
	return &config{
		physicalBudget:       256 << 20,
		pageShards:           16,
		recordCapacityHint:   4096,
		fragmentCapacityHint: 1024,
		genericPageMaxCost:   64 << 20,
		revisionRootCapacity: 256,
		indexNodeCapacity:    8192,
		namesCapacity:        512,
		pathSummaryCapacity:  2048,
		sweepInterval:        100 * time.Millisecond,
		logger:               zap.NewNop(),
	}
}

// Option configures a BufferManager at construction time.
type Option func(*config)

// WithPhysicalBudget sets the maximum physical bytes the segment
// allocator may commit.
func WithPhysicalBudget(bytes int64) Option {
	return func(c *config) { c.physicalBudget = bytes }
}

// WithPageShards sets the shard count for the record and fragment page
// caches. Must be a power of two; validated in New.
func WithPageShards(n int) Option {
	return func(c *config) { c.pageShards = n }
}

// WithSweepInterval overrides how often each page-cache shard's sweeper
// goroutine runs a cycle.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithCapacities overrides the fixed-size tier caches' entry capacities.
// Any zero value leaves the corresponding default untouched. recordHint
// and fragmentHint are stored but not read: the record and fragment page
// caches have no entry bound.
func WithCapacities(recordHint, fragmentHint, revisionRoot, indexNode, names, pathSummary int) Option {
	return func(c *config) {
		if recordHint > 0 {
			c.recordCapacityHint = recordHint
		}
		if fragmentHint > 0 {
			c.fragmentCapacityHint = fragmentHint
		}
		if revisionRoot > 0 {
			c.revisionRootCapacity = revisionRoot
		}
		if indexNode > 0 {
			c.indexNodeCapacity = indexNode
		}
		if names > 0 {
			c.namesCapacity = names
		}
		if pathSummary > 0 {
			c.pathSummaryCapacity = pathSummary
		}
	}
}

// WithGenericPageMaxCost sets the weight bound (e.g. total bytes) for the
// ristretto-backed generic page cache.
func WithGenericPageMaxCost(maxCost int64) Option {
	return func(c *config) {
		if maxCost > 0 {
			c.genericPageMaxCost = maxCost
		}
	}
}

// WithLogger plugs an external zap.Logger, propagated to the allocator
// and sweepers.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPrometheusRegistry enables Prometheus metrics registered under
// namespace "bufmgr". Passing nil disables metrics (default).
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

func applyOptions(opts []Option) (*config, error) {
	c := defaultConfig()
	for _, o := range opts {
		o(c)
	}
	if c.pageShards <= 0 || (c.pageShards&(c.pageShards-1)) != 0 {
		return nil, errors.New("bufmgr: page shard count must be a power of two")
	}
	if c.physicalBudget <= 0 {
		return nil, errors.New("bufmgr: physical budget must be > 0")
	}
	return c, nil
}
