package bufmgr

// metrics.go provides a small sink interface with a no-op default and a
// Prometheus-backed implementation, injected via functional option
// rather than hard-wired to a global registry.

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kvtree/bufmgr/internal/clock"
)

// metricsSink is consumed directly by the page/fragment caches for hit
// and miss counting; it is distinct from clock.MetricsSink (which
// receives whole-cycle sweep results) because hits/misses are counted on
// the hot read path and must stay allocation-free.
type metricsSink interface {
	incHit()
	incMiss()
}

type noopMetrics struct{}

func (noopMetrics) incHit()  {}
func (noopMetrics) incMiss() {}

// PrometheusMetrics implements both metricsSink and clock.MetricsSink,
// registering a small family of counters and gauges under the supplied
// namespace, following the "<namespace>_<subsystem>_<name>" naming
// convention.
type PrometheusMetrics struct {
	namespace string

	hits    prometheus.Counter
	misses  prometheus.Counter
	evicted *prometheus.CounterVec
	skipped *prometheus.CounterVec
	physMem prometheus.Gauge
}

// NewPrometheusMetrics constructs and registers a PrometheusMetrics sink
// against reg. Passing a nil registry registers against the default
// global registry.
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		namespace: namespace,
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pagecache", Name: "hits_total",
			Help: "Cache lookups that found a live frame.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pagecache", Name: "misses_total",
			Help: "Cache lookups that required a load.",
		}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweeper", Name: "outcomes_total",
			Help: "Sweep cycle outcomes by kind.",
		}, []string{"kind"}),
		physMem: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "segment", Name: "physical_bytes",
			Help: "Physical bytes currently charged against the allocator budget.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.evicted, m.physMem)
	return m
}

func (m *PrometheusMetrics) incHit()  { m.hits.Inc() }
func (m *PrometheusMetrics) incMiss() { m.misses.Inc() }

// ObserveSweep implements clock.MetricsSink.
func (m *PrometheusMetrics) ObserveSweep(_ int, r clock.Result) {
	m.evicted.WithLabelValues("evicted").Add(float64(r.Evicted))
	m.evicted.WithLabelValues("second_chance").Add(float64(r.SecondChance))
	m.evicted.WithLabelValues("watermark_skip").Add(float64(r.WatermarkSkips))
	m.evicted.WithLabelValues("guard_skip").Add(float64(r.GuardSkips))
	m.evicted.WithLabelValues("ownership_skip").Add(float64(r.OwnershipSkips))
}

// SetPhysicalBytes updates the physical-memory gauge. The façade does not
// call it; the gauge only moves when a caller sets it, e.g. from
// Allocator.PhysicalBytes.
func (m *PrometheusMetrics) SetPhysicalBytes(n int64) {
	m.physMem.Set(float64(n))
}
