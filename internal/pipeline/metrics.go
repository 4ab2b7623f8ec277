package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the synchronizer's Prometheus counters. A nil *Metrics is
// valid and makes every observation a no-op, so instrumentation stays
// optional for embedded and test use.
type Metrics struct {
	pagesFetched        prometheus.Counter
	snapshotPaints      prometheus.Counter
	invalidations       prometheus.Counter
	optimisticRollbacks prometheus.Counter
	realtimeApplied     prometheus.Counter
	realtimeSuppressed  prometheus.Counter
	realtimeIgnored     prometheus.Counter
	prefetches          prometheus.Counter
}

// NewMetrics registers the synchronizer counters on the given registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_pages_fetched_total",
			Help: "Pages of tracked candidates fetched from the backend.",
		}),
		snapshotPaints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_snapshot_paints_total",
			Help: "Synchronizer starts painted from a local snapshot.",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_cache_invalidations_total",
			Help: "Query-cache invalidations forcing a reconciling refetch.",
		}),
		optimisticRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_optimistic_rollbacks_total",
			Help: "Optimistic mutations rolled back after a remote failure.",
		}),
		realtimeApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_realtime_events_applied_total",
			Help: "Realtime change events patched into the cache in place.",
		}),
		realtimeSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_realtime_events_suppressed_total",
			Help: "Realtime events dropped while a local mutation was in flight.",
		}),
		realtimeIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_realtime_events_ignored_total",
			Help: "Realtime events irrelevant to the loaded candidate set.",
		}),
		prefetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_prefetches_total",
			Help: "Background one-page-ahead prefetches issued.",
		}),
	}

	for _, c := range []prometheus.Counter{
		m.pagesFetched, m.snapshotPaints, m.invalidations, m.optimisticRollbacks,
		m.realtimeApplied, m.realtimeSuppressed, m.realtimeIgnored, m.prefetches,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) incPagesFetched() {
	if m != nil {
		m.pagesFetched.Inc()
	}
}

func (m *Metrics) incSnapshotPaints() {
	if m != nil {
		m.snapshotPaints.Inc()
	}
}

func (m *Metrics) incInvalidations() {
	if m != nil {
		m.invalidations.Inc()
	}
}

func (m *Metrics) incOptimisticRollbacks() {
	if m != nil {
		m.optimisticRollbacks.Inc()
	}
}

func (m *Metrics) incRealtimeApplied() {
	if m != nil {
		m.realtimeApplied.Inc()
	}
}

func (m *Metrics) incRealtimeSuppressed() {
	if m != nil {
		m.realtimeSuppressed.Inc()
	}
}

func (m *Metrics) incRealtimeIgnored() {
	if m != nil {
		m.realtimeIgnored.Inc()
	}
}

func (m *Metrics) incPrefetches() {
	if m != nil {
		m.prefetches.Inc()
	}
}
