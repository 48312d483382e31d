// Package metrics wires ambient observability for a store: append/flush
// counters, flush-latency histograms, and cache hit/miss/waiter gauges,
// registered via promauto against a caller-supplied registry so multiple
// stores in one process don't collide on metric names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector this module exposes. Construct with New
// against a *prometheus.Registry (or prometheus.DefaultRegisterer).
type Metrics struct {
	AppendsTotal       *prometheus.CounterVec
	FlushDuration      prometheus.Histogram
	FlushFailuresTotal prometheus.Counter
	SnapshotCacheHits  prometheus.Counter
	SnapshotCacheMiss  prometheus.Counter
	FileCacheHits      prometheus.Counter
	FileCacheMiss      prometheus.Counter
	Waiters            prometheus.Gauge
}

// New registers and returns the collector set against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AppendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revstore",
			Name:      "appends_total",
			Help:      "Number of appendChange calls, labeled by outcome (installed, lost_race).",
		}, []string{"outcome"}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "revstore",
			Name:      "flush_duration_seconds",
			Help:      "Time spent in a persist.Container.Flush call.",
			Buckets:   prometheus.DefBuckets,
		}),
		FlushFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "revstore",
			Name:      "flush_failures_total",
			Help:      "Number of flush batches that reported at least one failed blob write.",
		}),
		SnapshotCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "revstore",
			Subsystem: "snapcache",
			Name:      "hits_total",
			Help:      "Number of snapshot lookups served from the memoization cache.",
		}),
		SnapshotCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "revstore",
			Subsystem: "snapcache",
			Name:      "misses_total",
			Help:      "Number of snapshot lookups that required recomputation.",
		}),
		FileCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "revstore",
			Subsystem: "filecache",
			Name:      "hits_total",
			Help:      "Number of GetFile calls served from the store's live-handle cache.",
		}),
		FileCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "revstore",
			Subsystem: "filecache",
			Name:      "misses_total",
			Help:      "Number of GetFile calls that opened (and recovered) a file from disk.",
		}),
		Waiters: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "revstore",
			Name:      "change_waiters",
			Help:      "Number of calls currently blocked on a file's change condition.",
		}),
	}
}

// ObserveAppend records the outcome of one appendChange call.
func (m *Metrics) ObserveAppend(installed bool) {
	if installed {
		m.AppendsTotal.WithLabelValues("installed").Inc()
	} else {
		m.AppendsTotal.WithLabelValues("lost_race").Inc()
	}
}
