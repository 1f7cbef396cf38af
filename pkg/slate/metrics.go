package slate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports coordinator activity to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	operations       *prometheus.CounterVec
	mutationDuration prometheus.Histogram
	cacheLookups     *prometheus.CounterVec
	cacheEntries     prometheus.Gauge
	listeners        prometheus.Gauge
	uncaught         prometheus.Counter
}

// NewMetrics registers the coordinator metrics on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "slate"
	}
	f := promauto.With(reg)
	return &Metrics{
		// Labels: kind (query, mutation), outcome (ok, error, aborted)
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "operations_total",
			Help:      "Completed queries and mutations by outcome",
		}, []string{"kind", "outcome"}),
		mutationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "mutation_duration_seconds",
			Help:      "Time spent holding the write barrier",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		// Labels: result (hit, miss)
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Snapshot cache lookups by result",
		}, []string{"result"}),
		cacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Snapshots currently cached",
		}),
		listeners: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listeners",
			Name:      "registered",
			Help:      "Live mutation listeners and subscriptions",
		}),
		uncaught: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handle",
			Name:      "uncaught_errors_total",
			Help:      "Errors dropped without being caught",
		}),
	}
}

func (m *Metrics) observeOperation(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case isAbort(err):
		outcome = "aborted"
	case err != nil:
		outcome = "error"
	}
	m.operations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) observeMutation(d time.Duration) {
	if m == nil {
		return
	}
	m.mutationDuration.Observe(d.Seconds())
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) setCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

func (m *Metrics) setListeners(n int) {
	if m == nil {
		return
	}
	m.listeners.Set(float64(n))
}

func (m *Metrics) uncaughtError() {
	if m == nil {
		return
	}
	m.uncaught.Inc()
}
