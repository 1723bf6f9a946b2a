package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (store or dependency issues).
	OutcomeError = "error"

	// CacheHot labels hits served from the hot cache.
	CacheHot = "hot"
	// CacheStore labels hits served from the warehouse cache table.
	CacheStore = "store"
	// CacheMiss labels lookups that fell through to fallback computation.
	CacheMiss = "miss"
)

var (
	batchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quality_core",
			Name:      "batch_runs_total",
			Help:      "Total number of batch report generations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	batchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quality_core",
			Name:      "batch_duration_seconds",
			Help:      "Batch generation latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	fallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quality_core",
			Name:      "fallback_computations_total",
			Help:      "Fallback report computations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	fallbackSharedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quality_core",
			Name:      "fallback_shared_total",
			Help:      "Fallback calls answered by a concurrent in-flight computation.",
		},
	)

	reportLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quality_core",
			Name:      "report_lookups_total",
			Help:      "Report lookups, partitioned by which layer answered.",
		},
		[]string{"source"},
	)
)

// Register attaches quality-core collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		batchRunsTotal,
		batchDurationSeconds,
		fallbackTotal,
		fallbackSharedTotal,
		reportLookupsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveBatch records a batch run duration and outcome label.
func ObserveBatch(duration time.Duration, outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	batchRunsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	batchDurationSeconds.Observe(duration.Seconds())
}

// ObserveFallback records one fallback computation outcome. shared marks
// callers that piggybacked on an in-flight computation.
func ObserveFallback(outcome string, shared bool) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	fallbackTotal.WithLabelValues(outcome).Inc()
	if shared {
		fallbackSharedTotal.Inc()
	}
}

// ObserveReportLookup records which layer answered a report request.
func ObserveReportLookup(source string) {
	reportLookupsTotal.WithLabelValues(source).Inc()
}
