package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	PoolRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flockd_pool_running",
			Help: "Number of running flocks per pool",
		},
		[]string{"pool"},
	)

	PoolQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flockd_pool_queued",
			Help: "Number of queued flock requests per pool",
		},
		[]string{"pool"},
	)

	PoolPersisted = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flockd_pool_persisted",
			Help: "Number of persistently-owned flocks per pool (persist pools only)",
		},
		[]string{"pool"},
	)

	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockd_admissions_total",
			Help: "Total number of flocks admitted (materialised) per pool",
		},
		[]string{"pool"},
	)

	PreemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockd_preemptions_total",
			Help: "Total number of persist-pool preemptions",
		},
		[]string{"pool"},
	)

	EngineErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flockd_engine_errors_total",
			Help: "Total number of engine operation failures by error code",
		},
		[]string{"op", "code"},
	)

	EngineOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flockd_engine_op_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flockd_reconciliation_duration_seconds",
			Help:    "Duration of a single reconciler sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flockd_reconciliation_cycles_total",
			Help: "Total number of reconciler sweeps completed",
		},
	)

	ReconciledOrphansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flockd_reconciled_orphans_total",
			Help: "Total number of orphaned reqids cleaned up by the reconciler",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PoolRunning,
		PoolQueued,
		PoolPersisted,
		AdmissionsTotal,
		PreemptionsTotal,
		EngineErrorsTotal,
		EngineOpDuration,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ReconciledOrphansTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
