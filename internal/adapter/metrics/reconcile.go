package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/giftclaim/internal/app"
)

// ReconcileMetrics implements app.SweepRecorder.
type ReconcileMetrics struct {
	runs     prometheus.Counter
	removed  *prometheus.CounterVec
	failed   prometheus.Counter
	duration prometheus.Histogram
}

var _ app.SweepRecorder = (*ReconcileMetrics)(nil)

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Completed reconciler sweeps.",
		}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_removed_total",
			Help:      "Records removed by the reconciler, by kind.",
		}, []string{"kind"}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_failures_total",
			Help:      "Tenants the reconciler failed to check.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciler sweeps.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(m.runs, m.removed, m.failed, m.duration)
	return m
}

func (m *ReconcileMetrics) SweepCompleted(report app.SweepReport, took time.Duration) {
	m.runs.Inc()
	m.removed.WithLabelValues("tenant").Add(float64(report.TenantsRemoved))
	m.removed.WithLabelValues("session").Add(float64(report.SessionsCleared))
	m.failed.Add(float64(report.Failed))
	m.duration.Observe(took.Seconds())
}
