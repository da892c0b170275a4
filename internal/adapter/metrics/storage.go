package metrics

import (
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics observes Postgres queries, Redis commands and the Redis
// circuit breaker. It satisfies postgres.QueryObserver and
// redis.CommandObserver.
type StorageMetrics struct {
	dbQueryDuration  *prometheus.HistogramVec
	dbErrors         *prometheus.CounterVec
	redisOps         *prometheus.CounterVec
	redisOpDuration  *prometheus.HistogramVec
	redisDialErrors  prometheus.Counter
	breakerState     *prometheus.GaugeVec
	breakerTransited *prometheus.CounterVec
}

func NewStorageMetrics(reg prometheus.Registerer) *StorageMetrics {
	m := &StorageMetrics{
		dbQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries, by SQL verb.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		dbErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "errors_total",
			Help:      "Failed database queries, by SQL verb.",
		}, []string{"operation"}),
		redisOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operations_total",
			Help:      "Redis commands, by command and status.",
		}, []string{"operation", "status"}),
		redisOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Duration of Redis commands.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"operation"}),
		redisDialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "connection_errors_total",
			Help:      "Failed Redis connection attempts.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"component"}),
		breakerTransited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Circuit breaker transitions, by component and new state.",
		}, []string{"component", "state"}),
	}

	m.breakerState.WithLabelValues("redis").Set(0)

	reg.MustRegister(m.dbQueryDuration, m.dbErrors, m.redisOps, m.redisOpDuration,
		m.redisDialErrors, m.breakerState, m.breakerTransited)
	return m
}

func (m *StorageMetrics) ObserveQuery(operation string, duration time.Duration, err error) {
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.dbErrors.WithLabelValues(operation).Inc()
	}
}

func (m *StorageMetrics) ObserveCommand(operation string, duration time.Duration, failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	m.redisOps.WithLabelValues(operation, status).Inc()
	m.redisOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *StorageMetrics) DialFailed() {
	m.redisDialErrors.Inc()
}

// ObserveBreakerState matches redis.StateObserver.
func (m *StorageMetrics) ObserveBreakerState(component string, state circuitbreaker.State) {
	m.breakerState.WithLabelValues(component).Set(breakerStateValue(state))
	m.breakerTransited.WithLabelValues(component, state.String()).Inc()
}

func breakerStateValue(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}
