package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/giftclaim/internal/app"
)

// SessionMetrics implements app.SessionRecorder.
type SessionMetrics struct {
	connected     prometheus.Gauge
	logins        *prometheus.CounterVec
	restores      *prometheus.CounterVec
	probeFailures prometheus.Counter
}

var _ app.SessionRecorder = (*SessionMetrics)(nil)

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_connected",
			Help:      "Bot sessions currently held by this process.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_total",
			Help:      "Login steps, by result.",
		}, []string{"result"}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_total",
			Help:      "Startup session restores, by result.",
		}, []string{"result"}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_probe_failures_total",
			Help:      "Failed liveness probes of connected sessions.",
		}),
	}

	reg.MustRegister(m.connected, m.logins, m.restores, m.probeFailures)
	return m
}

func (m *SessionMetrics) LoginResult(result string)   { m.logins.WithLabelValues(result).Inc() }
func (m *SessionMetrics) RestoreResult(result string) { m.restores.WithLabelValues(result).Inc() }
func (m *SessionMetrics) ProbeFailed()                { m.probeFailures.Inc() }
func (m *SessionMetrics) Connected(n int)             { m.connected.Set(float64(n)) }
