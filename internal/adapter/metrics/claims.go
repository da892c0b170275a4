package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pscheid92/giftclaim/internal/app"
	"github.com/pscheid92/giftclaim/internal/domain"
)

// ClaimMetrics implements app.ClaimRecorder.
type ClaimMetrics struct {
	claims        *prometheus.CounterVec
	attempts      prometheus.Counter
	claimedSatang prometheus.Counter
	dropped       prometheus.Counter
}

var _ app.ClaimRecorder = (*ClaimMetrics)(nil)

func NewClaimMetrics(reg prometheus.Registerer) *ClaimMetrics {
	m := &ClaimMetrics{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Terminal claim outcomes, by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_attempts_total",
			Help:      "Redemption requests sent, including retries.",
		}),
		claimedSatang: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claimed_satang_total",
			Help:      "Sum of successfully claimed amounts in satang.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_dropped_total",
			Help:      "Messages dropped because a watcher queue was full.",
		}),
	}

	// Pre-create both outcome series so rate() works from the first scrape.
	m.claims.WithLabelValues(string(domain.ClaimSucceeded))
	m.claims.WithLabelValues(string(domain.ClaimFailed))

	reg.MustRegister(m.claims, m.attempts, m.claimedSatang, m.dropped)
	return m
}

func (m *ClaimMetrics) ClaimAttempt() {
	m.attempts.Inc()
}

func (m *ClaimMetrics) ClaimOutcome(outcome domain.ClaimOutcome, amount domain.Satang) {
	m.claims.WithLabelValues(string(outcome)).Inc()
	if outcome == domain.ClaimSucceeded && amount > 0 {
		m.claimedSatang.Add(float64(amount))
	}
}

func (m *ClaimMetrics) WatcherDropped() {
	m.dropped.Inc()
}
