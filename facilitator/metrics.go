package facilitator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the facilitator's Prometheus instrumentation. Outcome labels
// are "valid"/"invalid"/"error" for verify and "settled"/"failed"/"error"
// for settle.
type metrics struct {
	verifyTotal *prometheus.CounterVec
	settleTotal *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		verifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402",
			Subsystem: "facilitator",
			Name:      "verify_requests_total",
			Help:      "Payment verification requests by outcome.",
		}, []string{"outcome", "scheme", "network"}),
		settleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402",
			Subsystem: "facilitator",
			Name:      "settle_requests_total",
			Help:      "Payment settlement requests by outcome.",
		}, []string{"outcome", "scheme", "network"}),
	}
	reg.MustRegister(m.verifyTotal, m.settleTotal)
	return m
}

func (m *metrics) observeVerify(outcome, scheme, network string) {
	m.verifyTotal.WithLabelValues(outcome, scheme, network).Inc()
}

func (m *metrics) observeSettle(outcome, scheme, network string) {
	m.settleTotal.WithLabelValues(outcome, scheme, network).Inc()
}
