package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks the verification pipeline and gateway health.
type PaymentMetrics struct {
	verifyOutcomes  *prometheus.CounterVec
	fraudDecisions  *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	gatewayFailures *prometheus.CounterVec
	oversold        prometheus.Counter
	retries         *prometheus.CounterVec
}

// NewPaymentMetrics registers payment metrics on reg. A nil registerer yields
// a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	m := &PaymentMetrics{
		verifyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_payment_verify_total",
			Help: "Payment verification results by outcome.",
		}, []string{"outcome"}),
		fraudDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_fraud_decisions_total",
			Help: "Fraud scorer recommendations by level.",
		}, []string{"recommendation", "level"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_gateway_call_seconds",
			Help:    "Latency of payment gateway calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		gatewayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_gateway_failures_total",
			Help: "Failed payment gateway calls.",
		}, []string{"operation"}),
		oversold: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_inventory_oversold_total",
			Help: "Order lines reserved short of the ordered quantity.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_payment_retries_total",
			Help: "Retry scheduler decisions.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.verifyOutcomes, m.fraudDecisions, m.gatewayLatency, m.gatewayFailures, m.oversold, m.retries)
	return m
}

func (m *PaymentMetrics) IncVerifyOutcome(outcome string) {
	if m == nil || m.verifyOutcomes == nil {
		return
	}
	m.verifyOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) IncFraudDecision(recommendation, level string) {
	if m == nil || m.fraudDecisions == nil {
		return
	}
	m.fraudDecisions.WithLabelValues(normalizeLabel(recommendation), normalizeLabel(level)).Inc()
}

func (m *PaymentMetrics) ObserveGatewayCall(operation string, duration time.Duration, err error) {
	if m == nil || m.gatewayLatency == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
	if err != nil {
		m.gatewayFailures.WithLabelValues(normalizeLabel(operation)).Inc()
	}
}

func (m *PaymentMetrics) AddOversold(lines int) {
	if m == nil || m.oversold == nil || lines <= 0 {
		return
	}
	m.oversold.Add(float64(lines))
}

func (m *PaymentMetrics) IncRetry(result string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
