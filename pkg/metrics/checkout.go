package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Checkout outcome labels.
const (
	OutcomeSuccess          = "success"
	OutcomeEmptyCart        = "empty_cart"
	OutcomeCapacityExceeded = "capacity_exceeded"
	OutcomeSaleWindow       = "sale_window"
	OutcomeConflict         = "conflict"
	OutcomeError            = "error"
)

// CheckoutMetrics tracks checkout attempts, retries and latency.
type CheckoutMetrics struct {
	outcomes *prometheus.CounterVec
	retries  prometheus.Counter
	duration prometheus.Histogram
}

// NewCheckoutMetrics registers the checkout collectors on reg. A nil registerer
// yields a no-op recorder.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outcomes_total",
		Help: "Checkout attempts by final outcome.",
	}, []string{"outcome"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_retries_total",
		Help: "Checkout transactions retried after a serialization conflict.",
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "End to end checkout latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(outcomes, retries, duration)
	return &CheckoutMetrics{outcomes: outcomes, retries: retries, duration: duration}
}

func (m *CheckoutMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *CheckoutMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

func (m *CheckoutMetrics) ObserveDuration(d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
