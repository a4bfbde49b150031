package metrics

import "github.com/prometheus/client_golang/prometheus"

// Cart mutation labels.
const (
	CartAdd    = "add"
	CartUpdate = "update"
	CartRemove = "remove"
)

// CartMetrics counts cart mutations by operation and result.
type CartMetrics struct {
	mutations *prometheus.CounterVec
}

func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Cart mutations by operation and result.",
	}, []string{"op", "result"})
	reg.MustRegister(mutations)
	return &CartMetrics{mutations: mutations}
}

// IncMutation records one cart mutation. result is "ok" or an error code.
func (m *CartMetrics) IncMutation(op, result string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}
