package decision

import "github.com/prometheus/client_golang/prometheus"

// Hooks decouples the package from its metrics backend. Nil fields are
// skipped.
type Hooks struct {
	OnAbstain func(system, reason string)
}

func (h Hooks) onAbstain(system, reason string) {
	if h.OnAbstain != nil {
		h.OnAbstain(system, reason)
	}
}

// Metrics holds Prometheus metrics for decision gating.
type Metrics struct {
	AbstentionsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns decision metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AbstentionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_abstentions_total",
			Help: "Autonomous decisions that abstained, by system and reason.",
		}, []string{"system", "reason"}),
	}

	reg.MustRegister(m.AbstentionsTotal)
	return m
}

// Hooks returns a Hooks that increments the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnAbstain: func(system, reason string) {
			m.AbstentionsTotal.WithLabelValues(system, reason).Inc()
		},
	}
}
