package correlation

import "github.com/prometheus/client_golang/prometheus"

// Hooks decouples the engine from its metrics backend. Nil fields are
// skipped.
type Hooks struct {
	OnEvaluate func(ruleID string)
	OnTrigger  func(ruleID string)
}

func (h Hooks) onEvaluate(ruleID string) {
	if h.OnEvaluate != nil {
		h.OnEvaluate(ruleID)
	}
}

func (h Hooks) onTrigger(ruleID string) {
	if h.OnTrigger != nil {
		h.OnTrigger(ruleID)
	}
}

// Metrics holds Prometheus metrics for the correlation engine.
type Metrics struct {
	EvaluationsTotal *prometheus.CounterVec
	TriggersTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns correlation metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_correlation_evaluations_total",
			Help: "Signals evaluated against correlation rules, by rule.",
		}, []string{"rule"}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_correlation_triggers_total",
			Help: "Correlation rule firings, by rule.",
		}, []string{"rule"}),
	}

	reg.MustRegister(m.EvaluationsTotal, m.TriggersTotal)
	return m
}

// Hooks returns a Hooks that increments the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnEvaluate: func(ruleID string) { m.EvaluationsTotal.WithLabelValues(ruleID).Inc() },
		OnTrigger:  func(ruleID string) { m.TriggersTotal.WithLabelValues(ruleID).Inc() },
	}
}
