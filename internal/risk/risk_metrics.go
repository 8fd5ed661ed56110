package risk

import "github.com/prometheus/client_golang/prometheus"

// Hooks decouples the scorer from its metrics backend. Nil fields are
// skipped.
type Hooks struct {
	OnScore      func(signalType string, score float64, level string)
	OnEscalation func()
}

func (h Hooks) onScore(signalType string, score float64, level string) {
	if h.OnScore != nil {
		h.OnScore(signalType, score, level)
	}
}

func (h Hooks) onEscalation() {
	if h.OnEscalation != nil {
		h.OnEscalation()
	}
}

// Metrics holds Prometheus metrics for the risk scorer.
type Metrics struct {
	Scores           *prometheus.HistogramVec
	LevelsTotal      *prometheus.CounterVec
	EscalationsTotal prometheus.Counter
}

// NewMetrics registers and returns risk metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_risk_score",
			Help:    "Risk scores assigned to signals, by signal type.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 85, 100},
		}, []string{"type"}),
		LevelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_risk_levels_total",
			Help: "Scored signals by resulting risk level.",
		}, []string{"level"}),
		EscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_risk_escalations_total",
			Help: "Escalation signals emitted by the risk scorer.",
		}),
	}

	reg.MustRegister(m.Scores, m.LevelsTotal, m.EscalationsTotal)
	return m
}

// Hooks returns a Hooks that records the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnScore: func(signalType string, score float64, level string) {
			m.Scores.WithLabelValues(signalType).Observe(score)
			m.LevelsTotal.WithLabelValues(level).Inc()
		},
		OnEscalation: func() { m.EscalationsTotal.Inc() },
	}
}
