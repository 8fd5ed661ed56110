package escalation

import "github.com/prometheus/client_golang/prometheus"

// Hooks decouples the service from its metrics backend. Nil fields are
// skipped.
type Hooks struct {
	OnEscalation   func(origin, severity string)
	OnSummaryError func()
	OnNotifyError  func()
}

func (h Hooks) onEscalation(origin, severity string) {
	if h.OnEscalation != nil {
		h.OnEscalation(origin, severity)
	}
}

func (h Hooks) onSummaryError() {
	if h.OnSummaryError != nil {
		h.OnSummaryError()
	}
}

func (h Hooks) onNotifyError() {
	if h.OnNotifyError != nil {
		h.OnNotifyError()
	}
}

// Metrics holds Prometheus metrics for the escalation service.
type Metrics struct {
	EscalationsTotal   *prometheus.CounterVec
	SummaryErrorsTotal prometheus.Counter
	NotifyErrorsTotal  prometheus.Counter
}

// NewMetrics registers and returns escalation metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_escalations_total",
			Help: "Escalations recorded for analysts, by origin and severity.",
		}, []string{"origin", "severity"}),
		SummaryErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_escalation_summary_errors_total",
			Help: "Failed incident summary generations.",
		}),
		NotifyErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_escalation_notify_errors_total",
			Help: "Failed escalation notifications.",
		}),
	}

	reg.MustRegister(m.EscalationsTotal, m.SummaryErrorsTotal, m.NotifyErrorsTotal)
	return m
}

// Hooks returns a Hooks that records the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnEscalation: func(origin, severity string) {
			m.EscalationsTotal.WithLabelValues(origin, severity).Inc()
		},
		OnSummaryError: func() { m.SummaryErrorsTotal.Inc() },
		OnNotifyError:  func() { m.NotifyErrorsTotal.Inc() },
	}
}
