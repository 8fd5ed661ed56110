package signal

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Hooks decouples the bus from its metrics backend. Nil fields are skipped.
type Hooks struct {
	OnEmit       func(signalType, severity string)
	OnSuppressed func(signalType string)
	OnRejected   func()
	OnDispatch   func(subscriber string, duration time.Duration, failed bool)
}

func (h Hooks) onEmit(s *Signal) {
	if h.OnEmit != nil {
		h.OnEmit(string(s.Type), string(s.Severity))
	}
}

func (h Hooks) onSuppressed(s *Signal) {
	if h.OnSuppressed != nil {
		h.OnSuppressed(string(s.Type))
	}
}

func (h Hooks) onRejected() {
	if h.OnRejected != nil {
		h.OnRejected()
	}
}

func (h Hooks) onDispatch(subscriber string, d time.Duration, err error) {
	if h.OnDispatch != nil {
		h.OnDispatch(subscriber, d, err != nil)
	}
}

// Metrics holds Prometheus metrics for the signal bus.
type Metrics struct {
	SignalsTotal     *prometheus.CounterVec
	SuppressedTotal  *prometheus.CounterVec
	RejectedTotal    prometheus.Counter
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns bus metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_signals_total",
			Help: "Total signals accepted by the bus, by type and severity.",
		}, []string{"type", "severity"}),
		SuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_signals_suppressed_total",
			Help: "Signals suppressed by dedup, by type.",
		}, []string{"type"}),
		RejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_signals_rejected_total",
			Help: "Signals rejected at the bus boundary as malformed.",
		}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_signal_dispatch_total",
			Help: "Subscriber dispatches by subscriber and outcome.",
		}, []string{"subscriber", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_signal_dispatch_duration_seconds",
			Help:    "Duration of individual subscriber dispatches.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8), // 0.5ms .. ~8s
		}, []string{"subscriber"}),
	}

	reg.MustRegister(
		m.SignalsTotal,
		m.SuppressedTotal,
		m.RejectedTotal,
		m.DispatchTotal,
		m.DispatchDuration,
	)

	return m
}

// Hooks returns a Hooks that increments the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnEmit: func(signalType, severity string) {
			m.SignalsTotal.WithLabelValues(signalType, severity).Inc()
		},
		OnSuppressed: func(signalType string) {
			m.SuppressedTotal.WithLabelValues(signalType).Inc()
		},
		OnRejected: func() {
			m.RejectedTotal.Inc()
		},
		OnDispatch: func(subscriber string, duration time.Duration, failed bool) {
			outcome := "success"
			if failed {
				outcome = "error"
			}
			m.DispatchTotal.WithLabelValues(subscriber, outcome).Inc()
			m.DispatchDuration.WithLabelValues(subscriber).Observe(duration.Seconds())
		},
	}
}
