package event

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrchestratorHooks decouples the orchestrator from its metrics backend.
// Nil fields are skipped.
type OrchestratorHooks struct {
	OnProcessed    func(eventType string, severity int)
	OnDuplicate    func(eventType string)
	OnHandlerError func(stage, handler string)
	OnStoreError   func()
}

func (h OrchestratorHooks) onProcessed(eventType string, severity int) {
	if h.OnProcessed != nil {
		h.OnProcessed(eventType, severity)
	}
}

func (h OrchestratorHooks) onDuplicate(eventType string) {
	if h.OnDuplicate != nil {
		h.OnDuplicate(eventType)
	}
}

func (h OrchestratorHooks) onHandlerError(stage, handler string) {
	if h.OnHandlerError != nil {
		h.OnHandlerError(stage, handler)
	}
}

func (h OrchestratorHooks) onStoreError() {
	if h.OnStoreError != nil {
		h.OnStoreError()
	}
}

// RouterHooks decouples the router from its metrics backend.
type RouterHooks struct {
	OnRoute    func(severity, destinations int, dropped bool)
	OnDispatch func(destination, subscriber string, duration time.Duration, failed bool)
}

func (h RouterHooks) onRoute(severity, destinations int, dropped bool) {
	if h.OnRoute != nil {
		h.OnRoute(severity, destinations, dropped)
	}
}

func (h RouterHooks) onDispatch(destination, subscriber string, d time.Duration, failed bool) {
	if h.OnDispatch != nil {
		h.OnDispatch(destination, subscriber, d, failed)
	}
}

// Metrics holds Prometheus metrics for the event layer.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	DuplicatesTotal  *prometheus.CounterVec
	HandlerErrors    *prometheus.CounterVec
	StoreErrors      prometheus.Counter
	RoutedTotal      prometheus.Counter
	DroppedTotal     prometheus.Counter
	RouteDispatch    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns event-layer metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_total",
			Help: "Unified events accepted by the orchestrator, by type and severity.",
		}, []string{"type", "severity"}),
		DuplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_events_duplicate_total",
			Help: "Events swallowed by orchestrator-level dedup, by type.",
		}, []string{"type"}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_event_handler_errors_total",
			Help: "Event handler failures by stage and handler.",
		}, []string{"stage", "handler"}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_event_store_errors_total",
			Help: "Best-effort event store write failures.",
		}),
		RoutedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_events_routed_total",
			Help: "Events dispatched through the router.",
		}),
		DroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_events_route_dropped_total",
			Help: "Events that reached no subscriber on any destination.",
		}),
		RouteDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_route_dispatch_total",
			Help: "Route subscriber dispatches by destination, subscriber and outcome.",
		}, []string{"destination", "subscriber", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_route_dispatch_duration_seconds",
			Help:    "Duration of route subscriber dispatches.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8), // 0.5ms .. ~8s
		}, []string{"destination"}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.DuplicatesTotal,
		m.HandlerErrors,
		m.StoreErrors,
		m.RoutedTotal,
		m.DroppedTotal,
		m.RouteDispatch,
		m.DispatchDuration,
	)

	return m
}

// OrchestratorHooks returns hooks that increment the corresponding metrics.
func (m *Metrics) OrchestratorHooks() OrchestratorHooks {
	return OrchestratorHooks{
		OnProcessed: func(eventType string, severity int) {
			m.EventsTotal.WithLabelValues(eventType, severityLabel(severity)).Inc()
		},
		OnDuplicate: func(eventType string) {
			m.DuplicatesTotal.WithLabelValues(eventType).Inc()
		},
		OnHandlerError: func(stage, handler string) {
			m.HandlerErrors.WithLabelValues(stage, handler).Inc()
		},
		OnStoreError: func() {
			m.StoreErrors.Inc()
		},
	}
}

// RouterHooks returns hooks that increment the corresponding metrics.
func (m *Metrics) RouterHooks() RouterHooks {
	return RouterHooks{
		OnRoute: func(_, _ int, dropped bool) {
			m.RoutedTotal.Inc()
			if dropped {
				m.DroppedTotal.Inc()
			}
		},
		OnDispatch: func(destination, subscriber string, duration time.Duration, failed bool) {
			outcome := "success"
			if failed {
				outcome = "error"
			}
			m.RouteDispatch.WithLabelValues(destination, subscriber, outcome).Inc()
			m.DispatchDuration.WithLabelValues(destination).Observe(duration.Seconds())
		},
	}
}

func severityLabel(severity int) string {
	switch severity {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}
