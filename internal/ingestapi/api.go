// Package ingestapi exposes the signal pipeline over HTTP: signal
// ingestion, event queries and lifecycle updates, and the escalation feed.
package ingestapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sentinel/internal/escalation"
	"github.com/linnemanlabs/sentinel/internal/event"
	"github.com/linnemanlabs/sentinel/internal/signal"
)

// SignalBus defines the bus operations the API needs.
type SignalBus interface {
	Emit(ctx context.Context, s *signal.Signal) (bool, error)
	Recent(t signal.Type, limit int) []*signal.Signal
	GetStats() signal.Stats
}

// EventService defines the event-log operations the API needs.
type EventService interface {
	Get(ctx context.Context, id string) (*event.Event, bool, error)
	Query(ctx context.Context, f event.Filter) ([]*event.Event, error)
	UpdateStatus(ctx context.Context, id string, next event.Status) (*event.Event, error)
	GetStatistics(ctx context.Context) (*event.Statistics, error)
}

// EscalationLog is the analyst-facing escalation feed.
type EscalationLog interface {
	Recent(limit int) []*escalation.Record
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger      log.Logger
	bus         SignalBus
	events      EventService
	escalations EscalationLog
}

// New creates a new API handler.
func New(logger log.Logger, bus SignalBus, events EventService, escalations EscalationLog) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if bus == nil {
		panic(xerrors.New("signal bus is required"))
	}
	if events == nil {
		panic(xerrors.New("event service is required"))
	}
	return &API{
		logger:      logger,
		bus:         bus,
		events:      events,
		escalations: escalations,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/signals", a.handleEmitSignal)
		r.Get("/signals/recent", a.handleRecentSignals)
		r.Get("/signals/stats", a.handleSignalStats)

		r.Get("/events", a.handleListEvents)
		r.Get("/events/stats", a.handleEventStats)
		r.Get("/events/{id}", a.handleGetEvent)
		r.Post("/events/{id}/status", a.handleUpdateEventStatus)

		r.Get("/escalations", a.handleListEscalations)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonEncode(w, v)
}
