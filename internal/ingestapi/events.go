package ingestapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/sentinel/internal/escalation"
	"github.com/linnemanlabs/sentinel/internal/event"
)

const maxListLimit = 1000

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	events, err := a.events.Query(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list events")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sentinel.event.id", id))

	e, ok, err := a.events.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get event", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("sentinel.event.status", string(e.Status)))
	writeJSON(w, http.StatusOK, e)
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

func (a *API) handleUpdateEventStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	next, err := event.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("sentinel.event.id", id),
		attribute.String("sentinel.event.next_status", string(next)),
	)

	e, err := a.events.UpdateStatus(r.Context(), id, next)
	if err != nil {
		// not-found and illegal transitions both surface as a conflict with
		// the current state rather than a server fault
		a.logger.Info(r.Context(), "status update refused", "id", id, "next", next, "error", err)
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) handleEventStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.events.GetStatistics(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to compute event statistics")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	if a.escalations == nil {
		http.Error(w, `{"error":"escalation feed not configured"}`, http.StatusNotFound)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	recs := a.escalations.Recent(limit)
	if recs == nil {
		recs = []*escalation.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": recs})
}

func filterFromQuery(r *http.Request) (event.Filter, error) {
	q := r.URL.Query()
	f := event.Filter{
		Type:     q.Get("type"),
		User:     q.Get("user"),
		Resource: q.Get("resource"),
		Limit:    100,
	}

	if raw := q.Get("min_severity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < event.SeverityInfo || n > event.SeverityCritical {
			return f, errors.New("min_severity must be an integer in [1,5]")
		}
		f.MinSeverity = n
	}
	if raw := q.Get("status"); raw != "" {
		st, err := event.ParseStatus(raw)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	if raw := q.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.New("since must be RFC 3339")
		}
		f.Since = ts
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			return f, errors.New("limit must be in [1,1000]")
		}
		f.Limit = n
	}
	return f, nil
}
