package ingestapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sentinel/internal/signal"
)

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// emitRequest is the external signal submission payload. Type and severity
// arrive as strings and are parsed exactly once, here at the boundary.
type emitRequest struct {
	Type       string         `json:"type"`
	Severity   string         `json:"severity"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data"`
	DedupKey   string         `json:"dedup_key"`
}

func (a *API) handleEmitSignal(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	typ, err := signal.ParseType(req.Type)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	sev, err := signal.ParseSeverity(req.Severity)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	s := signal.New(typ, sev, req.Source, req.Confidence, req.Data)
	s.DedupKey = req.DedupKey

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("sentinel.signal.id", s.ID),
		attribute.String("sentinel.signal.type", string(s.Type)),
		attribute.String("sentinel.signal.severity", string(s.Severity)),
	)

	delivered, err := a.bus.Emit(r.Context(), s)
	if err != nil {
		a.logger.Info(r.Context(), "signal rejected", "error", err, "source", req.Source)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":       s.ID,
		"accepted": delivered, // false means suppressed as a duplicate
	})
}

func (a *API) handleRecentSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var typ signal.Type
	if raw := q.Get("type"); raw != "" {
		t, err := signal.ParseType(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		typ = t
	}

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	signals := a.bus.Recent(typ, limit)
	if signals == nil {
		signals = []*signal.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals})
}

func (a *API) handleSignalStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.bus.GetStats())
}
