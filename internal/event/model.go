package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Severity bounds for the 1-5 ordinal scale used by unified events.
const (
	SeverityInfo     = 1
	SeverityLow      = 2
	SeverityMedium   = 3
	SeverityHigh     = 4
	SeverityCritical = 5
)

// Status tracks where an event is in its handling lifecycle.
type Status string

const (
	// StatusNew means ingested, nobody has looked at it.
	StatusNew Status = "new"

	// StatusAcknowledged means a human or automation has claimed it.
	StatusAcknowledged Status = "acknowledged"

	// StatusInvestigating means active investigation is underway.
	StatusInvestigating Status = "investigating"

	// StatusResolved is terminal: the event was handled.
	StatusResolved Status = "resolved"

	// StatusFalsePositive is terminal: the event was noise.
	StatusFalsePositive Status = "false_positive"
)

// statusRank orders the lifecycle. Transitions are forward-only; the two
// terminal states share a rank so neither can move to the other, and there
// is no reopen transition out of a terminal state.
var statusRank = map[Status]int{
	StatusNew:           1,
	StatusAcknowledged:  2,
	StatusInvestigating: 3,
	StatusResolved:      4,
	StatusFalsePositive: 4,
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// CanTransitionTo reports whether moving from s to next is a legal
// forward transition. Skipping intermediate states is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// ParseStatus converts an external string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown event status %q", s)
	}
	return st, nil
}

// Context identifies where an event came from and what it touches.
type Context struct {
	SourceModule    string   `json:"source_module"`
	SourceSystem    string   `json:"source_system,omitempty"`
	CorrelationID   string   `json:"correlation_id,omitempty"`
	ParentEventID   string   `json:"parent_event_id,omitempty"`
	User            string   `json:"user,omitempty"`
	Resource        string   `json:"resource,omitempty"`
	Asset           string   `json:"asset,omitempty"`
	MITRETechniques []string `json:"mitre_techniques,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// Payload carries the raw producer data alongside its normalized form.
type Payload struct {
	Raw        map[string]any    `json:"raw,omitempty"`
	Normalized map[string]any    `json:"normalized,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IntelMatch is a threat-intelligence hit attached during enrichment.
type IntelMatch struct {
	Indicator  string  `json:"indicator"`
	Kind       string  `json:"kind"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// GraphEdge is a relationship discovered between this event and another
// entity, consumed by the graph destination.
type GraphEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// Enrichment accumulates the output of the enrichment pipeline.
type Enrichment struct {
	At              time.Time    `json:"at,omitempty"`
	Sources         []string     `json:"sources,omitempty"`
	IntelMatches    []IntelMatch `json:"intel_matches,omitempty"`
	RelatedEventIDs []string     `json:"related_event_ids,omitempty"`
	GraphEdges      []GraphEdge  `json:"graph_edges,omitempty"`
}

// Event is the unified security event envelope used downstream of
// normalization. It is richer than a bus signal: it carries context,
// enrichment and scoring fields, and has a mutable lifecycle status.
type Event struct {
	ID       string    `json:"event_id"`
	Type     string    `json:"event_type"`
	Time     time.Time `json:"timestamp"`
	Severity int       `json:"severity"` // 1-5 ordinal
	Status   Status    `json:"status"`

	Context    Context    `json:"context"`
	Payload    Payload    `json:"payload"`
	Enrichment Enrichment `json:"enrichment"`

	Confidence         float64 `json:"confidence"`
	RiskScore          float64 `json:"risk_score"`
	FalsePositiveScore float64 `json:"false_positive_score"`

	RequiresInvestigation bool      `json:"requires_investigation"`
	AssignedTo            string    `json:"assigned_to,omitempty"`
	SLADeadline           time.Time `json:"sla_deadline,omitempty"`

	// InvestigatingAt is stamped when the event enters StatusInvestigating,
	// for time-to-investigate statistics.
	InvestigatingAt time.Time `json:"investigating_at,omitempty"`
}

// Validate rejects events with out-of-range fields.
func (e *Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event %s: type is required", e.ID)
	}
	if e.Severity < SeverityInfo || e.Severity > SeverityCritical {
		return fmt.Errorf("event %s: severity %d out of range [1,5]", e.ID, e.Severity)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("event %s: unknown status %q", e.ID, e.Status)
	}
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"confidence", e.Confidence},
		{"risk_score", e.RiskScore},
		{"false_positive_score", e.FalsePositiveScore},
	} {
		if v.val < 0 || v.val > 1 {
			return fmt.Errorf("event %s: %s %v out of range [0,1]", e.ID, v.name, v.val)
		}
	}
	return nil
}

// ContentID derives a stable event ID from timestamp, source and raw
// payload. Two byte-identical observations hash to the same ID.
func ContentID(ts time.Time, sourceModule string, raw map[string]any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|", ts.UnixNano(), sourceModule)
	h.Write(canonicalJSON(raw))
	return "evt-" + hex.EncodeToString(h.Sum(nil))[:24]
}

// PayloadFingerprint hashes the raw payload alone, used as part of the
// orchestrator's dedup key.
func PayloadFingerprint(raw map[string]any) string {
	sum := sha256.Sum256(canonicalJSON(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalJSON renders a map with sorted keys so hashes are stable across
// map iteration order.
func canonicalJSON(m map[string]any) []byte {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf []byte
	for _, k := range keys {
		v, err := json.Marshal(m[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%q", fmt.Sprint(m[k])))
		}
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, v...)
		buf = append(buf, ';')
	}
	return buf
}
