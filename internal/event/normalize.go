package event

import (
	"fmt"
	"time"
)

// SourceDefaults is the fixed severity/confidence a source's events receive.
// The normalizer never derives these from payload content; producers that
// need different values must emit through a source configured for them.
type SourceDefaults struct {
	EventType  string
	Severity   int // 1-5
	Confidence float64
}

// genericDefaults is used for unknown sources.
var genericDefaults = SourceDefaults{
	EventType:  "generic_event",
	Severity:   SeverityLow,
	Confidence: 0.3,
}

// Normalizer maps raw, source-specific payloads into unified events. It is a
// pure mapping with no side effects; the only failure mode for an unknown
// source is a generic low-severity event.
type Normalizer struct {
	defaults map[string]SourceDefaults
}

// NewNormalizer builds a normalizer with per-source defaults. Entries with
// out-of-range severity or confidence are dropped and reported so a config
// typo surfaces as a warning rather than silent misclassification.
func NewNormalizer(defaults map[string]SourceDefaults) (*Normalizer, []error) {
	n := &Normalizer{defaults: make(map[string]SourceDefaults, len(defaults))}
	var rejected []error
	for src, d := range defaults {
		if d.Severity < SeverityInfo || d.Severity > SeverityCritical {
			rejected = append(rejected, fmt.Errorf("source %q: severity %d out of range [1,5]", src, d.Severity))
			continue
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			rejected = append(rejected, fmt.Errorf("source %q: confidence %v out of range [0,1]", src, d.Confidence))
			continue
		}
		if d.EventType == "" {
			d.EventType = "generic_event"
		}
		n.defaults[src] = d
	}
	return n, rejected
}

// Normalize converts a raw payload from the named source module into a
// unified event. The event ID is content-derived unless the payload carries
// an explicit "event_id".
func (n *Normalizer) Normalize(sourceModule string, raw map[string]any) *Event {
	now := time.Now()

	d, known := n.defaults[sourceModule]
	if !known {
		d = genericDefaults
	}

	e := &Event{
		Type:     d.EventType,
		Time:     now,
		Severity: d.Severity,
		Status:   StatusNew,
		Context: Context{
			SourceModule: sourceModule,
		},
		Payload: Payload{
			Raw:        raw,
			Normalized: make(map[string]any),
		},
		Confidence: d.Confidence,
	}

	if id, ok := stringField(raw, "event_id"); ok {
		e.ID = id
	} else {
		e.ID = ContentID(now, sourceModule, raw)
	}

	n.extract(e, raw)

	e.RequiresInvestigation = e.Severity >= SeverityHigh
	return e
}

// extract lifts well-known fields out of heterogeneous payloads into the
// normalized map and context. Chat-platform audit entries carry actor/action/
// target; external feed alerts carry indicator/feed; everything else passes
// through untouched in Raw.
func (n *Normalizer) extract(e *Event, raw map[string]any) {
	// chat-platform audit entry shape
	if actor, ok := stringField(raw, "actor"); ok {
		e.Context.User = actor
		e.Payload.Normalized["actor"] = actor
		if action, ok := stringField(raw, "action"); ok {
			e.Payload.Normalized["action"] = action
		}
		if target, ok := stringField(raw, "target"); ok {
			e.Context.Resource = target
			e.Payload.Normalized["target"] = target
		}
		if channel, ok := stringField(raw, "channel"); ok {
			e.Payload.Normalized["channel"] = channel
		}
		return
	}

	// external threat-feed alert shape
	if indicator, ok := stringField(raw, "indicator"); ok {
		e.Payload.Normalized["indicator"] = indicator
		if feed, ok := stringField(raw, "feed"); ok {
			e.Context.SourceSystem = feed
			e.Payload.Normalized["feed"] = feed
		}
		if title, ok := stringField(raw, "title"); ok {
			e.Payload.Normalized["title"] = title
		}
		return
	}

	// generic API payload: carry over common identity fields if present
	if user, ok := stringField(raw, "user"); ok {
		e.Context.User = user
	}
	if resource, ok := stringField(raw, "resource"); ok {
		e.Context.Resource = resource
	}
	if asset, ok := stringField(raw, "asset"); ok {
		e.Context.Asset = asset
	}
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
