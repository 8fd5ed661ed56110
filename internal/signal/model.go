package signal

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type is the closed taxonomy of signal types producers may emit.
// External input is parsed once at the boundary via ParseType; internally
// the pipeline only ever handles Type values.
type Type string

const (
	TypeThreatDetected     Type = "threat_detected"
	TypeAnomalyDetected    Type = "anomaly_detected"
	TypePolicyViolation    Type = "policy_violation"
	TypePIIExposure        Type = "pii_exposure"
	TypeUnauthorizedAccess Type = "unauthorized_access"
	TypeEscalationRequired Type = "escalation_required"
	TypeResourceWarning    Type = "resource_warning"
	TypePerformanceIssue   Type = "performance_issue"
	TypeUserEscalation     Type = "user_escalation"
	TypeHumanOverride      Type = "human_override"
)

var validTypes = map[Type]bool{
	TypeThreatDetected:     true,
	TypeAnomalyDetected:    true,
	TypePolicyViolation:    true,
	TypePIIExposure:        true,
	TypeUnauthorizedAccess: true,
	TypeEscalationRequired: true,
	TypeResourceWarning:    true,
	TypePerformanceIssue:   true,
	TypeUserEscalation:     true,
	TypeHumanOverride:      true,
}

// ParseType converts an external string to a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !validTypes[t] {
		return "", fmt.Errorf("unknown signal type %q", s)
	}
	return t, nil
}

// Valid reports whether t is a member of the taxonomy.
func (t Type) Valid() bool { return validTypes[t] }

// Severity is the ordered severity scale for signals.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrdinals = map[Severity]int{
	SeverityInfo:     1,
	SeverityLow:      2,
	SeverityMedium:   3,
	SeverityHigh:     4,
	SeverityCritical: 5,
}

// ParseSeverity converts an external string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityOrdinals[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Valid reports whether s is one of the five severity values.
func (s Severity) Valid() bool {
	_, ok := severityOrdinals[s]
	return ok
}

// Ordinal returns the 1-5 position of s on the severity scale (info=1,
// critical=5), or 0 for an unknown value.
func (s Severity) Ordinal() int { return severityOrdinals[s] }

// SeverityFromOrdinal is the inverse of Ordinal. Out-of-range ordinals
// clamp to the nearest end of the scale.
func SeverityFromOrdinal(n int) Severity {
	switch {
	case n <= 1:
		return SeverityInfo
	case n == 2:
		return SeverityLow
	case n == 3:
		return SeverityMedium
	case n == 4:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// AtLeast reports whether s is at or above min on the severity scale.
func (s Severity) AtLeast(min Severity) bool {
	return severityOrdinals[s] >= severityOrdinals[min]
}

// Signal is the atomic unit flowing through the bus. Producers fill in
// Type, Severity, Source, Confidence and Data; New assigns ID and Time.
type Signal struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Severity   Severity       `json:"severity"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data,omitempty"`
	DedupKey   string         `json:"dedup_key,omitempty"`
	Time       time.Time      `json:"time"`
}

// New constructs a signal with a fresh ULID and the current time.
// ULIDs are timestamp-seeded, so IDs sort by emission time and collisions
// are negligible at expected signal rates.
func New(t Type, sev Severity, source string, confidence float64, data map[string]any) *Signal {
	return &Signal{
		ID:         ulid.Make().String(),
		Type:       t,
		Severity:   sev,
		Source:     source,
		Confidence: confidence,
		Data:       data,
		Time:       time.Now(),
	}
}

// Validate rejects malformed signals at the bus boundary rather than letting
// them propagate through the pipeline.
func (s *Signal) Validate() error {
	if !s.Type.Valid() {
		return fmt.Errorf("signal %s: unknown type %q", s.ID, s.Type)
	}
	if !s.Severity.Valid() {
		return fmt.Errorf("signal %s: unknown severity %q", s.ID, s.Severity)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s: confidence %v out of range [0,1]", s.ID, s.Confidence)
	}
	if s.Source == "" {
		return fmt.Errorf("signal %s: source is required", s.ID)
	}
	return nil
}

// RequiresHumanReview reports whether the signal's severity alone mandates
// a human in the loop.
func (s *Signal) RequiresHumanReview() bool {
	return s.Severity.AtLeast(SeverityHigh)
}
