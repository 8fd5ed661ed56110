package correlation

import (
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/sentinel/internal/signal"
)

// Minimum bounds for rule configuration. Anything tighter degenerates into
// per-signal alerting, which is what the burst detector exists to avoid.
const (
	MinWindowSeconds   = 10
	MinCount           = 2
	MinCooldownSeconds = 10
)

// Rule is a configured burst detector: fire when at least MinCount signals
// of a watched type arrive inside a trailing window, at most once per
// cooldown interval.
type Rule struct {
	ID              string          `yaml:"id" json:"id"`
	Name            string          `yaml:"name" json:"name"`
	SignalTypes     []signal.Type   `yaml:"signal_types" json:"signal_types"`
	WindowSeconds   int             `yaml:"window_seconds" json:"window_seconds"`
	MinCount        int             `yaml:"min_count" json:"min_count"`
	CooldownSeconds int             `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	EmitType        signal.Type     `yaml:"emit_type" json:"emit_type"`
	EmitSeverity    signal.Severity `yaml:"emit_severity" json:"emit_severity"`
	EmitConfidence  float64         `yaml:"emit_confidence" json:"emit_confidence"`
	Enabled         bool            `yaml:"-" json:"enabled"`
}

// Window returns the rule's trailing window as a duration.
func (r *Rule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Cooldown returns the rule's cooldown as a duration.
func (r *Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// Validate rejects rule configurations that are out of bounds. Invalid
// rules are dropped at load time with a warning, never installed.
func (r *Rule) Validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("rule id is required"))
	}
	if len(r.SignalTypes) == 0 {
		errs = append(errs, fmt.Errorf("rule %s: signal_types is empty", r.ID))
	}
	for _, t := range r.SignalTypes {
		if !t.Valid() {
			errs = append(errs, fmt.Errorf("rule %s: unknown signal type %q", r.ID, t))
		}
	}
	if r.WindowSeconds < MinWindowSeconds {
		errs = append(errs, fmt.Errorf("rule %s: window_seconds %d below minimum %d", r.ID, r.WindowSeconds, MinWindowSeconds))
	}
	if r.MinCount < MinCount {
		errs = append(errs, fmt.Errorf("rule %s: min_count %d below minimum %d", r.ID, r.MinCount, MinCount))
	}
	if r.CooldownSeconds < MinCooldownSeconds {
		errs = append(errs, fmt.Errorf("rule %s: cooldown_seconds %d below minimum %d", r.ID, r.CooldownSeconds, MinCooldownSeconds))
	}
	if !r.EmitType.Valid() {
		errs = append(errs, fmt.Errorf("rule %s: unknown emit_type %q", r.ID, r.EmitType))
	}
	if !r.EmitSeverity.Valid() {
		errs = append(errs, fmt.Errorf("rule %s: unknown emit_severity %q", r.ID, r.EmitSeverity))
	}
	if r.EmitConfidence < 0 || r.EmitConfidence > 1 {
		errs = append(errs, fmt.Errorf("rule %s: emit_confidence %v out of range [0,1]", r.ID, r.EmitConfidence))
	}
	return errors.Join(errs...)
}

// DefaultRules are installed when no rules file is configured or the file
// is missing on cold start.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:              "anomaly-burst",
			Name:            "Repeated anomaly detections",
			SignalTypes:     []signal.Type{signal.TypeAnomalyDetected},
			WindowSeconds:   60,
			MinCount:        3,
			CooldownSeconds: 300,
			EmitType:        signal.TypeThreatDetected,
			EmitSeverity:    signal.SeverityHigh,
			EmitConfidence:  0.7,
			Enabled:         true,
		},
		{
			ID:              "access-bruteforce",
			Name:            "Unauthorized access burst",
			SignalTypes:     []signal.Type{signal.TypeUnauthorizedAccess},
			WindowSeconds:   300,
			MinCount:        5,
			CooldownSeconds: 600,
			EmitType:        signal.TypeThreatDetected,
			EmitSeverity:    signal.SeverityCritical,
			EmitConfidence:  0.85,
			Enabled:         true,
		},
		{
			ID:              "policy-repeat",
			Name:            "Repeated policy violations",
			SignalTypes:     []signal.Type{signal.TypePolicyViolation, signal.TypePIIExposure},
			WindowSeconds:   600,
			MinCount:        4,
			CooldownSeconds: 900,
			EmitType:        signal.TypeEscalationRequired,
			EmitSeverity:    signal.SeverityHigh,
			EmitConfidence:  0.75,
			Enabled:         true,
		},
	}
}
