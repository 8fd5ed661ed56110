// Package decision maps severity and confidence to one of four response
// tiers and gates autonomous action behind an independent abstention policy.
package decision

import (
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/sentinel/internal/signal"
)

// Tier is an ordinal response tier. Lower tiers are more severe: tier 1
// always requires a human, tier 4 is fully automated with no SLA.
type Tier int

const (
	TierCriticalHuman    Tier = 1
	TierHighGated        Tier = 2
	TierMediumAutonomous Tier = 3
	TierLowAutomated     Tier = 4
)

// TierConfig is one row of the tiering table.
type TierConfig struct {
	Tier                 Tier            `json:"tier"`
	MinSeverity          signal.Severity `json:"min_severity"`
	RequiresHuman        bool            `json:"requires_human"`
	AutoAction           bool            `json:"auto_action"`
	ConfidenceThreshold  float64         `json:"confidence_threshold"`
	EscalationSLAMinutes int             `json:"escalation_sla_minutes"`
}

// DefaultTiers returns the built-in tiering table.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Tier: TierCriticalHuman, MinSeverity: signal.SeverityCritical, RequiresHuman: true, AutoAction: false, EscalationSLAMinutes: 15},
		{Tier: TierHighGated, MinSeverity: signal.SeverityHigh, RequiresHuman: false, AutoAction: true, ConfidenceThreshold: 0.8, EscalationSLAMinutes: 60},
		{Tier: TierMediumAutonomous, MinSeverity: signal.SeverityMedium, RequiresHuman: false, AutoAction: true, ConfidenceThreshold: 0.7, EscalationSLAMinutes: 240},
		{Tier: TierLowAutomated, MinSeverity: signal.SeverityInfo, RequiresHuman: false, AutoAction: true, ConfidenceThreshold: 0, EscalationSLAMinutes: 0},
	}
}

// Tiers resolves severities against a validated tiering table.
type Tiers struct {
	byTier map[Tier]TierConfig
}

// NewTiers validates the table and returns a resolver. The table must hold
// exactly tiers 1 through 4 with no duplicates, and every threshold must be
// in [0, 1].
func NewTiers(table []TierConfig) (*Tiers, error) {
	var errs []error
	byTier := make(map[Tier]TierConfig, len(table))
	for _, tc := range table {
		if tc.Tier < TierCriticalHuman || tc.Tier > TierLowAutomated {
			errs = append(errs, fmt.Errorf("tier %d: out of range", tc.Tier))
			continue
		}
		if _, dup := byTier[tc.Tier]; dup {
			errs = append(errs, fmt.Errorf("tier %d: duplicate row", tc.Tier))
			continue
		}
		if tc.ConfidenceThreshold < 0 || tc.ConfidenceThreshold > 1 {
			errs = append(errs, fmt.Errorf("tier %d: confidence_threshold %v outside [0,1]", tc.Tier, tc.ConfidenceThreshold))
		}
		if tc.EscalationSLAMinutes < 0 {
			errs = append(errs, fmt.Errorf("tier %d: negative escalation_sla_minutes", tc.Tier))
		}
		if tc.RequiresHuman && tc.AutoAction {
			errs = append(errs, fmt.Errorf("tier %d: requires_human and auto_action are mutually exclusive", tc.Tier))
		}
		byTier[tc.Tier] = tc
	}
	for t := TierCriticalHuman; t <= TierLowAutomated; t++ {
		if _, ok := byTier[t]; !ok {
			errs = append(errs, fmt.Errorf("tier %d: missing row", t))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Tiers{byTier: byTier}, nil
}

// TierFor maps severity to a tier. It is a pure function of severity alone;
// confidence plays no part in tier resolution.
func TierFor(severity signal.Severity) Tier {
	switch severity {
	case signal.SeverityCritical:
		return TierCriticalHuman
	case signal.SeverityHigh:
		return TierHighGated
	case signal.SeverityMedium:
		return TierMediumAutonomous
	default:
		return TierLowAutomated
	}
}

// Config returns the table row for a tier.
func (t *Tiers) Config(tier Tier) TierConfig {
	return t.byTier[tier]
}

// CanAutoRemediate reports whether an event of the given severity and
// confidence may be acted on without a human. A tier that requires a human
// blocks autonomy regardless of confidence.
func (t *Tiers) CanAutoRemediate(severity signal.Severity, confidence float64) bool {
	tc := t.byTier[TierFor(severity)]
	if tc.RequiresHuman {
		return false
	}
	return tc.AutoAction && confidence >= tc.ConfidenceThreshold
}

// EscalationSLA returns the response deadline for the resolved tier, or
// (0, false) for tiers with no SLA.
func (t *Tiers) EscalationSLA(severity signal.Severity) (time.Duration, bool) {
	tc := t.byTier[TierFor(severity)]
	if tc.EscalationSLAMinutes <= 0 {
		return 0, false
	}
	return time.Duration(tc.EscalationSLAMinutes) * time.Minute, true
}
