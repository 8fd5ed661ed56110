// Package risk computes a bounded 0-100 risk score per signal from
// severity, confidence, signal-type weight, short-term source frequency and
// threat-intel cross-references, and feeds critical scores back onto the
// bus as escalation signals.
package risk

import (
	"context"
	"math"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sentinel/internal/signal"
)

// Source identifies signals emitted by the scorer. Signals from this source
// are never scored; that exclusion is the invariant that keeps the feedback
// edge from recursing.
const Source = "risk_scorer"

// EscalationThreshold is the score at or above which the scorer emits an
// escalation_required signal back onto the bus.
const EscalationThreshold = 85

// frequencyWindow is the trailing interval for the repeat-offender bonus.
const frequencyWindow = time.Hour

// Level buckets a score for human consumption.
type Level string

const (
	LevelCritical Level = "critical" // >= 85
	LevelHigh     Level = "high"     // >= 70
	LevelMedium   Level = "medium"   // >= 40
	LevelLow      Level = "low"
)

// LevelFor buckets a raw score.
func LevelFor(score float64) Level {
	switch {
	case score >= 85:
		return LevelCritical
	case score >= 70:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	default:
		return LevelLow
	}
}

var severityBase = map[signal.Severity]float64{
	signal.SeverityCritical: 25,
	signal.SeverityHigh:     20,
	signal.SeverityMedium:   10,
	signal.SeverityLow:      5,
}

var typeBonus = map[signal.Type]float64{
	signal.TypeUnauthorizedAccess: 20,
	signal.TypeThreatDetected:     15,
	signal.TypeAnomalyDetected:    15,
	signal.TypeEscalationRequired: 10,
	signal.TypePolicyViolation:    5,
}

// History is the slice of the bus the scorer reads for frequency counting.
type History interface {
	CountSince(source string, cutoff time.Time) int
}

// Emitter is the slice of the bus the scorer writes escalations to.
type Emitter interface {
	Emit(ctx context.Context, s *signal.Signal) (bool, error)
}

// Assessment is the scorer's output for one signal.
type Assessment struct {
	Score     float64 `json:"score"`
	Level     Level   `json:"level"`
	Escalated bool    `json:"escalated"`
}

// Scorer scores signals and emits escalation feedback. Score itself is a
// deterministic function of the signal and the prior-occurrence count.
type Scorer struct {
	history History
	bus     Emitter
	logger  log.Logger
	hooks   Hooks
}

// NewScorer constructs a scorer over the bus's history and emit surfaces.
func NewScorer(history History, bus Emitter, logger log.Logger, hooks Hooks) *Scorer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Scorer{
		history: history,
		bus:     bus,
		logger:  logger.With("component", "risk_scorer"),
		hooks:   hooks,
	}
}

// Attach subscribes the scorer to every signal on the bus.
func (s *Scorer) Attach(bus interface {
	SubscribeAll(name string, fn signal.Handler) int
}) {
	bus.SubscribeAll("risk_scorer", s.Observe)
}

// Score computes the deterministic 0-100 score for a signal given the
// number of prior signals from the same source in the trailing hour.
func Score(sig *signal.Signal, priorFromSource int) float64 {
	score := severityBase[sig.Severity]
	score += sig.Confidence * 35
	score += typeBonus[sig.Type]
	score += frequencyBonus(priorFromSource)
	score += crossRefBonus(sig)
	return math.Min(100, math.Max(0, score))
}

// frequencyBonus rewards repeat offenders: 10 points scaled by how many
// signals the same source produced in the trailing hour.
func frequencyBonus(prior int) float64 {
	switch {
	case prior >= 5:
		return 10
	case prior >= 3:
		return 7
	case prior >= 1:
		return 3
	default:
		return 0
	}
}

// crossRefBonus adds up to 15 points when the signal carries threat-intel
// correlation markers, 5 per matched indicator.
func crossRefBonus(sig *signal.Signal) float64 {
	matches := 0
	switch v := sig.Data["ioc_matches"].(type) {
	case int:
		matches = v
	case float64:
		matches = int(v)
	case []any:
		matches = len(v)
	case []string:
		matches = len(v)
	}
	if matches == 0 {
		if marker, ok := sig.Data["enrichment"].(string); ok && marker == "threat_intel_correlation" {
			matches = 1
		}
	}
	return math.Min(15, float64(matches)*5)
}

// Observe scores one bus signal. Scorer-originated signals are skipped
// outright; everything else is assessed, and a score at or above the
// escalation threshold synchronously emits an escalation_required signal
// with this package's source.
func (s *Scorer) Observe(ctx context.Context, sig *signal.Signal) error {
	if sig.Source == Source {
		return nil
	}

	a := s.Assess(sig)
	s.hooks.onScore(string(sig.Type), a.Score, string(a.Level))

	if a.Score < EscalationThreshold {
		return nil
	}
	a.Escalated = true

	esc := signal.New(signal.TypeEscalationRequired, signal.SeverityCritical, Source, sig.Confidence, map[string]any{
		"risk_score":      a.Score,
		"risk_level":      string(a.Level),
		"original_id":     sig.ID,
		"original_type":   string(sig.Type),
		"original_source": sig.Source,
	})
	// one escalation per offending source+type inside the bus dedup window
	// is enough; the analyst sees the risk score on the first one
	esc.DedupKey = "risk:" + sig.Source + ":" + string(sig.Type)

	s.hooks.onEscalation()
	s.logger.Info(ctx, "risk threshold crossed, escalating",
		"score", a.Score,
		"original_id", sig.ID,
		"original_type", sig.Type,
		"original_source", sig.Source,
	)

	if _, err := s.bus.Emit(ctx, esc); err != nil {
		s.logger.Error(ctx, err, "failed to emit escalation signal", "original_id", sig.ID)
	}
	return nil
}

// Assess computes the assessment for a signal without side effects.
func (s *Scorer) Assess(sig *signal.Signal) Assessment {
	prior := 0
	if s.history != nil {
		// history already contains this signal by the time subscribers
		// run, so the count is reduced by one to get priors
		n := s.history.CountSince(sig.Source, time.Now().Add(-frequencyWindow))
		if n > 0 {
			prior = n - 1
		}
	}
	score := Score(sig, prior)
	return Assessment{Score: score, Level: LevelFor(score)}
}
