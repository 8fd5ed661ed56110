package decision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sentinel/internal/signal"
)

// AbstentionSource identifies escalation signals emitted by the policy.
const AbstentionSource = "abstention_policy"

// Reason names the first threshold a decision input violated. Empty means
// the decision may proceed.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonLowConfidence       Reason = "low_confidence"
	ReasonHighUncertainty     Reason = "high_uncertainty"
	ReasonInsufficientSamples Reason = "insufficient_samples"
	ReasonHighDisagreement    Reason = "high_disagreement"
)

// AbstentionThresholds configures the policy gates.
type AbstentionThresholds struct {
	MinConfidence   float64 `json:"min_confidence"`
	MaxUncertainty  float64 `json:"max_uncertainty"`
	MinSamples      int     `json:"min_samples"`
	MaxDisagreement float64 `json:"max_disagreement"`
}

// DefaultAbstentionThresholds returns the built-in gate values.
func DefaultAbstentionThresholds() AbstentionThresholds {
	return AbstentionThresholds{
		MinConfidence:   0.65,
		MaxUncertainty:  0.35,
		MinSamples:      5,
		MaxDisagreement: 0.20,
	}
}

// Validate rejects thresholds outside their meaningful ranges.
func (t AbstentionThresholds) Validate() error {
	var errs []error
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_confidence %v outside [0,1]", t.MinConfidence))
	}
	if t.MaxUncertainty < 0 || t.MaxUncertainty > 1 {
		errs = append(errs, fmt.Errorf("max_uncertainty %v outside [0,1]", t.MaxUncertainty))
	}
	if t.MinSamples < 0 {
		errs = append(errs, fmt.Errorf("min_samples %d negative", t.MinSamples))
	}
	if t.MaxDisagreement < 0 || t.MaxDisagreement > 1 {
		errs = append(errs, fmt.Errorf("max_disagreement %v outside [0,1]", t.MaxDisagreement))
	}
	return errors.Join(errs...)
}

// Input is one autonomous decision submitted to the policy.
type Input struct {
	Confidence   float64
	Uncertainty  float64
	SampleCount  int
	Disagreement float64
}

// Emitter is the slice of the bus the policy escalates through.
type Emitter interface {
	Emit(ctx context.Context, s *signal.Signal) (bool, error)
}

// AbstentionPolicy is the second, independent gate an autonomous actor must
// pass even after tiering approves autonomy. It protects against
// confidently-wrong low-sample decisions.
type AbstentionPolicy struct {
	thresholds AbstentionThresholds
	bus        Emitter
	logger     log.Logger
	hooks      Hooks

	mu     sync.Mutex
	counts map[string]int
}

// NewAbstentionPolicy validates thresholds and constructs the policy.
func NewAbstentionPolicy(thresholds AbstentionThresholds, bus Emitter, logger log.Logger, hooks Hooks) (*AbstentionPolicy, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("abstention thresholds: %w", err)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &AbstentionPolicy{
		thresholds: thresholds,
		bus:        bus,
		logger:     logger.With("component", "abstention_policy"),
		hooks:      hooks,
		counts:     make(map[string]int),
	}, nil
}

// Check evaluates the gates in priority order without side effects and
// returns the first violated one.
func (p *AbstentionPolicy) Check(in Input) Reason {
	switch {
	case in.Confidence < p.thresholds.MinConfidence:
		return ReasonLowConfidence
	case in.Uncertainty > p.thresholds.MaxUncertainty:
		return ReasonHighUncertainty
	case in.SampleCount < p.thresholds.MinSamples:
		return ReasonInsufficientSamples
	case in.Disagreement > p.thresholds.MaxDisagreement:
		return ReasonHighDisagreement
	default:
		return ReasonNone
	}
}

// ShouldAbstain evaluates a decision from the named system. On abstention
// it increments the system's counter and emits an escalation_required
// signal; ReasonNone means the decision may proceed.
func (p *AbstentionPolicy) ShouldAbstain(ctx context.Context, system string, in Input) Reason {
	reason := p.Check(in)
	if reason == ReasonNone {
		return ReasonNone
	}

	p.mu.Lock()
	p.counts[system]++
	count := p.counts[system]
	p.mu.Unlock()

	p.hooks.onAbstain(system, string(reason))
	p.logger.Info(ctx, "autonomous decision abstained",
		"system", system,
		"reason", reason,
		"confidence", in.Confidence,
		"uncertainty", in.Uncertainty,
		"sample_count", in.SampleCount,
		"disagreement", in.Disagreement,
		"abstention_count", count,
	)

	esc := signal.New(signal.TypeEscalationRequired, signal.SeverityHigh, AbstentionSource, in.Confidence, map[string]any{
		"system":       system,
		"reason":       string(reason),
		"sample_count": in.SampleCount,
		"uncertainty":  in.Uncertainty,
		"disagreement": in.Disagreement,
	})
	if p.bus != nil {
		if _, err := p.bus.Emit(ctx, esc); err != nil {
			p.logger.Error(ctx, err, "failed to emit abstention escalation", "system", system)
		}
	}
	return reason
}

// AbstentionRate reports a bounded ratio of abstentions for a system:
// min(count/100, 1.0). It is not a true frequency over a rolling
// population; downstream thresholds are tuned against this formula.
func (p *AbstentionPolicy) AbstentionRate(system string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return math.Min(float64(p.counts[system])/100, 1)
}

// Count returns the raw abstention counter for a system.
func (p *AbstentionPolicy) Count(system string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[system]
}
