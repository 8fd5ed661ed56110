// Package correlation detects bursts of signal types that individually
// would not warrant escalation but collectively indicate a coordinated
// event. Rules watch the bus through a sliding time window and emit a
// synthesized higher-level signal when their threshold is crossed, subject
// to a per-rule cooldown.
package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sentinel/internal/signal"
)

// Source identifies signals synthesized by the engine. The engine never
// evaluates its own emissions, so rules cannot chain into a feedback loop.
const Source = "correlation_engine"

// Emitter is the slice of the bus the engine needs.
type Emitter interface {
	Emit(ctx context.Context, s *signal.Signal) (bool, error)
}

// ruleState pairs a rule with its sliding window of arrival timestamps.
type ruleState struct {
	rule          Rule
	arrivals      []time.Time
	lastTriggered time.Time
}

// Engine evaluates every bus signal against the installed rules.
type Engine struct {
	mu     sync.Mutex
	rules  []*ruleState
	bus    Emitter
	logger log.Logger
	hooks  Hooks
}

// NewEngine installs the given rules. Invalid rules are skipped with a
// warning rather than rejected wholesale; one bad rule must not take down
// the rest of the set.
func NewEngine(bus Emitter, rules []Rule, logger log.Logger, hooks Hooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	e := &Engine{
		bus:    bus,
		logger: logger.With("component", "correlation_engine"),
		hooks:  hooks,
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			e.logger.Warn(context.Background(), "skipping invalid correlation rule", "rule_id", r.ID, "error", err)
			continue
		}
		e.rules = append(e.rules, &ruleState{rule: r})
	}
	return e
}

// Attach subscribes the engine to every signal on the bus.
func (e *Engine) Attach(bus interface {
	SubscribeAll(name string, fn signal.Handler) int
}) {
	bus.SubscribeAll("correlation_engine", e.Observe)
}

// Rules returns a copy of the installed rule set.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, 0, len(e.rules))
	for _, rs := range e.rules {
		out = append(out, rs.rule)
	}
	return out
}

// SetWindow changes a rule's window at runtime. The existing buffer is not
// re-evaluated; only future evictions use the new value. That staleness is
// acceptable: the buffer self-corrects within one window.
func (e *Engine) SetWindow(ruleID string, windowSeconds int) bool {
	if windowSeconds < MinWindowSeconds {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rs := range e.rules {
		if rs.rule.ID == ruleID {
			rs.rule.WindowSeconds = windowSeconds
			return true
		}
	}
	return false
}

// Observe evaluates one signal against all rules. It is registered as a
// wildcard bus subscriber; the signal's own timestamp is the arrival time,
// which keeps evaluation deterministic under test.
func (e *Engine) Observe(ctx context.Context, s *signal.Signal) error {
	if s.Source == Source {
		return nil
	}

	var fired []Rule
	e.mu.Lock()
	for _, rs := range e.rules {
		if !rs.rule.Enabled || !watches(rs.rule, s.Type) {
			continue
		}
		e.hooks.onEvaluate(rs.rule.ID)

		rs.arrivals = append(rs.arrivals, s.Time)
		rs.arrivals = evict(rs.arrivals, s.Time.Add(-rs.rule.Window()))

		if len(rs.arrivals) < rs.rule.MinCount {
			continue
		}
		if !rs.lastTriggered.IsZero() && s.Time.Sub(rs.lastTriggered) < rs.rule.Cooldown() {
			continue
		}
		rs.lastTriggered = s.Time
		fired = append(fired, rs.rule)
	}
	e.mu.Unlock()

	for _, r := range fired {
		e.trigger(ctx, r, s)
	}
	return nil
}

// trigger emits the synthesized signal for a fired rule. The dedup key ties
// the emission to the rule, so the bus suppresses repeats inside its own
// dedup window as a second layer under the cooldown.
func (e *Engine) trigger(ctx context.Context, r Rule, cause *signal.Signal) {
	syn := signal.New(r.EmitType, r.EmitSeverity, Source, r.EmitConfidence, map[string]any{
		"rule_id":        r.ID,
		"rule_name":      r.Name,
		"window_seconds": r.WindowSeconds,
		"min_count":      r.MinCount,
		"cause_type":     string(cause.Type),
		"cause_id":       cause.ID,
	})
	syn.DedupKey = "corr:" + r.ID

	e.hooks.onTrigger(r.ID)
	e.logger.Info(ctx, "correlation rule fired",
		"rule_id", r.ID,
		"emit_type", syn.Type,
		"emit_severity", syn.Severity,
		"cause_id", cause.ID,
	)

	if _, err := e.bus.Emit(ctx, syn); err != nil {
		e.logger.Error(ctx, err, "failed to emit synthesized signal", "rule_id", r.ID)
	}
}

func watches(r Rule, t signal.Type) bool {
	for _, w := range r.SignalTypes {
		if w == t {
			return true
		}
	}
	return false
}

// evict drops arrivals at or before the cutoff, keeping the slice's backing
// array when nothing expired.
func evict(arrivals []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(arrivals) && !arrivals[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return arrivals
	}
	return append(arrivals[:0], arrivals[i:]...)
}
