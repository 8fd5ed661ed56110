package decision

import (
	"context"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sentinel/internal/signal"
)

type captureBus struct {
	mu      sync.Mutex
	emitted []*signal.Signal
}

func (c *captureBus) Emit(_ context.Context, s *signal.Signal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, s)
	return true, nil
}

func (c *captureBus) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.emitted)
}

func newPolicy(t *testing.T, bus Emitter) *AbstentionPolicy {
	t.Helper()
	p, err := NewAbstentionPolicy(DefaultAbstentionThresholds(), bus, log.Nop(), Hooks{})
	if err != nil {
		t.Fatalf("NewAbstentionPolicy: %v", err)
	}
	return p
}

// passing clears every default gate.
func passing() Input {
	return Input{Confidence: 0.9, Uncertainty: 0.1, SampleCount: 10, Disagreement: 0.05}
}

func TestCheck_PriorityOrder(t *testing.T) {
	t.Parallel()

	p := newPolicy(t, nil)

	tests := []struct {
		name string
		in   Input
		want Reason
	}{
		{"all gates pass", passing(), ReasonNone},
		{"low confidence first", Input{Confidence: 0.5, Uncertainty: 0.9, SampleCount: 0, Disagreement: 0.9}, ReasonLowConfidence},
		{"uncertainty before samples", Input{Confidence: 0.9, Uncertainty: 0.5, SampleCount: 0, Disagreement: 0.9}, ReasonHighUncertainty},
		{"samples before disagreement", Input{Confidence: 0.9, Uncertainty: 0.1, SampleCount: 2, Disagreement: 0.9}, ReasonInsufficientSamples},
		{"disagreement last", Input{Confidence: 0.9, Uncertainty: 0.1, SampleCount: 10, Disagreement: 0.5}, ReasonHighDisagreement},
		{"boundary confidence passes", func() Input { in := passing(); in.Confidence = 0.65; return in }(), ReasonNone},
		{"boundary uncertainty passes", func() Input { in := passing(); in.Uncertainty = 0.35; return in }(), ReasonNone},
		{"boundary samples pass", func() Input { in := passing(); in.SampleCount = 5; return in }(), ReasonNone},
		{"boundary disagreement passes", func() Input { in := passing(); in.Disagreement = 0.20; return in }(), ReasonNone},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := p.Check(tt.in); got != tt.want {
				t.Errorf("Check() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShouldAbstain_CountsAndEscalates(t *testing.T) {
	t.Parallel()

	bus := &captureBus{}
	p := newPolicy(t, bus)
	ctx := context.Background()

	in := passing()
	in.Confidence = 0.3
	if got := p.ShouldAbstain(ctx, "remediator", in); got != ReasonLowConfidence {
		t.Fatalf("reason = %q, want low_confidence", got)
	}

	if got := p.Count("remediator"); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
	if bus.count() != 1 {
		t.Fatalf("escalations = %d, want 1", bus.count())
	}
	esc := bus.emitted[0]
	if esc.Type != signal.TypeEscalationRequired {
		t.Errorf("type = %q, want escalation_required", esc.Type)
	}
	if esc.Source != AbstentionSource {
		t.Errorf("source = %q, want %q", esc.Source, AbstentionSource)
	}
	if esc.Data["system"] != "remediator" {
		t.Errorf("system = %v, want remediator", esc.Data["system"])
	}
	if esc.Data["reason"] != string(ReasonLowConfidence) {
		t.Errorf("reason = %v", esc.Data["reason"])
	}
}

func TestShouldAbstain_ProceedHasNoSideEffects(t *testing.T) {
	t.Parallel()

	bus := &captureBus{}
	p := newPolicy(t, bus)

	if got := p.ShouldAbstain(context.Background(), "remediator", passing()); got != ReasonNone {
		t.Fatalf("reason = %q, want none", got)
	}
	if p.Count("remediator") != 0 {
		t.Error("proceed must not increment the counter")
	}
	if bus.count() != 0 {
		t.Error("proceed must not escalate")
	}
}

func TestAbstentionRate_BoundedRatio(t *testing.T) {
	t.Parallel()

	p := newPolicy(t, &captureBus{})
	ctx := context.Background()

	if got := p.AbstentionRate("sys"); got != 0 {
		t.Errorf("rate = %v, want 0", got)
	}

	in := passing()
	in.SampleCount = 0
	for i := 0; i < 30; i++ {
		p.ShouldAbstain(ctx, "sys", in)
	}
	if got := p.AbstentionRate("sys"); got != 0.3 {
		t.Errorf("rate = %v, want 0.3", got)
	}

	for i := 0; i < 200; i++ {
		p.ShouldAbstain(ctx, "sys", in)
	}
	if got := p.AbstentionRate("sys"); got != 1 {
		t.Errorf("rate = %v, want cap at 1", got)
	}

	// counters are per system
	if got := p.AbstentionRate("other"); got != 0 {
		t.Errorf("rate for untouched system = %v, want 0", got)
	}
}

func TestNewAbstentionPolicy_RejectsBadThresholds(t *testing.T) {
	t.Parallel()

	bad := DefaultAbstentionThresholds()
	bad.MinConfidence = 1.5
	if _, err := NewAbstentionPolicy(bad, nil, log.Nop(), Hooks{}); err == nil {
		t.Error("expected validation error")
	}
}
