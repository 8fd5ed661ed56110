package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/sentinel/internal/decision"
	"github.com/linnemanlabs/sentinel/internal/event"
	"github.com/linnemanlabs/sentinel/internal/signal"
)

type stubSummarizer struct {
	summary string
	err     error
	prompts []string
	mu      sync.Mutex
}

func (s *stubSummarizer) Summarize(_ context.Context, incident string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, incident)
	return s.summary, s.err
}

type stubNotifier struct {
	err  error
	sent []*Record
	mu   sync.Mutex
}

func (n *stubNotifier) Send(_ context.Context, r *Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, r)
	return n.err
}

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	tiers, err := decision.NewTiers(decision.DefaultTiers())
	if err != nil {
		t.Fatalf("NewTiers: %v", err)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return NewService(tiers, opts)
}

func TestHandleSignal_StampsTierAndSLA(t *testing.T) {
	t.Parallel()

	svc := newService(t, Options{})
	sig := signal.New(signal.TypeEscalationRequired, signal.SeverityCritical, "risk_scorer", 0.9, map[string]any{
		"risk_score": 92.0,
	})

	before := time.Now()
	if err := svc.HandleSignal(context.Background(), sig); err != nil {
		t.Fatal(err)
	}

	recent := svc.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("history = %d, want 1", len(recent))
	}
	r := recent[0]
	if r.Origin != OriginSignal {
		t.Errorf("origin = %q, want signal", r.Origin)
	}
	if r.RefID != sig.ID {
		t.Errorf("ref_id = %q, want %q", r.RefID, sig.ID)
	}
	if r.Tier != decision.TierCriticalHuman {
		t.Errorf("tier = %d, want 1", r.Tier)
	}
	// critical carries a 15 minute SLA
	wantMin := before.Add(15 * time.Minute)
	if r.SLADeadline.Before(wantMin) || r.SLADeadline.After(wantMin.Add(time.Minute)) {
		t.Errorf("sla_deadline = %v, want ~%v", r.SLADeadline, wantMin)
	}
}

func TestHandleEvent_MapsSeverityOrdinal(t *testing.T) {
	t.Parallel()

	svc := newService(t, Options{})
	e := &event.Event{
		ID:       "evt-1",
		Type:     "unauthorized_access",
		Time:     time.Now(),
		Severity: event.SeverityHigh,
		Status:   event.StatusNew,
		Context:  event.Context{SourceModule: "audit"},
		Payload:  event.Payload{Normalized: map[string]any{"user": "mallory"}},
	}

	if err := svc.HandleEvent(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	r := svc.Recent(1)[0]
	if r.Origin != OriginEvent {
		t.Errorf("origin = %q, want event", r.Origin)
	}
	if r.Severity != signal.SeverityHigh {
		t.Errorf("severity = %q, want high", r.Severity)
	}
	if r.Tier != decision.TierHighGated {
		t.Errorf("tier = %d, want 2", r.Tier)
	}
	if r.Subject != "unauthorized_access from audit" {
		t.Errorf("subject = %q", r.Subject)
	}
}

func TestTier4HasNoSLA(t *testing.T) {
	t.Parallel()

	svc := newService(t, Options{})
	sig := signal.New(signal.TypeResourceWarning, signal.SeverityLow, "mon", 0.4, nil)
	if err := svc.HandleSignal(context.Background(), sig); err != nil {
		t.Fatal(err)
	}
	if r := svc.Recent(1)[0]; !r.SLADeadline.IsZero() {
		t.Errorf("tier 4 record carries SLA deadline %v, want none", r.SLADeadline)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()

	svc := newService(t, Options{HistoryCap: 3})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		sig := signal.New(signal.TypeEscalationRequired, signal.SeverityHigh, fmt.Sprintf("src-%d", i), 0.8, nil)
		if err := svc.HandleSignal(ctx, sig); err != nil {
			t.Fatal(err)
		}
	}

	recent := svc.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("history = %d, want cap 3", len(recent))
	}
	// newest first, oldest two evicted
	if recent[0].Subject != "escalation_required from src-4" {
		t.Errorf("newest = %q", recent[0].Subject)
	}
	if recent[2].Subject != "escalation_required from src-2" {
		t.Errorf("oldest kept = %q", recent[2].Subject)
	}
}

func TestSummaryAndNotification(t *testing.T) {
	t.Parallel()

	sum := &stubSummarizer{summary: "analyst summary"}
	not := &stubNotifier{}
	svc := newService(t, Options{Summarizer: sum, Notifier: not})

	sig := signal.New(signal.TypeThreatDetected, signal.SeverityCritical, "ids", 0.95, map[string]any{
		"indicator": "10.0.0.8",
	})
	if err := svc.HandleSignal(context.Background(), sig); err != nil {
		t.Fatal(err)
	}

	r := svc.Recent(1)[0]
	if r.Summary != "analyst summary" {
		t.Errorf("summary = %q", r.Summary)
	}
	if !r.Notified {
		t.Error("record not marked notified")
	}
	if len(not.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(not.sent))
	}

	sum.mu.Lock()
	defer sum.mu.Unlock()
	if len(sum.prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(sum.prompts))
	}
	for _, want := range []string{"threat_detected from ids", "critical", "indicator: 10.0.0.8"} {
		if !strings.Contains(sum.prompts[0], want) {
			t.Errorf("prompt missing %q:\n%s", want, sum.prompts[0])
		}
	}
}

func TestCollaboratorFailuresAreBestEffort(t *testing.T) {
	t.Parallel()

	sum := &stubSummarizer{err: errors.New("api down")}
	not := &stubNotifier{err: errors.New("webhook down")}
	svc := newService(t, Options{Summarizer: sum, Notifier: not})

	sig := signal.New(signal.TypeEscalationRequired, signal.SeverityHigh, "abstention_policy", 0.5, nil)
	if err := svc.HandleSignal(context.Background(), sig); err != nil {
		t.Fatal(err)
	}

	r := svc.Recent(1)[0]
	if r.Summary != "" {
		t.Errorf("summary = %q, want empty after failure", r.Summary)
	}
	if r.Notified {
		t.Error("record marked notified despite failure")
	}
}

func TestOverdue(t *testing.T) {
	t.Parallel()

	svc := newService(t, Options{})
	ctx := context.Background()

	if err := svc.HandleSignal(ctx, signal.New(signal.TypeEscalationRequired, signal.SeverityCritical, "a", 0.9, nil)); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleSignal(ctx, signal.New(signal.TypeResourceWarning, signal.SeverityLow, "b", 0.4, nil)); err != nil {
		t.Fatal(err)
	}

	if got := svc.Overdue(time.Now()); len(got) != 0 {
		t.Errorf("overdue now = %d, want 0", len(got))
	}
	// an hour from now the critical record's 15 minute SLA has passed; the
	// tier 4 record has no deadline and never shows up
	got := svc.Overdue(time.Now().Add(time.Hour))
	if len(got) != 1 {
		t.Fatalf("overdue later = %d, want 1", len(got))
	}
	if got[0].Severity != signal.SeverityCritical {
		t.Errorf("overdue severity = %q, want critical", got[0].Severity)
	}
}

func TestAttach_WiresBusAndRouter(t *testing.T) {
	t.Parallel()

	svc := newService(t, Options{})
	bus := signal.NewBus(signal.Options{}, log.Nop(), signal.Hooks{})
	router := event.NewRouter(log.Nop(), event.RouterHooks{})
	if err := svc.Attach(bus, router); err != nil {
		t.Fatal(err)
	}

	if _, err := bus.Emit(context.Background(), signal.New(signal.TypeEscalationRequired, signal.SeverityHigh, "x", 0.7, nil)); err != nil {
		t.Fatal(err)
	}
	router.Route(context.Background(), &event.Event{
		ID:       "evt-9",
		Type:     "pii_exposure",
		Time:     time.Now(),
		Severity: event.SeverityCritical,
		Status:   event.StatusNew,
		Context:  event.Context{SourceModule: "dlp"},
	})

	if got := len(svc.Recent(0)); got != 2 {
		t.Errorf("history = %d, want 2 (one signal, one analyst event)", got)
	}
}
