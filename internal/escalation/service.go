// Package escalation is the human-analyst consumer at the end of the
// pipeline. It collects escalation_required signals and analyst-routed
// events into a bounded history, stamps each with its response-tier SLA,
// and optionally attaches an LLM summary and a Slack notification.
package escalation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/sentinel/internal/decision"
	"github.com/linnemanlabs/sentinel/internal/event"
	"github.com/linnemanlabs/sentinel/internal/signal"
)

// DefaultHistoryCap bounds the in-memory escalation history.
const DefaultHistoryCap = 1000

// Origin says which pipeline surface produced a record.
type Origin string

const (
	OriginSignal Origin = "signal"
	OriginEvent  Origin = "event"
)

// Record is one escalated incident awaiting an analyst.
type Record struct {
	ID          string          `json:"id"`
	Origin      Origin          `json:"origin"`
	RefID       string          `json:"ref_id"`
	Time        time.Time       `json:"time"`
	Severity    signal.Severity `json:"severity"`
	Tier        decision.Tier   `json:"tier"`
	SLADeadline time.Time       `json:"sla_deadline,omitempty"`
	Subject     string          `json:"subject"`
	Detail      map[string]any  `json:"detail,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Notified    bool            `json:"notified"`
}

// Summarizer produces an analyst summary from rendered incident text.
type Summarizer interface {
	Summarize(ctx context.Context, incident string) (string, error)
}

// Notifier delivers a record to an external channel.
type Notifier interface {
	Send(ctx context.Context, r *Record) error
}

// Options configures optional service collaborators. Nil fields disable
// the corresponding step.
type Options struct {
	Summarizer Summarizer
	Notifier   Notifier
	HistoryCap int
	Logger     log.Logger
	Hooks      Hooks
}

// Service accumulates escalations. All state is guarded by mu; the
// summarizer and notifier calls run outside the lock.
type Service struct {
	tiers      *decision.Tiers
	summarizer Summarizer
	notifier   Notifier
	logger     log.Logger
	hooks      Hooks

	mu      sync.Mutex
	history []*Record
	cap     int
}

// NewService constructs the service over a validated tier table.
func NewService(tiers *decision.Tiers, opts Options) *Service {
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = DefaultHistoryCap
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Service{
		tiers:      tiers,
		summarizer: opts.Summarizer,
		notifier:   opts.Notifier,
		logger:     opts.Logger.With("component", "escalation_service"),
		hooks:      opts.Hooks,
		cap:        opts.HistoryCap,
	}
}

// Attach wires the service into the pipeline: escalation_required signals
// from the bus and every event the router sends to the analyst destination.
func (s *Service) Attach(bus *signal.Bus, router *event.Router) error {
	bus.Subscribe(signal.TypeEscalationRequired, "escalation_service", s.HandleSignal)
	return router.Register(event.DestAnalyst, "escalation_service", s.HandleEvent)
}

// HandleSignal records an escalation_required signal.
func (s *Service) HandleSignal(ctx context.Context, sig *signal.Signal) error {
	r := &Record{
		ID:       ulid.Make().String(),
		Origin:   OriginSignal,
		RefID:    sig.ID,
		Time:     sig.Time,
		Severity: sig.Severity,
		Subject:  fmt.Sprintf("%s from %s", sig.Type, sig.Source),
		Detail:   sig.Data,
	}
	s.admit(ctx, r, sig.Confidence)
	return nil
}

// HandleEvent records an analyst-routed event.
func (s *Service) HandleEvent(ctx context.Context, e *event.Event) error {
	r := &Record{
		ID:       ulid.Make().String(),
		Origin:   OriginEvent,
		RefID:    e.ID,
		Time:     e.Time,
		Severity: signal.SeverityFromOrdinal(e.Severity),
		Subject:  fmt.Sprintf("%s from %s", e.Type, e.Context.SourceModule),
		Detail:   e.Payload.Normalized,
	}
	s.admit(ctx, r, e.Confidence)
	return nil
}

// admit stamps the tier and SLA, appends to history, then runs the
// optional summary and notification steps.
func (s *Service) admit(ctx context.Context, r *Record, confidence float64) {
	r.Tier = decision.TierFor(r.Severity)
	if sla, ok := s.tiers.EscalationSLA(r.Severity); ok {
		r.SLADeadline = time.Now().Add(sla)
	}

	s.mu.Lock()
	s.history = append(s.history, r)
	if len(s.history) > s.cap {
		s.history = s.history[len(s.history)-s.cap:]
	}
	s.mu.Unlock()

	s.hooks.onEscalation(string(r.Origin), string(r.Severity))
	s.logger.Info(ctx, "escalation recorded",
		"escalation_id", r.ID,
		"origin", r.Origin,
		"ref_id", r.RefID,
		"severity", r.Severity,
		"tier", r.Tier,
		"confidence", confidence,
	)

	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(ctx, renderIncident(r, confidence))
		if err != nil {
			s.hooks.onSummaryError()
			s.logger.Error(ctx, err, "incident summary failed", "escalation_id", r.ID)
		} else {
			r.Summary = summary
		}
	}

	if s.notifier != nil {
		if err := s.notifier.Send(ctx, r); err != nil {
			s.hooks.onNotifyError()
			s.logger.Error(ctx, err, "escalation notification failed", "escalation_id", r.ID)
		} else {
			r.Notified = true
		}
	}
}

// Recent returns up to limit records, newest first.
func (s *Service) Recent(limit int) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]*Record, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// Overdue returns records whose SLA deadline has passed as of now,
// oldest deadline first.
func (s *Service) Overdue(now time.Time) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, r := range s.history {
		if !r.SLADeadline.IsZero() && now.After(r.SLADeadline) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SLADeadline.Before(out[j].SLADeadline) })
	return out
}

// renderIncident flattens a record into the prompt text the summarizer
// receives.
func renderIncident(r *Record, confidence float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Incident: %s\n", r.Subject)
	fmt.Fprintf(&sb, "Severity: %s (response tier %d)\n", r.Severity, r.Tier)
	fmt.Fprintf(&sb, "Confidence: %.2f\n", confidence)
	if !r.SLADeadline.IsZero() {
		fmt.Fprintf(&sb, "Respond by: %s\n", r.SLADeadline.UTC().Format(time.RFC3339))
	}
	if len(r.Detail) > 0 {
		keys := make([]string, 0, len(r.Detail))
		for k := range r.Detail {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Details:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %v\n", k, r.Detail[k])
		}
	}
	return sb.String()
}
