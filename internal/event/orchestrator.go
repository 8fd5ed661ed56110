// Package event implements the unified security event layer: the envelope
// model, the normalizer that adapts raw producer payloads, the orchestrator
// that owns the event log and dispatch pipeline, and the router that fans
// processed events out to fixed destinations.
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultDedupWindow is the trailing interval during which a repeated
	// (source module, event type, payload) triple is swallowed.
	DefaultDedupWindow = 5 * time.Minute

	// dedupCacheCap bounds the orchestrator dedup cache.
	dedupCacheCap = 10000

	// statsWindow is the trailing interval covered by Statistics counts.
	statsWindow = time.Hour

	// statsScanLimit bounds how many events a statistics scan reads.
	statsScanLimit = 100000
)

// Enricher mutates an event's enrichment block during processing. Enrichers
// run in registration order; a failing enricher is logged and skipped.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, e *Event) error
}

// HandlerFunc processes an accepted event. Failures are caught and logged
// per handler; they never abort the pipeline.
type HandlerFunc func(ctx context.Context, e *Event) error

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// Statistics summarizes the recent state of the event log.
type Statistics struct {
	Window             string         `json:"window"`
	Total              int            `json:"total"`
	ByType             map[string]int `json:"by_type"`
	BySeverity         map[int]int    `json:"by_severity"`
	ByStatus           map[Status]int `json:"by_status"`
	UnresolvedCritical int            `json:"unresolved_critical"`
	MeanInvestigateSec float64        `json:"mean_time_to_investigate_seconds"`
	Processed          uint64         `json:"processed"`
	Duplicates         uint64         `json:"duplicates"`
}

// Orchestrator owns the unified event log, the enrichment pipeline and the
// multi-stage dispatch of accepted events. It operates one abstraction layer
// above the raw signal bus.
type Orchestrator struct {
	store Store
	dedup *expirable.LRU[string, time.Time]

	mu        sync.Mutex
	enrichers []Enricher
	universal []namedHandler
	typed     map[string][]namedHandler
	decision  []namedHandler

	processed  uint64
	duplicates uint64

	logger log.Logger
	hooks  OrchestratorHooks
}

// NewOrchestrator constructs an orchestrator over the given store. A zero
// dedupWindow falls back to the default.
func NewOrchestrator(store Store, dedupWindow time.Duration, logger log.Logger, hooks OrchestratorHooks) *Orchestrator {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{
		store:  store,
		dedup:  expirable.NewLRU[string, time.Time](dedupCacheCap, nil, dedupWindow),
		typed:  make(map[string][]namedHandler),
		logger: logger.With("component", "event_orchestrator"),
		hooks:  hooks,
	}
}

// RegisterEnricher appends an enricher to the pipeline.
func (o *Orchestrator) RegisterEnricher(e Enricher) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enrichers = append(o.enrichers, e)
}

// RegisterUniversal registers a handler invoked for every accepted event.
func (o *Orchestrator) RegisterUniversal(name string, fn HandlerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.universal = append(o.universal, namedHandler{name, fn})
}

// RegisterTyped registers a handler invoked for events of the given type.
func (o *Orchestrator) RegisterTyped(eventType, name string, fn HandlerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.typed[eventType] = append(o.typed[eventType], namedHandler{name, fn})
}

// RegisterDecision registers a decision callback, run after all other
// handler stages.
func (o *Orchestrator) RegisterDecision(name string, fn HandlerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decision = append(o.decision, namedHandler{name, fn})
}

// Process validates, dedups, stores, enriches and dispatches an event.
// It returns (false, nil) for a swallowed duplicate. A store write failure
// is logged and processing continues in-memory; persistence is best-effort.
func (o *Orchestrator) Process(ctx context.Context, e *Event) (bool, error) {
	if e == nil {
		return false, fmt.Errorf("nil event")
	}
	if err := e.Validate(); err != nil {
		return false, err
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.ID == "" {
		e.ID = ContentID(e.Time, e.Context.SourceModule, e.Payload.Raw)
	}

	key := dedupKey(e)
	o.mu.Lock()
	if _, dup := o.dedup.Get(key); dup {
		o.duplicates++
		o.mu.Unlock()
		o.hooks.onDuplicate(e.Type)
		return false, nil
	}
	o.dedup.Add(key, e.Time)
	o.processed++
	enrichers := append([]Enricher(nil), o.enrichers...)
	universal := append([]namedHandler(nil), o.universal...)
	typed := append([]namedHandler(nil), o.typed[e.Type]...)
	decision := append([]namedHandler(nil), o.decision...)
	o.mu.Unlock()

	if err := o.store.Append(ctx, e); err != nil {
		// best-effort persistence: keep processing in-memory
		o.logger.Error(ctx, err, "event store append failed", "event_id", e.ID)
		o.hooks.onStoreError()
	}

	for _, en := range enrichers {
		if err := en.Enrich(ctx, e); err != nil {
			o.logger.Error(ctx, err, "enricher failed", "enricher", en.Name(), "event_id", e.ID)
			o.hooks.onHandlerError("enricher", en.Name())
			continue
		}
		e.Enrichment.At = time.Now()
		e.Enrichment.Sources = appendUnique(e.Enrichment.Sources, en.Name())
	}

	o.runStage(ctx, "universal", universal, e)
	o.runStage(ctx, "typed", typed, e)
	o.runStage(ctx, "decision", decision, e)

	// persist enrichment/handler mutations, same best-effort policy
	if err := o.store.Update(ctx, e); err != nil {
		o.logger.Error(ctx, err, "event store update failed", "event_id", e.ID)
		o.hooks.onStoreError()
	}

	o.hooks.onProcessed(e.Type, e.Severity)
	return true, nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage string, handlers []namedHandler, e *Event) {
	for _, h := range handlers {
		if err := invokeHandler(ctx, h.fn, e); err != nil {
			o.logger.Error(ctx, err, "event handler failed",
				"stage", stage,
				"handler", h.name,
				"event_id", e.ID,
			)
			o.hooks.onHandlerError(stage, h.name)
		}
	}
}

func invokeHandler(ctx context.Context, fn HandlerFunc, e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, e)
}

// Get retrieves an event by ID.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Event, bool, error) {
	return o.store.Get(ctx, id)
}

// Query returns events matching the filter, newest first.
func (o *Orchestrator) Query(ctx context.Context, f Filter) ([]*Event, error) {
	return o.store.List(ctx, f)
}

// UpdateStatus applies a forward-only lifecycle transition and persists it.
func (o *Orchestrator) UpdateStatus(ctx context.Context, id string, next Status) (*Event, error) {
	e, ok, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("event %s not found", id)
	}
	if !e.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("event %s: illegal status transition %s -> %s", id, e.Status, next)
	}
	e.Status = next
	if next == StatusInvestigating && e.InvestigatingAt.IsZero() {
		e.InvestigatingAt = time.Now()
	}
	if err := o.store.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetStatistics computes trailing-hour counts plus unresolved criticals and
// mean time-to-investigate across currently-investigating events.
func (o *Orchestrator) GetStatistics(ctx context.Context) (*Statistics, error) {
	recent, err := o.store.List(ctx, Filter{Since: time.Now().Add(-statsWindow), Limit: statsScanLimit})
	if err != nil {
		return nil, err
	}

	st := &Statistics{
		Window:     statsWindow.String(),
		Total:      len(recent),
		ByType:     make(map[string]int),
		BySeverity: make(map[int]int),
		ByStatus:   make(map[Status]int),
	}
	for _, e := range recent {
		st.ByType[e.Type]++
		st.BySeverity[e.Severity]++
		st.ByStatus[e.Status]++
	}

	criticals, err := o.store.List(ctx, Filter{MinSeverity: SeverityCritical, Limit: statsScanLimit})
	if err != nil {
		return nil, err
	}
	for _, e := range criticals {
		if !e.Status.Terminal() {
			st.UnresolvedCritical++
		}
	}

	investigating, err := o.store.List(ctx, Filter{Status: StatusInvestigating, Limit: statsScanLimit})
	if err != nil {
		return nil, err
	}
	var total time.Duration
	var n int
	for _, e := range investigating {
		if e.InvestigatingAt.IsZero() {
			continue
		}
		total += e.InvestigatingAt.Sub(e.Time)
		n++
	}
	if n > 0 {
		st.MeanInvestigateSec = total.Seconds() / float64(n)
	}

	o.mu.Lock()
	st.Processed = o.processed
	st.Duplicates = o.duplicates
	o.mu.Unlock()

	return st, nil
}

func dedupKey(e *Event) string {
	return e.Context.SourceModule + "|" + e.Type + "|" + PayloadFingerprint(e.Payload.Raw)
}

func appendUnique(in []string, s string) []string {
	for _, v := range in {
		if v == s {
			return in
		}
	}
	return append(in, s)
}
