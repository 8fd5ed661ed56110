package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Destination is one of the router's fixed logical downstream targets.
type Destination string

const (
	DestStorage      Destination = "storage"
	DestDecision     Destination = "decision"
	DestAnalyst      Destination = "analyst"
	DestGraph        Destination = "graph"
	DestCorrelation  Destination = "correlation"
	DestNotification Destination = "notification"
)

// Destinations lists every route in dispatch order.
var Destinations = []Destination{
	DestStorage,
	DestDecision,
	DestAnalyst,
	DestGraph,
	DestCorrelation,
	DestNotification,
}

// RouteResult reports where an event went and which subscribers failed.
type RouteResult struct {
	Destinations []Destination
	Failures     map[Destination][]error
}

// RouterStats is a snapshot of routing counters.
type RouterStats struct {
	Processed   uint64                 `json:"processed"`
	Dropped     uint64                 `json:"dropped"`
	Subscribers map[Destination]int    `json:"subscribers"`
	Routed      map[Destination]uint64 `json:"routed"`
}

// Router fans a processed event out to its fixed destinations. Storage,
// decision, graph and correlation always receive the event; the analyst
// destination only sees high and critical severities; notification starts
// at medium. Dispatch within a destination is concurrent and best-effort:
// one subscriber's failure is recorded and never blocks its siblings.
type Router struct {
	mu        sync.Mutex
	subs      map[Destination][]namedHandler
	processed uint64
	dropped   uint64
	routed    map[Destination]uint64

	logger log.Logger
	hooks  RouterHooks
}

// NewRouter constructs an empty router.
func NewRouter(logger log.Logger, hooks RouterHooks) *Router {
	if logger == nil {
		logger = log.Nop()
	}
	return &Router{
		subs:   make(map[Destination][]namedHandler),
		routed: make(map[Destination]uint64),
		logger: logger.With("component", "event_router"),
		hooks:  hooks,
	}
}

// Register attaches a subscriber to a destination.
func (r *Router) Register(dest Destination, name string, fn HandlerFunc) error {
	if !validDestination(dest) {
		return fmt.Errorf("unknown destination %q", dest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[dest] = append(r.subs[dest], namedHandler{name, fn})
	return nil
}

// Route dispatches the event to every destination whose gate it passes.
func (r *Router) Route(ctx context.Context, e *Event) RouteResult {
	res := RouteResult{Failures: make(map[Destination][]error)}

	r.mu.Lock()
	r.processed++
	plan := make(map[Destination][]namedHandler)
	total := 0
	for _, dest := range Destinations {
		if !r.gate(dest, e) {
			continue
		}
		subs := append([]namedHandler(nil), r.subs[dest]...)
		plan[dest] = subs
		total += len(subs)
		r.routed[dest]++
	}
	if total == 0 {
		r.dropped++
	}
	r.mu.Unlock()

	for _, dest := range Destinations {
		subs, ok := plan[dest]
		if !ok {
			continue
		}
		res.Destinations = append(res.Destinations, dest)
		for _, err := range r.dispatch(ctx, dest, subs, e) {
			res.Failures[dest] = append(res.Failures[dest], err)
		}
	}

	r.hooks.onRoute(e.Severity, len(res.Destinations), total == 0)
	return res
}

// gate applies the severity rules for each destination.
func (r *Router) gate(dest Destination, e *Event) bool {
	switch dest {
	case DestAnalyst:
		return e.Severity >= SeverityHigh
	case DestNotification:
		return e.Severity >= SeverityMedium
	default:
		return true
	}
}

// dispatch runs one destination's subscribers concurrently, collecting
// per-subscriber outcomes.
func (r *Router) dispatch(ctx context.Context, dest Destination, subs []namedHandler, e *Event) []error {
	if len(subs) == 0 {
		return nil
	}

	errCh := make(chan error, len(subs))
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub namedHandler) {
			defer wg.Done()
			start := time.Now()
			err := invokeHandler(ctx, sub.fn, e)
			r.hooks.onDispatch(string(dest), sub.name, time.Since(start), err != nil)
			if err != nil {
				r.logger.Error(ctx, err, "route subscriber failed",
					"destination", dest,
					"subscriber", sub.name,
					"event_id", e.ID,
				)
				errCh <- fmt.Errorf("%s/%s: %w", dest, sub.name, err)
			}
		}(sub)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

// GetStats returns a snapshot of routing counters and per-destination
// subscriber counts.
func (r *Router) GetStats() RouterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := make(map[Destination]int, len(Destinations))
	routed := make(map[Destination]uint64, len(Destinations))
	for _, d := range Destinations {
		subs[d] = len(r.subs[d])
		routed[d] = r.routed[d]
	}
	return RouterStats{
		Processed:   r.processed,
		Dropped:     r.dropped,
		Subscribers: subs,
		Routed:      routed,
	}
}

func validDestination(d Destination) bool {
	for _, v := range Destinations {
		if v == d {
			return true
		}
	}
	return false
}
