package event

import (
	"context"
	"time"
)

// Filter selects events from the log. Zero fields match everything.
type Filter struct {
	Type        string
	MinSeverity int
	Status      Status
	User        string
	Resource    string
	Since       time.Time
	Limit       int
}

// Matches reports whether e passes the filter (Limit excluded).
func (f Filter) Matches(e *Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.MinSeverity > 0 && e.Severity < f.MinSeverity {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.User != "" && e.Context.User != f.User {
		return false
	}
	if f.Resource != "" && e.Context.Resource != f.Resource {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	return true
}

// Store is the persistence interface for the unified event log. The log is
// append-only except for lifecycle/enrichment updates; hard deletion is left
// to external retention tooling.
type Store interface {
	Append(ctx context.Context, e *Event) error
	Get(ctx context.Context, id string) (*Event, bool, error)
	Update(ctx context.Context, e *Event) error

	// List returns matching events newest first, bounded by f.Limit.
	List(ctx context.Context, f Filter) ([]*Event, error)
}
