// Package memstore provides a bounded in-memory implementation of
// event.Store with an optional JSON snapshot file for best-effort
// persistence across restarts.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/linnemanlabs/sentinel/internal/event"
)

// DefaultCap bounds the in-memory event log; the oldest entries are evicted
// first once the cap is reached.
const DefaultCap = 100000

// Store holds unified events in memory, oldest-evicted at a fixed cap.
// When a snapshot path is configured, the full collection is rewritten on
// every mutation and reloaded on construction; a missing or empty file is
// treated as an empty collection.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*event.Event
	order    []string // insertion order, oldest first
	capacity int
	snapshot string
}

// Option configures a Store.
type Option func(*Store)

// WithCap overrides the event cap.
func WithCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithSnapshot enables the JSON snapshot file at path.
func WithSnapshot(path string) Option {
	return func(s *Store) { s.snapshot = path }
}

// New initializes a Store, loading the snapshot file if one is configured
// and present.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		byID:     make(map[string]*event.Event),
		capacity: DefaultCap,
	}
	for _, o := range opts {
		o(s)
	}
	if s.snapshot != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Append stores a copy of the event, evicting the oldest entry when full.
func (s *Store) Append(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[e.ID]; exists {
		return fmt.Errorf("event %s already stored", e.ID)
	}
	cp := *e
	s.byID[e.ID] = &cp
	s.order = append(s.order, e.ID)
	s.evictLocked()
	return s.persistLocked()
}

// Get retrieves an event by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*event.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

// Update replaces a stored event. Updating an evicted or unknown event is
// a no-op rather than an error; the log is bounded and the entry may simply
// have aged out.
func (s *Store) Update(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[e.ID]; !ok {
		return nil
	}
	cp := *e
	s.byID[e.ID] = &cp
	return s.persistLocked()
}

// List returns matching events newest first, bounded by f.Limit.
func (s *Store) List(_ context.Context, f event.Filter) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultCap
	}
	var out []*event.Event
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		e, ok := s.byID[s.order[i]]
		if !ok || !f.Matches(e) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) evictLocked() {
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}
}

// persistLocked rewrites the full collection to the snapshot file.
func (s *Store) persistLocked() error {
	if s.snapshot == "" {
		return nil
	}
	events := make([]*event.Event, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.byID[id]; ok {
			events = append(events, e)
		}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("snapshot marshal: %w", err)
	}
	tmp := s.snapshot + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := os.Rename(tmp, s.snapshot); err != nil {
		return fmt.Errorf("snapshot rename: %w", err)
	}
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.snapshot)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("snapshot read: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var events []*event.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("snapshot parse %s: %w", filepath.Base(s.snapshot), err)
	}
	for _, e := range events {
		s.byID[e.ID] = e
		s.order = append(s.order, e.ID)
	}
	s.evictLocked()
	return nil
}
