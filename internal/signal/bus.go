// Package signal defines the canonical signal envelope and the process-wide
// bus that fans signals out to subscribers with time-windowed deduplication
// and bounded history.
package signal

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
	// dedup key is suppressed.
	DefaultDedupWindow = 5 * time.Minute

	// DefaultHistoryCap bounds the in-memory signal history.
	DefaultHistoryCap = 10000

	// DefaultSubscriberTimeout bounds how long Emit waits on any single
	// subscriber. The subscriber goroutine is cancelled via its context;
	// a subscriber that ignores cancellation leaks but never stalls the bus.
	DefaultSubscriberTimeout = 30 * time.Second

	// dedupCacheCap bounds the dedup cache independently of the TTL so a
	// flood of distinct keys cannot grow it without limit.
	dedupCacheCap = 10000
)

// Handler receives signals delivered by the bus. Errors are recorded as
// diagnostics and never propagate to the emitter.
type Handler func(ctx context.Context, s *Signal) error

// Options configures a Bus. Zero values fall back to the defaults above.
type Options struct {
	DedupWindow       time.Duration
	HistoryCap        int
	SubscriberTimeout time.Duration
}

type subscription struct {
	id   int
	name string
	fn   Handler
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Emitted          uint64          `json:"emitted"`
	Suppressed       uint64          `json:"suppressed"`
	Rejected         uint64          `json:"rejected"`
	SubscriberErrors uint64          `json:"subscriber_errors"`
	HistorySize      int             `json:"history_size"`
	Subscribers      int             `json:"subscribers"`
	ByType           map[Type]uint64 `json:"by_type"`
}

// Bus is the process-wide publish/subscribe dispatcher. There is exactly one
// instance, constructed in main and passed by reference to every producer
// and consumer; there is no package-level global.
//
// All shared state is guarded by mu. The lock is never held while subscriber
// callbacks run, so subscribers may emit back onto the bus (the risk scorer's
// feedback edge depends on this).
type Bus struct {
	mu       sync.Mutex
	history  *ringBuffer
	dedup    *expirable.LRU[string, time.Time]
	wildcard []subscription
	typed    map[Type][]subscription
	nextSub  int

	emitted          uint64
	suppressed       uint64
	rejected         uint64
	subscriberErrors uint64
	byType           map[Type]uint64

	subTimeout time.Duration
	logger     log.Logger
	hooks      Hooks
}

// NewBus constructs a bus with the given options.
func NewBus(opts Options, logger log.Logger, hooks Hooks) *Bus {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.HistoryCap <= 0 {
		opts.HistoryCap = DefaultHistoryCap
	}
	if opts.SubscriberTimeout <= 0 {
		opts.SubscriberTimeout = DefaultSubscriberTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Bus{
		history:    newRingBuffer(opts.HistoryCap),
		dedup:      expirable.NewLRU[string, time.Time](dedupCacheCap, nil, opts.DedupWindow),
		typed:      make(map[Type][]subscription),
		byType:     make(map[Type]uint64),
		subTimeout: opts.SubscriberTimeout,
		logger:     logger.With("component", "signal_bus"),
		hooks:      hooks,
	}
}

// Subscribe registers fn for signals of type t. Registration is additive;
// the same handler may be registered more than once and will be invoked once
// per registration. The returned id can be passed to Unsubscribe.
func (b *Bus) Subscribe(t Type, name string, fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.typed[t] = append(b.typed[t], subscription{id: b.nextSub, name: name, fn: fn})
	return b.nextSub
}

// SubscribeAll registers fn for every signal regardless of type. Wildcard
// subscribers run strictly before type subscribers within one Emit.
func (b *Bus) SubscribeAll(name string, fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.wildcard = append(b.wildcard, subscription{id: b.nextSub, name: name, fn: fn})
	return b.nextSub
}

// Unsubscribe removes the subscription with the given id. Removing an
// unknown id is a no-op.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = removeSub(b.wildcard, id)
	for t, subs := range b.typed {
		b.typed[t] = removeSub(subs, id)
	}
}

func removeSub(subs []subscription, id int) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Emit validates the signal, applies dedup suppression, appends to history
// and dispatches to subscribers: first all wildcard subscribers as a
// concurrent group, then all type subscribers as a concurrent group.
//
// A suppressed duplicate returns (false, nil) and invokes nobody. Subscriber
// failures are captured per subscriber and surfaced via logs and metrics
// only; Emit never returns a subscriber's error.
func (b *Bus) Emit(ctx context.Context, s *Signal) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("nil signal")
	}
	if err := s.Validate(); err != nil {
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		b.hooks.onRejected()
		return false, err
	}
	if s.Time.IsZero() {
		s.Time = time.Now()
	}

	b.mu.Lock()
	if s.DedupKey != "" {
		if _, dup := b.dedup.Get(s.DedupKey); dup {
			b.suppressed++
			b.mu.Unlock()
			b.hooks.onSuppressed(s)
			return false, nil
		}
		b.dedup.Add(s.DedupKey, s.Time)
	}
	b.history.push(s)
	b.emitted++
	b.byType[s.Type]++
	// snapshot subscriber lists so dispatch runs without the lock
	wildcard := append([]subscription(nil), b.wildcard...)
	typed := append([]subscription(nil), b.typed[s.Type]...)
	b.mu.Unlock()

	b.hooks.onEmit(s)

	b.dispatchGroup(ctx, wildcard, s)
	b.dispatchGroup(ctx, typed, s)
	return true, nil
}

// dispatchGroup runs one concurrent group of subscribers to completion.
// Each subscriber is isolated: panics are recovered, errors recorded, and a
// subscriber that outlives its timeout is abandoned rather than waited on.
func (b *Bus) dispatchGroup(ctx context.Context, subs []subscription, s *Signal) {
	if len(subs) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub subscription) {
			defer wg.Done()
			b.invoke(ctx, sub, s)
		}(sub)
	}
	wg.Wait()
}

func (b *Bus) invoke(ctx context.Context, sub subscription, s *Signal) {
	cctx, cancel := context.WithTimeout(ctx, b.subTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("subscriber panic: %v", r)
			}
		}()
		done <- sub.fn(cctx, s)
	}()

	var err error
	select {
	case err = <-done:
	case <-cctx.Done():
		err = fmt.Errorf("subscriber timed out after %s", b.subTimeout)
	}

	b.hooks.onDispatch(sub.name, time.Since(start), err)
	if err != nil {
		b.mu.Lock()
		b.subscriberErrors++
		b.mu.Unlock()
		b.logger.Error(cctx, err, "subscriber failed",
			"subscriber", sub.name,
			"signal_id", s.ID,
			"signal_type", s.Type,
		)
	}
}

// Recent returns up to limit signals, newest first. A zero Type matches
// every type. The scan is O(history); callers are expected to pass small
// limits.
func (b *Bus) Recent(t Type, limit int) []*Signal {
	if limit <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Signal, 0, limit)
	b.history.descend(func(s *Signal) bool {
		if t != "" && s.Type != t {
			return true
		}
		out = append(out, s)
		return len(out) < limit
	})
	return out
}

// CountSince returns the number of signals from source observed at or after
// cutoff. Used by the risk scorer's frequency bonus.
func (b *Bus) CountSince(source string, cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	b.history.descend(func(s *Signal) bool {
		if s.Time.Before(cutoff) {
			return false
		}
		if s.Source == source {
			n++
		}
		return true
	})
	return n
}

// GetStats returns a snapshot of bus counters.
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	byType := make(map[Type]uint64, len(b.byType))
	for k, v := range b.byType {
		byType[k] = v
	}
	subs := len(b.wildcard)
	for _, s := range b.typed {
		subs += len(s)
	}
	return Stats{
		Emitted:          b.emitted,
		Suppressed:       b.suppressed,
		Rejected:         b.rejected,
		SubscriberErrors: b.subscriberErrors,
		HistorySize:      b.history.len(),
		Subscribers:      subs,
		ByType:           byType,
	}
}

// ringBuffer is a fixed-capacity FIFO over signals with O(1) eviction.
type ringBuffer struct {
	buf  []*Signal
	head int // index of oldest entry
	n    int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]*Signal, capacity)}
}

func (r *ringBuffer) push(s *Signal) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	// full: overwrite oldest
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ringBuffer) len() int { return r.n }

// descend visits entries newest first until fn returns false.
func (r *ringBuffer) descend(fn func(*Signal) bool) {
	for i := r.n - 1; i >= 0; i-- {
		if !fn(r.buf[(r.head+i)%len(r.buf)]) {
			return
		}
	}
}
