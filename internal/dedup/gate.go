// Package dedup implements the bounded TTL cache behind every "once per window" check.
package dedup

import (
	"log/slog"
	"sync"
	"time"

	"herald/pkg/herald"
)

const defaultMaxEntries = 10_000

// Observer receives gate outcomes for instrumentation.
type Observer interface {
	GateAllowed(gate string)
	GateDenied(gate string)
	GateOverflow(gate string)
	GatePruned(gate string, removed int)
}

type entry struct {
	at     time.Time
	window time.Duration
}

// Gate is a mutex-guarded map from key to last allowed action.
//
// The map never exceeds its maximum: the write that crosses it clears everything.
type Gate struct {
	name       string
	maxEntries int
	clock      func() time.Time
	logger     *slog.Logger
	observer   Observer

	mu      sync.Mutex
	entries map[int64]entry
}

// Option mutates gate construction.
type Option func(*Gate)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithMaxEntries bounds the cache size.
func WithMaxEntries(maxEntries int) Option {
	return func(g *Gate) {
		if maxEntries > 0 {
			g.maxEntries = maxEntries
		}
	}
}

// WithLogger sets the logger used for overflow warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithObserver reports outcomes to observer.
func WithObserver(observer Observer) Option {
	return func(g *Gate) {
		if observer != nil {
			g.observer = observer
		}
	}
}

// New creates an empty gate named for logs and metrics.
func New(name string, options ...Option) *Gate {
	gate := &Gate{
		name:       name,
		maxEntries: defaultMaxEntries,
		clock:      time.Now,
		logger:     slog.Default(),
		observer:   nopObserver{},
		entries:    make(map[int64]entry),
	}
	for _, option := range options {
		option(gate)
	}

	return gate
}

// Name returns the gate name.
func (g *Gate) Name() string {
	return g.name
}

// TryAcquire records an action for key unless one happened within window.
func (g *Gate) TryAcquire(key int64, window time.Duration) bool {
	now := g.clock()

	g.mu.Lock()
	previous, exists := g.entries[key]
	if exists && now.Sub(previous.at) < window {
		g.mu.Unlock()
		g.observer.GateDenied(g.name)
		return false
	}

	g.entries[key] = entry{at: now, window: window}
	overflow := len(g.entries) > g.maxEntries
	if overflow {
		g.entries = make(map[int64]entry)
	}
	g.mu.Unlock()

	g.observer.GateAllowed(g.name)
	if overflow {
		g.logger.Warn("dedup cache cleared", "gate", g.name, "limit", g.maxEntries)
		g.observer.GateOverflow(g.name)
	}

	return true
}

// Prune removes entries whose window has elapsed and returns how many were removed.
func (g *Gate) Prune(now time.Time) int {
	g.mu.Lock()
	removed := 0
	for key, stored := range g.entries {
		if now.Sub(stored.at) > stored.window {
			delete(g.entries, key)
			removed++
		}
	}
	g.mu.Unlock()

	if removed > 0 {
		g.observer.GatePruned(g.name, removed)
	}

	return removed
}

// Len returns the number of tracked keys.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.entries)
}

// Contains reports whether key is tracked.
func (g *Gate) Contains(key int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, exists := g.entries[key]
	return exists
}

type nopObserver struct{}

func (nopObserver) GateAllowed(string)     {}
func (nopObserver) GateDenied(string)      {}
func (nopObserver) GateOverflow(string)    {}
func (nopObserver) GatePruned(string, int) {}

var _ herald.DedupGate = (*Gate)(nil)
