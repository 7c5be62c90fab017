package lifecycle

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"herald/pkg/herald"
)

const (
	defaultSweepInterval = 5 * time.Second
	defaultPruneInterval = 5 * time.Minute
)

// MessageDeleter removes a message from a chat.
type MessageDeleter interface {
	DeleteMessage(ctx context.Context, request herald.DeleteMessageRequest) error
}

// SweepObserver receives sweep outcomes for instrumentation.
type SweepObserver interface {
	MessageSwept(kind herald.MessageKind, deleted bool)
}

// Sweeper periodically deletes expired registered messages.
//
// Each expired entry gets one delete attempt and is removed whatever the outcome.
type Sweeper struct {
	registry *Registry
	deleter  MessageDeleter
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger
	observer SweepObserver
}

// SweeperOption mutates sweeper construction.
type SweeperOption func(*Sweeper)

// WithSweepInterval overrides the sweep period.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweepClock overrides the time source used to judge expiry.
func WithSweepClock(clock func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSweepLogger sets the sweeper logger.
func WithSweepLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweepObserver reports outcomes to observer.
func WithSweepObserver(observer SweepObserver) SweeperOption {
	return func(s *Sweeper) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// NewSweeper creates a sweeper over registry.
func NewSweeper(registry *Registry, deleter MessageDeleter, options ...SweeperOption) *Sweeper {
	sweeper := &Sweeper{
		registry: registry,
		deleter:  deleter,
		interval: defaultSweepInterval,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, option := range options {
		option(sweeper)
	}

	return sweeper
}

// Run sweeps every interval until ctx is canceled. It never flushes on exit.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "message sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(context.WithoutCancel(ctx), "message sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one sweep cycle and returns how many entries were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	expired := s.registry.Expired(s.clock())

	removed := 0
	for _, entry := range expired {
		if ctx.Err() != nil {
			return removed
		}

		err := s.deleter.DeleteMessage(ctx, herald.DeleteMessageRequest{
			Target:    herald.OutboundTarget{Conversation: entry.Conversation},
			MessageID: strconv.Itoa(entry.MessageID),
		})
		if err != nil {
			s.logger.WarnContext(ctx, "autodelete failed",
				"chat_id", entry.Conversation.ID,
				"message_id", entry.MessageID,
				"kind", entry.Kind,
				"error", err,
			)
		} else {
			s.logger.DebugContext(ctx, "autodelete",
				"chat_id", entry.Conversation.ID,
				"message_id", entry.MessageID,
				"kind", entry.Kind,
			)
		}
		if s.observer != nil {
			s.observer.MessageSwept(entry.Kind, err == nil)
		}
		if s.registry.RemoveEntry(entry) {
			removed++
		}
	}

	return removed
}

// Prunable is a cache that can drop entries older than their window.
type Prunable interface {
	Name() string
	Prune(now time.Time) int
}

// Pruner periodically prunes dedup caches.
type Pruner struct {
	caches   []Prunable
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger
}

// PrunerOption mutates pruner construction.
type PrunerOption func(*Pruner)

// WithPruneInterval overrides the prune period.
func WithPruneInterval(interval time.Duration) PrunerOption {
	return func(p *Pruner) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithPruneClock overrides the time source.
func WithPruneClock(clock func() time.Time) PrunerOption {
	return func(p *Pruner) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithPruneLogger sets the pruner logger.
func WithPruneLogger(logger *slog.Logger) PrunerOption {
	return func(p *Pruner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPruner creates a pruner over caches.
func NewPruner(caches []Prunable, options ...PrunerOption) *Pruner {
	pruner := &Pruner{
		caches:   append([]Prunable(nil), caches...),
		interval: defaultPruneInterval,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, option := range options {
		option(pruner)
	}

	return pruner
}

// Run prunes every interval until ctx is canceled.
func (p *Pruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce prunes every cache once and returns the total removed.
func (p *Pruner) PruneOnce(ctx context.Context) int {
	now := p.clock()

	total := 0
	for _, cache := range p.caches {
		removed := cache.Prune(now)
		if removed > 0 {
			p.logger.DebugContext(ctx, "dedup cache pruned", "gate", cache.Name(), "removed", removed)
		}
		total += removed
	}

	return total
}
