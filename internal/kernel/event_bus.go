package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"herald/pkg/herald"
)

// busDefaults holds the values substituted for omitted subscription fields.
type busDefaults struct {
	buffer         int
	workers        int
	handlerTimeout time.Duration
}

// EventBus fans events out to bounded per-subscriber queues drained by worker goroutines.
type EventBus struct {
	mu          sync.RWMutex
	lastID      atomic.Int64
	closed      bool
	subscribers map[int64]*subscriber
	defaults    busDefaults
	reportError func(context.Context, string, error)
}

// NewEventBus creates an event bus using the given subscription defaults.
func NewEventBus(
	buffer int,
	workers int,
	handlerTimeout time.Duration,
	reportError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		subscribers: make(map[int64]*subscriber),
		defaults: busDefaults{
			buffer:         buffer,
			workers:        workers,
			handlerTimeout: handlerTimeout,
		},
		reportError: reportError,
	}
}

// Publish validates event and queues it on every matching subscriber.
//
// Drops and closed subscribers are reported asynchronously and do not fail the publish.
func (b *EventBus) Publish(ctx context.Context, event *herald.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	subscribers, err := b.activeSubscribers()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var failures []error
	for _, sub := range subscribers {
		if !sub.interest.Matches(event) {
			continue
		}
		err := sub.offer(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, herald.ErrEventDropped), errors.Is(err, herald.ErrSubscriptionClosed):
			b.report(ctx, sub.spec.Name, err)
		default:
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("publish event %s: %w", event.Kind, errors.Join(failures...))
	}

	return nil
}

// Subscribe starts a subscriber whose workers run until Close.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest herald.InterestSet,
	spec herald.SubscriptionSpec,
	handler herald.EventHandler,
) (herald.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}
	if spec.Backpressure != "" && !knownBackpressure(spec.Backpressure) {
		return nil, fmt.Errorf("subscribe %s: %w: backpressure %q", spec.Name, herald.ErrInvalidSubscription, spec.Backpressure)
	}

	id := b.lastID.Add(1)
	sub := newSubscriber(id, copyInterest(interest), b.withDefaults(spec, id), handler, b)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.stop()
		return nil, fmt.Errorf("subscribe %s: bus closed", sub.spec.Name)
	}
	b.subscribers[id] = sub

	return sub, nil
}

// Close stops every subscriber and waits for their workers within ctx.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subscribers := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.subscribers = make(map[int64]*subscriber)
	b.mu.Unlock()

	var failures []error
	for _, sub := range subscribers {
		if err := sub.drain(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("close event bus: %w", errors.Join(failures...))
	}

	return nil
}

func (b *EventBus) activeSubscribers() ([]*subscriber, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errors.New("bus closed")
	}
	subscribers := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}

	return subscribers, nil
}

func (b *EventBus) withDefaults(spec herald.SubscriptionSpec, id int64) herald.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.handlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = herald.BackpressureDropNewest
	}

	return spec
}

func (b *EventBus) remove(ctx context.Context, id int64) error {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.drain(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

func (b *EventBus) report(ctx context.Context, scope string, err error) {
	if b.reportError != nil {
		b.reportError(ctx, scope, err)
	}
}

func knownBackpressure(policy herald.BackpressurePolicy) bool {
	switch policy {
	case herald.BackpressureDropNewest, herald.BackpressureDropOldest, herald.BackpressureBlock:
		return true
	default:
		return false
	}
}

// copyInterest detaches the filter slices from the caller.
func copyInterest(interest herald.InterestSet) herald.InterestSet {
	interest.Kinds = append([]herald.EventKind(nil), interest.Kinds...)
	interest.CommandNames = append([]string(nil), interest.CommandNames...)
	interest.CallbackPrefixes = append([]string(nil), interest.CallbackPrefixes...)

	return interest
}

// subscriber owns one queue and its workers.
//
// Workers stop on context cancellation; the queue channel is never closed.
type subscriber struct {
	id       int64
	interest herald.InterestSet
	spec     herald.SubscriptionSpec
	handler  herald.EventHandler
	queue    chan *herald.Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  atomic.Bool
	stopOnce sync.Once
	bus      *EventBus
}

func newSubscriber(
	id int64,
	interest herald.InterestSet,
	spec herald.SubscriptionSpec,
	handler herald.EventHandler,
	bus *EventBus,
) *subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		id:       id,
		interest: interest,
		spec:     spec,
		handler:  handler,
		queue:    make(chan *herald.Event, spec.Buffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		bus:      bus,
	}

	var workers sync.WaitGroup
	for worker := 0; worker < spec.Workers; worker++ {
		workers.Add(1)
		go func(worker int) {
			defer workers.Done()
			sub.work(worker)
		}(worker)
	}
	go func() {
		workers.Wait()
		close(sub.done)
	}()

	return sub
}

// Name returns the subscription name.
func (s *subscriber) Name() string {
	return s.spec.Name
}

// Close detaches the subscriber from the bus and waits for its workers.
func (s *subscriber) Close(ctx context.Context) error {
	return s.bus.remove(ctx, s.id)
}

func (s *subscriber) offer(ctx context.Context, event *herald.Event) error {
	if s.stopped.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, herald.ErrSubscriptionClosed)
	}

	select {
	case s.queue <- event:
		return nil
	default:
	}

	switch s.spec.Backpressure {
	case herald.BackpressureDropOldest:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- event:
			return nil
		default:
		}
	case herald.BackpressureBlock:
		select {
		case s.queue <- event:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		case <-s.ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, herald.ErrSubscriptionClosed)
		}
	}

	return fmt.Errorf("enqueue %s: %w", s.spec.Name, herald.ErrEventDropped)
}

func (s *subscriber) work(worker int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.dispatch(worker, event); err != nil {
				s.bus.report(s.ctx, s.spec.Name, err)
			}
		}
	}
}

// dispatch runs the handler under the subscription timeout with panic recovery.
func (s *subscriber) dispatch(worker int, event *herald.Event) error {
	ctx, cancel := s.ctx, context.CancelFunc(func() {})
	if s.spec.HandlerTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	}
	defer cancel()

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, worker)
	if err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s: %w", event.Kind, err)
	}

	return nil
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()
	})
}

// drain stops the workers and waits until they exit or ctx ends.
func (s *subscriber) drain(ctx context.Context) error {
	s.stop()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
