package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"herald/pkg/herald"
)

// moduleRecord tracks one registered module and the subscriptions it owns.
type moduleRecord struct {
	name          string
	module        herald.Module
	capabilities  []herald.Capability
	mu            sync.Mutex
	subscriptions []herald.Subscription
}

func (m *moduleRecord) track(subscription herald.Subscription) {
	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, subscription)
	m.mu.Unlock()
}

// closeSubscriptions closes every tracked subscription once; later calls are no-ops.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.mu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the herald.ModuleRuntime handed to one module.
type moduleRuntime struct {
	record   *moduleRecord
	services herald.ServiceRegistry
	bus      herald.EventBus
}

// Services returns the shared kernel service registry.
func (r *moduleRuntime) Services() herald.ServiceRegistry {
	return r.services
}

// Subscribe registers a subscription covered by one of the module's declared capabilities.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest herald.InterestSet,
	spec herald.SubscriptionSpec,
	handler herald.EventHandler,
) (herald.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.record.name + "-subscription"
	}
	if !capabilitiesAllow(r.record.capabilities, interest) {
		return nil, fmt.Errorf(
			"module %s subscribe %s: interest not covered by declared capabilities",
			r.record.name,
			spec.Name,
		)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.record.name, spec.Name, err)
	}
	r.record.track(subscription)

	return subscription, nil
}

func capabilitiesAllow(capabilities []herald.Capability, interest herald.InterestSet) bool {
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return true
		}
	}

	return false
}
