package herald

import (
	"fmt"
)

const (
	// ServiceSinkDispatcher is the canonical service key for outbound platform operations.
	ServiceSinkDispatcher = "herald.sink_dispatcher"
	// ServiceLogger is the canonical service key for the shared *slog.Logger.
	ServiceLogger = "herald.logger"
	// ServiceCommandCatalog is the canonical service key for command discovery.
	ServiceCommandCatalog = "herald.command_catalog"
	// ServiceFeatureFlags is the canonical service key for runtime feature toggles.
	ServiceFeatureFlags = "herald.feature_flags"
	// ServiceAccessPolicy is the canonical service key for admin and chat allow lists.
	ServiceAccessPolicy = "herald.access_policy"
	// ServiceMessageRegistry is the canonical service key for autodelete registration.
	ServiceMessageRegistry = "herald.message_registry"
	// ServiceUserRegistry is the canonical service key for the join registry.
	ServiceUserRegistry = "herald.user_registry"
	// ServiceWelcomeGate is the per-user dedup gate shared by both join pathways.
	ServiceWelcomeGate = "herald.gate.welcome"
	// ServiceRulesGate is the per-user dedup gate for rules replies.
	ServiceRulesGate = "herald.gate.rules"
	// ServiceTriggerGate is the per-chat dedup gate for keyword replies.
	ServiceTriggerGate = "herald.gate.trigger"
)

// ServiceRegistry provides runtime dependency injection to modules and drivers.
type ServiceRegistry interface {
	// Register binds a singleton service value to a stable name.
	Register(name string, service any) error
	// Resolve returns a registered service by name.
	Resolve(name string) (any, error)
}

// ResolveAs resolves a service and casts it to the requested type.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return typed, nil
}
