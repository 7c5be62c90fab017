package kernel

import (
	"fmt"
	"sync"

	"herald/pkg/herald"
)

// ServiceRegistry is a concurrency-safe map of named singletons.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]any
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[string]any)}
}

// Register binds service to name. Names can be bound once.
func (r *ServiceRegistry) Register(name string, service any) error {
	switch {
	case name == "":
		return fmt.Errorf("register service: empty name")
	case service == nil:
		return fmt.Errorf("register service %s: nil service", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("register service %s: %w", name, herald.ErrServiceAlreadyRegistered)
	}
	r.services[name] = service

	return nil
}

// Resolve returns the service bound to name.
func (r *ServiceRegistry) Resolve(name string) (any, error) {
	r.mu.RLock()
	service, exists := r.services[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("resolve service %q: %w", name, herald.ErrServiceNotFound)
	}

	return service, nil
}

var _ herald.ServiceRegistry = (*ServiceRegistry)(nil)
