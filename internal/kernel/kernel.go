// Package kernel hosts modules and drivers around a bounded asynchronous event bus.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"herald/pkg/herald"
)

// Kernel owns the event bus, the service registry and the module and driver lifecycles.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	mu       sync.RWMutex
	modules  []*moduleRecord
	commands map[string]commandRegistration
	drivers  []herald.Driver

	running sync.Mutex
}

// New creates a kernel. The command catalog service is registered immediately.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	k := &Kernel{
		cfg:      cfg,
		bus:      NewEventBus(cfg.subscriptionBuffer, cfg.subscriptionWorker, cfg.handlerTimeout, cfg.onAsyncError),
		services: NewServiceRegistry(),
		commands: make(map[string]commandRegistration),
	}
	if err := k.services.Register(herald.ServiceCommandCatalog, &commandCatalog{kernel: k}); err != nil {
		cfg.onAsyncError(context.Background(), "register command catalog", err)
	}

	return k
}

// EventBus exposes the bus for integration code and tests.
func (k *Kernel) EventBus() herald.EventBus {
	return k.bus
}

// Services exposes the service registry.
func (k *Kernel) Services() herald.ServiceRegistry {
	return k.services
}

// RegisterService binds a shared service before modules resolve it.
func (k *Kernel) RegisterService(name string, service any) error {
	return k.services.Register(name, service)
}

// RegisterModule validates module, claims its commands, runs OnRegister and subscribes its handlers.
//
// Any failure rolls the module back completely.
func (k *Kernel) RegisterModule(ctx context.Context, module herald.Module) error {
	if module == nil {
		return errors.New("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return errors.New("register module: empty module name")
	}
	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	capabilities := spec.Capabilities()
	if err := k.checkRequiredServices(capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	record := &moduleRecord{name: name, module: module, capabilities: capabilities}
	k.mu.Lock()
	for _, existing := range k.modules {
		if existing.name == name {
			k.mu.Unlock()
			return fmt.Errorf("register module %s: %w", name, herald.ErrModuleAlreadyRegistered)
		}
	}
	k.modules = append(k.modules, record)
	k.mu.Unlock()

	if err := k.registerModuleCommands(name, spec.Commands); err != nil {
		k.rollback(ctx, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	runtime := &moduleRuntime{record: record, services: k.services, bus: k.bus}
	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	if registrar, ok := module.(herald.ModuleRegistrar); ok {
		if err := runSafely("module "+name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			k.rollback(ctx, record)
			return fmt.Errorf("register module %s: %w", name, err)
		}
	}

	for index, handler := range spec.Handlers {
		subscription := handler.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-%s", name, handler.Capability.Name)
		}
		if _, err := runtime.Subscribe(hookCtx, handler.Capability.Interest, subscription, handler.Handler); err != nil {
			k.rollback(ctx, record)
			return fmt.Errorf("register module %s handler %d: %w", name, index, err)
		}
	}

	k.cfg.logger.Debug("module registered", "module", name, "handlers", len(spec.Handlers), "commands", len(spec.Commands))

	return nil
}

// RegisterDriver adds a platform driver started by Run.
func (k *Kernel) RegisterDriver(driver herald.Driver) error {
	if driver == nil {
		return errors.New("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return errors.New("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, existing := range k.drivers {
		if existing.Name() == name {
			return fmt.Errorf("register driver %s: %w", name, herald.ErrDriverAlreadyRegistered)
		}
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

// Run starts modules and drivers, blocks until ctx ends or a driver fails, then shuts everything down.
//
// Cancellation of ctx is a clean exit and returns nil.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.running.TryLock() {
		return errors.New("kernel run: already running")
	}
	defer k.running.Unlock()

	modules, drivers := k.snapshot()
	for _, record := range modules {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnStart", func() error {
			return record.module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return errors.Join(fmt.Errorf("start module %s: %w", record.name, err), k.shutdown(ctx, modules, drivers))
		}
	}

	driverCtx, stopDrivers := context.WithCancel(ctx)
	driverErr, driversDone := k.runDrivers(driverCtx, drivers)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-driverErr:
	}
	stopDrivers()

	select {
	case <-driversDone:
	case <-time.After(k.cfg.shutdownTimeout):
		k.cfg.logger.Warn("drivers did not stop before shutdown timeout", "timeout", k.cfg.shutdownTimeout)
	}

	return errors.Join(runErr, k.shutdown(ctx, modules, drivers))
}

func (k *Kernel) snapshot() ([]*moduleRecord, []herald.Driver) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return append([]*moduleRecord(nil), k.modules...), append([]herald.Driver(nil), k.drivers...)
}

// runDrivers starts each driver on its own goroutine.
//
// The error channel carries the first failure other than cancellation.
// done closes once every driver returned.
func (k *Kernel) runDrivers(ctx context.Context, drivers []herald.Driver) (<-chan error, <-chan struct{}) {
	errs := make(chan error, 1)
	done := make(chan struct{})
	sink := k.driverSink()

	var wg sync.WaitGroup
	for _, driver := range drivers {
		wg.Add(1)
		go func(driver herald.Driver) {
			defer wg.Done()
			err := runSafely("driver "+driver.Name()+" Start", func() error {
				return driver.Start(ctx, sink)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case errs <- fmt.Errorf("run driver %s: %w", driver.Name(), err):
			default:
			}
		}(driver)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	return errs, done
}

// shutdown stops drivers, then modules, then the bus, in reverse registration order.
// It outlives the cancellation of ctx up to the shutdown timeout.
func (k *Kernel) shutdown(ctx context.Context, modules []*moduleRecord, drivers []herald.Driver) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for index := len(drivers) - 1; index >= 0; index-- {
		driver := drivers[index]
		if err := runSafely("driver "+driver.Name()+" Shutdown", func() error {
			return driver.Shutdown(shutdownCtx)
		}); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	for index := len(modules) - 1; index >= 0; index-- {
		record := modules[index]
		if err := record.closeSubscriptions(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("module %s: %w", record.name, err))
		}
		hookCtx, hookCancel := context.WithTimeout(shutdownCtx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+record.name+" OnShutdown", func() error {
			return record.module.OnShutdown(hookCtx)
		})
		hookCancel()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	if err := k.bus.Close(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}

	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// rollback undoes a partial RegisterModule.
func (k *Kernel) rollback(ctx context.Context, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback module "+record.name, err)
	}
	k.unregisterModuleCommands(record.name)

	k.mu.Lock()
	defer k.mu.Unlock()
	kept := k.modules[:0]
	for _, existing := range k.modules {
		if existing != record {
			kept = append(kept, existing)
		}
	}
	k.modules = kept
}

func (k *Kernel) checkRequiredServices(capabilities []herald.Capability) error {
	for _, capability := range capabilities {
		for _, service := range capability.RequiredServices {
			if _, err := k.services.Resolve(service); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, service, err)
			}
		}
	}

	return nil
}

func validateModuleSpec(spec herald.ModuleSpec) error {
	capabilities := make(map[string]struct{}, len(spec.Handlers))
	subscriptions := make(map[string]struct{}, len(spec.Handlers))
	for index, handler := range spec.Handlers {
		name := handler.Capability.Name
		switch {
		case name == "":
			return fmt.Errorf("handler %d: empty capability name", index)
		case handler.Handler == nil:
			return fmt.Errorf("handler %s: nil handler", name)
		}
		if _, exists := capabilities[name]; exists {
			return fmt.Errorf("handler %d: duplicate capability %s", index, name)
		}
		capabilities[name] = struct{}{}

		if subscription := handler.Subscription.Name; subscription != "" {
			if _, exists := subscriptions[subscription]; exists {
				return fmt.Errorf("handler %s: duplicate subscription %s", name, subscription)
			}
			subscriptions[subscription] = struct{}{}
		}
	}

	return nil
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
