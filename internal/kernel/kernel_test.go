package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"herald/pkg/herald"
)

func noopHandler(context.Context, *herald.Event) error { return nil }

func TestRegisterModuleRequiredServices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		registerService bool
		wantErr         bool
	}{
		{name: "missing required service fails", wantErr: true},
		{name: "present required service succeeds", registerService: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			k := New()
			t.Cleanup(func() {
				_ = k.EventBus().Close(context.Background())
			})
			if testCase.registerService {
				if err := k.RegisterService(herald.ServiceFeatureFlags, struct{}{}); err != nil {
					t.Fatalf("register service failed: %v", err)
				}
			}

			module := &stubModule{
				name: "needs-flags",
				spec: herald.ModuleSpec{Handlers: []herald.ModuleHandler{{
					Capability: herald.Capability{
						Name:             "joins",
						Interest:         herald.InterestSet{Kinds: []herald.EventKind{herald.EventKindMemberJoined}},
						RequiredServices: []string{herald.ServiceFeatureFlags},
					},
					Handler: noopHandler,
				}}},
			}
			err := k.RegisterModule(context.Background(), module)
			if testCase.wantErr != (err != nil) {
				t.Fatalf("register error = %v, wantErr %v", err, testCase.wantErr)
			}
			if testCase.wantErr && !errors.Is(err, herald.ErrServiceNotFound) {
				t.Fatalf("error %v does not wrap ErrServiceNotFound", err)
			}
		})
	}
}

func TestKernelRunDeliversDriverEventsAndCommands(t *testing.T) {
	t.Parallel()

	k := New(WithDefaultHandlerTimeout(time.Second))

	messages := make(chan *herald.Event, 4)
	commands := make(chan *herald.Event, 4)
	module := &stubModule{
		name: "echo",
		spec: herald.ModuleSpec{
			Handlers: []herald.ModuleHandler{
				{
					Capability: herald.Capability{
						Name:     "messages",
						Interest: herald.InterestSet{Kinds: []herald.EventKind{herald.EventKindMessageCreated}},
					},
					Handler: func(_ context.Context, event *herald.Event) error {
						messages <- event
						return nil
					},
				},
				{
					Capability: herald.Capability{
						Name: "version-command",
						Interest: herald.InterestSet{
							Kinds:          []herald.EventKind{herald.EventKindCommandReceived},
							RequireCommand: true,
							CommandNames:   []string{"version"},
						},
					},
					Handler: func(_ context.Context, event *herald.Event) error {
						commands <- event
						return nil
					},
				},
			},
			Commands: []herald.CommandSpec{{Name: "version"}},
		},
	}
	if err := k.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	source := newTestEvent("evt-1", herald.EventKindMessageCreated)
	source.Message.Text = "/version"
	driver := &stubDriver{name: "stub", publish: []*herald.Event{source}}
	if err := k.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}
	if err := k.RegisterDriver(&stubDriver{name: "stub"}); !errors.Is(err, herald.ErrDriverAlreadyRegistered) {
		t.Fatalf("duplicate driver error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() {
		runDone <- k.Run(ctx)
	}()

	if event := waitEvent(t, messages); event.ID != "evt-1" {
		t.Fatalf("message event = %s", event.ID)
	}
	if event := waitEvent(t, commands); event.Command.Name != "version" {
		t.Fatalf("command event = %+v", event.Command)
	}
	if err := k.Run(ctx); err == nil {
		t.Fatal("expected concurrent Run to fail")
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("kernel run returned %v, want nil on cancellation", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit")
	}

	if module.registered.Load() != 1 || module.started.Load() != 1 || module.shutdown.Load() != 1 {
		t.Fatalf(
			"module hooks register=%d start=%d shutdown=%d",
			module.registered.Load(),
			module.started.Load(),
			module.shutdown.Load(),
		)
	}
	if driver.started.Load() != 1 || driver.stopped.Load() != 1 {
		t.Fatalf("driver start=%d stop=%d", driver.started.Load(), driver.stopped.Load())
	}
}

func TestKernelRunReturnsDriverFailure(t *testing.T) {
	t.Parallel()

	k := New()
	driverErr := errors.New("session revoked")
	if err := k.RegisterDriver(&stubDriver{name: "broken", err: driverErr}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- k.Run(context.Background())
	}()

	select {
	case err := <-done:
		if !errors.Is(err, driverErr) {
			t.Fatalf("run error = %v, want driver failure", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit after driver failure")
	}
}

func TestRegisterModuleSubscriptionCapabilityGate(t *testing.T) {
	t.Parallel()

	joinCapability := herald.Capability{
		Name:     "joins",
		Interest: herald.InterestSet{Kinds: []herald.EventKind{herald.EventKindMemberJoined}},
	}

	tests := []struct {
		name     string
		handlers []herald.ModuleHandler
		interest herald.InterestSet
		wantErr  bool
	}{
		{
			name:     "no capability",
			interest: herald.InterestSet{Kinds: []herald.EventKind{herald.EventKindMemberJoined}},
			wantErr:  true,
		},
		{
			name:     "covered interest",
			handlers: []herald.ModuleHandler{{Capability: joinCapability, Handler: noopHandler}},
			interest: herald.InterestSet{Kinds: []herald.EventKind{herald.EventKindMemberJoined}},
		},
		{
			name:     "wider interest rejected",
			handlers: []herald.ModuleHandler{{Capability: joinCapability, Handler: noopHandler}},
			interest: herald.InterestSet{},
			wantErr:  true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			k := New()
			t.Cleanup(func() {
				_ = k.EventBus().Close(context.Background())
			})

			module := &stubModule{
				name: "imperative",
				spec: herald.ModuleSpec{Handlers: testCase.handlers},
				onRegister: func(ctx context.Context, runtime herald.ModuleRuntime) error {
					_, err := runtime.Subscribe(ctx, testCase.interest, herald.SubscriptionSpec{Name: "extra"}, noopHandler)
					if err != nil {
						return fmt.Errorf("subscribe extra: %w", err)
					}
					return nil
				},
			}

			err := k.RegisterModule(context.Background(), module)
			if testCase.wantErr != (err != nil) {
				t.Fatalf("register error = %v, wantErr %v", err, testCase.wantErr)
			}
		})
	}
}

func TestRegisterModuleSpecValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		module     herald.Module
		wantErrSub string
	}{
		{
			name:       "nil module",
			wantErrSub: "nil module",
		},
		{
			name:       "empty name",
			module:     &stubModule{},
			wantErrSub: "empty module name",
		},
		{
			name: "empty capability name",
			module: &stubModule{name: "m", spec: herald.ModuleSpec{Handlers: []herald.ModuleHandler{
				{Handler: noopHandler},
			}}},
			wantErrSub: "empty capability name",
		},
		{
			name: "nil handler",
			module: &stubModule{name: "m", spec: herald.ModuleSpec{Handlers: []herald.ModuleHandler{
				{Capability: herald.Capability{Name: "c"}},
			}}},
			wantErrSub: "nil handler",
		},
		{
			name: "duplicate capability",
			module: &stubModule{name: "m", spec: herald.ModuleSpec{Handlers: []herald.ModuleHandler{
				{Capability: herald.Capability{Name: "c"}, Handler: noopHandler},
				{Capability: herald.Capability{Name: "c"}, Handler: noopHandler},
			}}},
			wantErrSub: "duplicate capability",
		},
		{
			name: "duplicate subscription",
			module: &stubModule{name: "m", spec: herald.ModuleSpec{Handlers: []herald.ModuleHandler{
				{Capability: herald.Capability{Name: "a"}, Subscription: herald.SubscriptionSpec{Name: "s"}, Handler: noopHandler},
				{Capability: herald.Capability{Name: "b"}, Subscription: herald.SubscriptionSpec{Name: "s"}, Handler: noopHandler},
			}}},
			wantErrSub: "duplicate subscription",
		},
		{
			name: "invalid command",
			module: &stubModule{name: "m", spec: herald.ModuleSpec{Commands: []herald.CommandSpec{
				{Name: "two words"},
			}}},
			wantErrSub: "invalid name",
		},
		{
			name: "duplicate command in module",
			module: &stubModule{name: "m", spec: herald.ModuleSpec{Commands: []herald.CommandSpec{
				{Name: "users"},
				{Name: "Users"},
			}}},
			wantErrSub: "duplicate declaration",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			k := New()
			t.Cleanup(func() {
				_ = k.EventBus().Close(context.Background())
			})

			err := k.RegisterModule(context.Background(), testCase.module)
			if err == nil || !strings.Contains(err.Error(), testCase.wantErrSub) {
				t.Fatalf("register error = %v, want substring %q", err, testCase.wantErrSub)
			}
		})
	}
}

func TestRegisterModuleRollsBackOnRegisterFailure(t *testing.T) {
	t.Parallel()

	k := New()
	t.Cleanup(func() {
		_ = k.EventBus().Close(context.Background())
	})

	failing := &stubModule{
		name: "flaky",
		spec: herald.ModuleSpec{Commands: []herald.CommandSpec{{Name: "rules"}}},
		onRegister: func(context.Context, herald.ModuleRuntime) error {
			panic("resolve failed")
		},
	}
	if err := k.RegisterModule(context.Background(), failing); err == nil || !strings.Contains(err.Error(), "panic recovered") {
		t.Fatalf("register error = %v, want recovered panic", err)
	}

	if _, ok := k.lookupCommand("rules"); ok {
		t.Fatal("command of rolled back module still registered")
	}
	if err := k.RegisterModule(context.Background(), &stubModule{name: "flaky"}); err != nil {
		t.Fatalf("register after rollback failed: %v", err)
	}
	if err := k.RegisterModule(context.Background(), &stubModule{name: "flaky"}); !errors.Is(err, herald.ErrModuleAlreadyRegistered) {
		t.Fatalf("duplicate module error = %v", err)
	}
}

func TestKernelProvidesCommandCatalogService(t *testing.T) {
	t.Parallel()

	k := New()
	catalog, err := herald.ResolveAs[herald.CommandCatalog](k.Services(), herald.ServiceCommandCatalog)
	if err != nil {
		t.Fatalf("resolve command catalog failed: %v", err)
	}

	module := &stubModule{
		name: "admin",
		spec: herald.ModuleSpec{Commands: []herald.CommandSpec{
			{Name: "version"},
			{Name: "Health", AdminOnly: true},
		}},
	}
	if err := k.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	commands, err := catalog.ListCommands(context.Background())
	if err != nil {
		t.Fatalf("list commands failed: %v", err)
	}
	if len(commands) != 2 {
		t.Fatalf("commands len = %d, want 2", len(commands))
	}
	if commands[0].Command.Name != "health" || !commands[0].Command.AdminOnly || commands[0].ModuleName != "admin" {
		t.Fatalf("commands[0] = %+v", commands[0])
	}
	if commands[1].Command.Name != "version" {
		t.Fatalf("commands[1] = %+v", commands[1])
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := catalog.ListCommands(canceled); err == nil {
		t.Fatal("expected canceled context error")
	}
}

type stubModule struct {
	name string
	spec herald.ModuleSpec

	onRegister func(ctx context.Context, runtime herald.ModuleRuntime) error

	registered atomic.Int32
	started    atomic.Int32
	shutdown   atomic.Int32
}

func (m *stubModule) Name() string {
	return m.name
}

func (m *stubModule) Spec() herald.ModuleSpec {
	return m.spec
}

func (m *stubModule) OnRegister(ctx context.Context, runtime herald.ModuleRuntime) error {
	m.registered.Add(1)
	if m.onRegister != nil {
		return m.onRegister(ctx, runtime)
	}

	return nil
}

func (m *stubModule) OnStart(context.Context) error {
	m.started.Add(1)
	return nil
}

func (m *stubModule) OnShutdown(context.Context) error {
	m.shutdown.Add(1)
	return nil
}

type stubDriver struct {
	name    string
	publish []*herald.Event
	err     error

	started atomic.Int32
	stopped atomic.Int32
}

func (d *stubDriver) Name() string {
	return d.name
}

func (d *stubDriver) Start(ctx context.Context, sink herald.EventSink) error {
	d.started.Add(1)
	if d.err != nil {
		return d.err
	}
	for _, event := range d.publish {
		if err := sink.Publish(ctx, event); err != nil {
			return err
		}
	}
	<-ctx.Done()

	return ctx.Err()
}

func (d *stubDriver) Shutdown(context.Context) error {
	d.stopped.Add(1)
	return nil
}
