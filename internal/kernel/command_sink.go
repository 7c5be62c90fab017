package kernel

import (
	"context"
	"fmt"

	"herald/pkg/herald"
)

type commandRegistration struct {
	moduleName string
	spec       herald.CommandSpec
}

// registerModuleCommands claims the module's command names in the kernel catalog.
//
// Names are global: a command declared by two modules is rejected for the second one.
func (k *Kernel) registerModuleCommands(moduleName string, commands []herald.CommandSpec) error {
	if len(commands) == 0 {
		return nil
	}

	declared := make(map[string]herald.CommandSpec, len(commands))
	for index, command := range commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("register command[%d] for module %s: %w", index, moduleName, err)
		}
		command.Name = herald.NormalizeCommandName(command.Name)
		if _, exists := declared[command.Name]; exists {
			return fmt.Errorf("register command /%s for module %s: duplicate declaration", command.Name, moduleName)
		}
		declared[command.Name] = command
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for name := range declared {
		if existing, exists := k.commands[name]; exists {
			return fmt.Errorf(
				"register command /%s for module %s: already registered by module %s",
				name,
				moduleName,
				existing.moduleName,
			)
		}
	}
	for name, command := range declared {
		k.commands[name] = commandRegistration{moduleName: moduleName, spec: command}
	}

	return nil
}

// unregisterModuleCommands drops every command owned by moduleName.
func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for name, registration := range k.commands {
		if registration.moduleName == moduleName {
			delete(k.commands, name)
		}
	}
}

func (k *Kernel) lookupCommand(name string) (herald.CommandSpec, bool) {
	k.mu.RLock()
	registration, exists := k.commands[herald.NormalizeCommandName(name)]
	k.mu.RUnlock()

	return registration.spec, exists
}

// driverSink wraps the bus so that registered slash commands also publish command events.
func (k *Kernel) driverSink() herald.EventSink {
	return &commandDerivingSink{
		bus:            k.bus,
		lookup:         k.lookupCommand,
		reportError:    k.cfg.onAsyncError,
		observePublish: k.cfg.onPublish,
	}
}

// commandDerivingSink publishes the source event, then a command.received event
// when the message text invokes a registered command.
//
// Unregistered commands are left on the message event for modules to inspect.
type commandDerivingSink struct {
	bus            herald.EventSink
	lookup         func(name string) (herald.CommandSpec, bool)
	reportError    func(context.Context, string, error)
	observePublish func(herald.EventKind)
}

// Publish forwards event and derives at most one command event from it.
func (s *commandDerivingSink) Publish(ctx context.Context, event *herald.Event) error {
	if event == nil {
		return fmt.Errorf("publish: nil event")
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}
	s.observe(event.Kind)

	if event.Kind != herald.EventKindMessageCreated || event.Message == nil {
		return nil
	}
	candidate, matched, err := herald.ParseCommandCandidate(event.Message.Text)
	if !matched {
		return nil
	}
	if err != nil {
		s.report(ctx, "derive command", err)
		return nil
	}
	spec, registered := s.lookup(candidate.Name)
	if !registered {
		return nil
	}

	invocation, err := herald.BindCommand(candidate, spec, event)
	if err != nil {
		s.report(ctx, "derive command", err)
		return nil
	}
	commandEvent := commandEventFrom(event, invocation)
	if err := s.bus.Publish(ctx, commandEvent); err != nil {
		return fmt.Errorf("publish derived command %s: %w", invocation.Name, err)
	}
	s.observe(commandEvent.Kind)

	return nil
}

func (s *commandDerivingSink) observe(kind herald.EventKind) {
	if s.observePublish != nil {
		s.observePublish(kind)
	}
}

func (s *commandDerivingSink) report(ctx context.Context, scope string, err error) {
	if s.reportError != nil {
		s.reportError(ctx, scope, err)
	}
}

// commandEventFrom copies the envelope of source so command handlers never share its payload.
func commandEventFrom(source *herald.Event, invocation herald.CommandInvocation) *herald.Event {
	message := *source.Message
	invocation.Args = append([]string(nil), invocation.Args...)

	var metadata map[string]string
	if len(source.Metadata) > 0 {
		metadata = make(map[string]string, len(source.Metadata))
		for key, value := range source.Metadata {
			metadata[key] = value
		}
	}

	return &herald.Event{
		ID:           source.ID + "#command",
		Kind:         herald.EventKindCommandReceived,
		OccurredAt:   source.OccurredAt,
		Platform:     source.Platform,
		Conversation: source.Conversation,
		Actor:        source.Actor,
		Message:      &message,
		Command:      &invocation,
		Metadata:     metadata,
	}
}
