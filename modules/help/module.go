package help

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"

	"herald/pkg/catalog"
	"herald/pkg/herald"
)

const helpCommandName = "help"

// Module replies with the command reference for /help and points admins
// at the known commands when they type an unknown one.
type Module struct {
	texts *catalog.Catalog
	mode  herald.BotMode

	dispatcher     herald.SinkDispatcher
	logger         *slog.Logger
	access         herald.AccessPolicy
	commandCatalog herald.CommandCatalog
}

// New creates a help module rendering the unknown-command hint from texts.
func New(texts *catalog.Catalog, mode herald.BotMode) (*Module, error) {
	if texts == nil {
		return nil, fmt.Errorf("new help module: nil catalog")
	}
	if _, err := herald.ParseBotMode(string(mode)); err != nil {
		return nil, fmt.Errorf("new help module: %w", err)
	}

	return &Module{texts: texts, mode: mode}, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "help"
}

// Spec declares the /help handler and the unknown command handler.
func (m *Module) Spec() herald.ModuleSpec {
	return herald.ModuleSpec{
		Handlers: []herald.ModuleHandler{
			{
				Capability: herald.Capability{
					Name:        "help-command-handler",
					Description: "renders registered command help for /help",
					Interest: herald.InterestSet{
						Kinds:          []herald.EventKind{herald.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{helpCommandName},
					},
					RequiredServices: []string{
						herald.ServiceSinkDispatcher,
						herald.ServiceLogger,
						herald.ServiceAccessPolicy,
						herald.ServiceCommandCatalog,
					},
				},
				Subscription: herald.NewDefaultSubscriptionSpec("help-commands"),
				Handler:      m.handleCommand,
			},
			{
				Capability: herald.Capability{
					Name:        "unknown-command-handler",
					Description: "hints admins at the available commands",
					Interest: herald.InterestSet{
						Kinds: []herald.EventKind{herald.EventKindMessageCreated},
					},
					RequiredServices: []string{
						herald.ServiceSinkDispatcher,
						herald.ServiceLogger,
						herald.ServiceAccessPolicy,
						herald.ServiceCommandCatalog,
					},
				},
				Subscription: herald.NewDefaultSubscriptionSpec("help-unknown-commands"),
				Handler:      m.handleUnknownCommand,
			},
		},
		Commands: []herald.CommandSpec{
			{
				Name:        helpCommandName,
				Description: "show all available commands",
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime herald.ModuleRuntime) error {
	services := runtime.Services()

	var err error
	if m.dispatcher, err = herald.ResolveAs[herald.SinkDispatcher](services, herald.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("help resolve outbound dispatcher: %w", err)
	}
	if m.logger, err = herald.ResolveAs[*slog.Logger](services, herald.ServiceLogger); err != nil {
		return fmt.Errorf("help resolve logger: %w", err)
	}
	if m.access, err = herald.ResolveAs[herald.AccessPolicy](services, herald.ServiceAccessPolicy); err != nil {
		return fmt.Errorf("help resolve access policy: %w", err)
	}
	if m.commandCatalog, err = herald.ResolveAs[herald.CommandCatalog](services, herald.ServiceCommandCatalog); err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *herald.Event) error {
	if event == nil || event.Command == nil || event.Message == nil {
		return nil
	}
	if event.Kind != herald.EventKindCommandReceived || event.Command.Name != helpCommandName {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("help handle command: outbound dispatcher not configured")
	}
	if m.commandCatalog == nil {
		return fmt.Errorf("help handle command: command catalog not configured")
	}
	if !m.access.ChatAllowed(event.Conversation.ID) {
		return nil
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}
	body := renderHelp(commands, m.access.IsAdmin(event.Actor.ID))

	return m.reply(ctx, event, body)
}

// handleUnknownCommand answers slash commands no module registered.
//
// Only admins get the hint; other senders are ignored.
func (m *Module) handleUnknownCommand(ctx context.Context, event *herald.Event) error {
	if event == nil || event.Message == nil || event.Kind != herald.EventKindMessageCreated {
		return nil
	}
	candidate, matched, err := herald.ParseCommandCandidate(event.Message.Text)
	if !matched || err != nil {
		return nil
	}
	if !m.access.IsAdmin(event.Actor.ID) {
		return nil
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}
	for _, command := range commands {
		if herald.NormalizeCommandName(command.Command.Name) == candidate.Name {
			return nil
		}
	}
	m.logger.DebugContext(ctx, "unknown command", "command", candidate.Name, "user_id", event.Actor.ID)

	texts := m.texts.Texts(m.texts.DetectLang(event.Actor.LanguageCode))

	return m.reply(ctx, event, texts.UnknownCommand)
}

func (m *Module) reply(ctx context.Context, event *herald.Event, text string) error {
	target, err := herald.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	_, err = m.dispatcher.SendMessage(ctx, herald.SendMessageRequest{
		Target:           target,
		Text:             herald.DecorateText(m.mode, text),
		ReplyToMessageID: event.Message.ID,
	})
	if err != nil {
		return fmt.Errorf("help send reply: %w", err)
	}

	return nil
}

func renderHelp(commands []herald.RegisteredCommand, admin bool) string {
	visible := make([]herald.RegisteredCommand, 0, len(commands))
	for _, command := range commands {
		if command.Command.AdminOnly && !admin {
			continue
		}
		visible = append(visible, command)
	}
	if len(visible) == 0 {
		return "<b>Available commands:</b>\n(none)"
	}

	sort.Slice(visible, func(i, j int) bool {
		left := commandLabel(visible[i].Command)
		right := commandLabel(visible[j].Command)
		if left == right {
			return visible[i].ModuleName < visible[j].ModuleName
		}
		return left < right
	})

	lines := make([]string, 0, len(visible)+1)
	lines = append(lines, "<b>Available commands:</b>\n")
	for _, command := range visible {
		line := commandLabel(command.Command)
		if usage := strings.TrimSpace(command.Command.Usage); usage != "" {
			line += " " + html.EscapeString(usage)
		}
		if description := strings.TrimSpace(command.Command.Description); description != "" {
			line += " - " + html.EscapeString(description)
		}
		if command.Command.AdminOnly {
			line += " (admin)"
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

func commandLabel(command herald.CommandSpec) string {
	return herald.CommandPrefix + herald.NormalizeCommandName(command.Name)
}

var (
	_ herald.Module          = (*Module)(nil)
	_ herald.ModuleRegistrar = (*Module)(nil)
)
