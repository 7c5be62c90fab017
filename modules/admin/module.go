// Package admin implements the operator surface: version and health reports,
// feature toggles through commands or an inline panel, and join registry stats.
//
// Every command and panel button is restricted to the configured admins.
// Denied callers are ignored in prod and told so in test mode.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"herald/pkg/catalog"
	"herald/pkg/herald"
)

const (
	versionCommandName = "version"
	healthCommandName  = "health"
	toggleCommandName  = "toggle"
	panelCommandName   = "admin"
	usersCommandName   = "users"

	// ToggleCallbackPrefix starts the callback data of panel toggle buttons.
	ToggleCallbackPrefix = "admin:toggle:"
)

// Config carries the values reported by /version and /health.
type Config struct {
	Catalog   *catalog.Catalog
	Mode      herald.BotMode
	Version   string
	StartedAt time.Time
	// Warnings are configuration findings appended to every health report.
	Warnings []string
}

// Module handles admin commands and panel callbacks.
type Module struct {
	cfg Config

	dispatcher herald.SinkDispatcher
	logger     *slog.Logger
	flags      herald.FeatureFlags
	access     herald.AccessPolicy
	messages   herald.MessageRegistry
	users      herald.UserRegistry

	clock func() time.Time
}

// New validates cfg and creates the module.
func New(cfg Config) (*Module, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("new admin module: nil catalog")
	}
	if _, err := herald.ParseBotMode(string(cfg.Mode)); err != nil {
		return nil, fmt.Errorf("new admin module: %w", err)
	}
	if strings.TrimSpace(cfg.Version) == "" {
		return nil, fmt.Errorf("new admin module: missing version")
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}

	return &Module{cfg: cfg, clock: time.Now}, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "admin"
}

// Spec declares the admin command handler and the panel callback handler.
func (m *Module) Spec() herald.ModuleSpec {
	required := []string{
		herald.ServiceSinkDispatcher,
		herald.ServiceLogger,
		herald.ServiceFeatureFlags,
		herald.ServiceAccessPolicy,
		herald.ServiceMessageRegistry,
		herald.ServiceUserRegistry,
	}

	return herald.ModuleSpec{
		Handlers: []herald.ModuleHandler{
			{
				Capability: herald.Capability{
					Name:        "admin-command-handler",
					Description: "reports bot state and toggles features",
					Interest: herald.InterestSet{
						Kinds:          []herald.EventKind{herald.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames: []string{
							versionCommandName,
							healthCommandName,
							toggleCommandName,
							panelCommandName,
							usersCommandName,
						},
					},
					RequiredServices: required,
				},
				Subscription: herald.NewDefaultSubscriptionSpec("admin-commands"),
				Handler:      m.handleCommand,
			},
			{
				Capability: herald.Capability{
					Name:        "admin-panel-callback",
					Description: "applies feature toggles pressed on the admin panel",
					Interest: herald.InterestSet{
						Kinds:            []herald.EventKind{herald.EventKindCallbackReceived},
						CallbackPrefixes: []string{ToggleCallbackPrefix},
					},
					RequiredServices: required,
				},
				Subscription: herald.NewDefaultSubscriptionSpec("admin-callbacks"),
				Handler:      m.handleCallback,
			},
		},
		Commands: []herald.CommandSpec{
			{Name: versionCommandName, Description: "show the running version", AdminOnly: true},
			{Name: healthCommandName, Description: "report permissions, counters and warnings", AdminOnly: true},
			{Name: toggleCommandName, Description: "flip a feature", Usage: "<feature>", AdminOnly: true},
			{Name: panelCommandName, Description: "open the feature panel", AdminOnly: true},
			{Name: usersCommandName, Description: "summarize where members joined from", AdminOnly: true},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime herald.ModuleRuntime) error {
	services := runtime.Services()

	var err error
	if m.dispatcher, err = herald.ResolveAs[herald.SinkDispatcher](services, herald.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("admin resolve sink dispatcher: %w", err)
	}
	if m.logger, err = herald.ResolveAs[*slog.Logger](services, herald.ServiceLogger); err != nil {
		return fmt.Errorf("admin resolve logger: %w", err)
	}
	if m.flags, err = herald.ResolveAs[herald.FeatureFlags](services, herald.ServiceFeatureFlags); err != nil {
		return fmt.Errorf("admin resolve feature flags: %w", err)
	}
	if m.access, err = herald.ResolveAs[herald.AccessPolicy](services, herald.ServiceAccessPolicy); err != nil {
		return fmt.Errorf("admin resolve access policy: %w", err)
	}
	if m.messages, err = herald.ResolveAs[herald.MessageRegistry](services, herald.ServiceMessageRegistry); err != nil {
		return fmt.Errorf("admin resolve message registry: %w", err)
	}
	if m.users, err = herald.ResolveAs[herald.UserRegistry](services, herald.ServiceUserRegistry); err != nil {
		return fmt.Errorf("admin resolve user registry: %w", err)
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
	if event == nil || event.Command == nil || event.Kind != herald.EventKindCommandReceived {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("admin handle command: sink dispatcher not configured")
	}

	logger := m.logger.With("user_id", event.Actor.ID, "command", event.Command.Name)
	if !m.access.IsAdmin(event.Actor.ID) {
		logger.InfoContext(ctx, "admin command denied")
		if m.cfg.Mode != herald.BotModeTest {
			return nil
		}
		return m.reply(ctx, event, m.texts(event.Actor).AccessDenied, nil)
	}

	switch event.Command.Name {
	case versionCommandName:
		return m.reply(ctx, event, renderVersion(m.cfg.Version), nil)
	case healthCommandName:
		return m.reply(ctx, event, m.renderHealth(ctx, event), nil)
	case toggleCommandName:
		return m.handleToggleCommand(ctx, logger, event)
	case panelCommandName:
		keyboard := panelKeyboard(m.flags.Snapshot())
		return m.reply(ctx, event, renderPanel(m.flags.Snapshot()), &keyboard)
	case usersCommandName:
		return m.reply(ctx, event, renderUsers(m.users.Stats()), nil)
	default:
		return nil
	}
}

func (m *Module) handleToggleCommand(ctx context.Context, logger *slog.Logger, event *herald.Event) error {
	if len(event.Command.Args) != 1 {
		return m.reply(ctx, event, renderToggleUsage(), nil)
	}
	feature, err := herald.ParseFeature(strings.ToLower(event.Command.Args[0]))
	if err != nil {
		return m.reply(ctx, event, renderToggleUsage(), nil)
	}

	enabled := m.flags.Toggle(feature)
	logger.InfoContext(ctx, "feature toggled", "feature", feature, "enabled", enabled)

	return m.reply(ctx, event, renderToggled(feature, enabled), nil)
}

// handleCallback answers every panel press exactly once.
func (m *Module) handleCallback(ctx context.Context, event *herald.Event) error {
	if event == nil || event.Callback == nil || event.Kind != herald.EventKindCallbackReceived {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("admin handle callback: sink dispatcher not configured")
	}

	answer := herald.AnswerCallbackRequest{QueryID: event.Callback.QueryID}
	logger := m.logger.With("user_id", event.Actor.ID, "data", event.Callback.Data)

	feature, parseErr := herald.ParseFeature(strings.TrimPrefix(event.Callback.Data, ToggleCallbackPrefix))
	switch {
	case !m.access.IsAdmin(event.Actor.ID):
		logger.InfoContext(ctx, "admin panel press denied")
		if m.cfg.Mode == herald.BotModeTest {
			answer.Text = m.texts(event.Actor).AccessDenied
			answer.Alert = true
		}
	case parseErr != nil:
		logger.WarnContext(ctx, "admin panel press with unknown feature", "error", parseErr)
	default:
		enabled := m.flags.Toggle(feature)
		logger.InfoContext(ctx, "feature toggled", "feature", feature, "enabled", enabled)
		answer.Text = fmt.Sprintf("%s: %s", feature, stateLabel(enabled))
	}

	if err := m.dispatcher.AnswerCallback(ctx, answer); err != nil {
		return fmt.Errorf("admin answer callback: %w", err)
	}

	return nil
}

func (m *Module) reply(ctx context.Context, event *herald.Event, text string, keyboard *herald.InlineKeyboard) error {
	target, err := herald.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("admin derive outbound target: %w", err)
	}

	replyTo := ""
	if event.Message != nil {
		replyTo = event.Message.ID
	}
	sent, err := m.dispatcher.SendMessage(ctx, herald.SendMessageRequest{
		Target:             target,
		Text:               herald.DecorateText(m.cfg.Mode, text),
		Keyboard:           keyboard,
		ReplyToMessageID:   replyTo,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("admin send reply to /%s: %w", event.Command.Name, err)
	}
	if _, err := herald.RegisterTransient(m.messages, m.flags, sent, herald.MessageKindAdmin); err != nil {
		m.logger.WarnContext(ctx, "register admin reply for autodelete failed", "error", err)
	}

	return nil
}

func (m *Module) texts(actor herald.Actor) catalog.Texts {
	return m.cfg.Catalog.Texts(m.cfg.Catalog.DetectLang(actor.LanguageCode))
}

var (
	_ herald.Module          = (*Module)(nil)
	_ herald.ModuleRegistrar = (*Module)(nil)
)
