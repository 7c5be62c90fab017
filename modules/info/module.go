// Package info serves the rules, about and storage texts.
package info

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"herald/pkg/catalog"
	"herald/pkg/herald"
)

const (
	rulesCommandName   = "rules"
	aboutCommandName   = "about"
	storageCommandName = "storage"
)

// Config carries the texts and dedup window of the info module.
type Config struct {
	Catalog    *catalog.Catalog
	Mode       herald.BotMode
	Project    string
	StorageURL string
	// DedupWindow suppresses repeated rules requests from one user.
	DedupWindow time.Duration
}

// Module answers the rules button and the informational commands.
type Module struct {
	cfg Config

	dispatcher herald.SinkDispatcher
	logger     *slog.Logger
	flags      herald.FeatureFlags
	access     herald.AccessPolicy
	messages   herald.MessageRegistry
	rulesGate  herald.DedupGate
}

// New validates cfg and creates the module.
func New(cfg Config) (*Module, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("new info module: nil catalog")
	}
	if _, err := herald.ParseBotMode(string(cfg.Mode)); err != nil {
		return nil, fmt.Errorf("new info module: %w", err)
	}

	return &Module{cfg: cfg}, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "info"
}

// Spec declares the rules callback handler and the command handler.
func (m *Module) Spec() herald.ModuleSpec {
	required := []string{
		herald.ServiceSinkDispatcher,
		herald.ServiceLogger,
		herald.ServiceFeatureFlags,
		herald.ServiceAccessPolicy,
		herald.ServiceMessageRegistry,
		herald.ServiceRulesGate,
	}

	return herald.ModuleSpec{
		Handlers: []herald.ModuleHandler{
			{
				Capability: herald.Capability{
					Name:        "info-rules-callback",
					Description: "shows the rules when the welcome rules button is pressed",
					Interest: herald.InterestSet{
						Kinds:            []herald.EventKind{herald.EventKindCallbackReceived},
						CallbackPrefixes: []string{catalog.RulesCallbackPrefix},
					},
					RequiredServices: required,
				},
				Subscription: herald.NewDefaultSubscriptionSpec("info-rules-callbacks"),
				Handler:      m.handleRulesCallback,
			},
			{
				Capability: herald.Capability{
					Name:        "info-command-handler",
					Description: "replies to /rules, /about and /storage",
					Interest: herald.InterestSet{
						Kinds:          []herald.EventKind{herald.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{rulesCommandName, aboutCommandName, storageCommandName},
					},
					RequiredServices: required,
				},
				Subscription: herald.NewDefaultSubscriptionSpec("info-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []herald.CommandSpec{
			{Name: rulesCommandName, Description: "show the chat rules"},
			{Name: aboutCommandName, Description: "describe the community"},
			{Name: storageCommandName, Description: "link the project storage"},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime herald.ModuleRuntime) error {
	services := runtime.Services()

	var err error
	if m.dispatcher, err = herald.ResolveAs[herald.SinkDispatcher](services, herald.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("info resolve sink dispatcher: %w", err)
	}
	if m.logger, err = herald.ResolveAs[*slog.Logger](services, herald.ServiceLogger); err != nil {
		return fmt.Errorf("info resolve logger: %w", err)
	}
	if m.flags, err = herald.ResolveAs[herald.FeatureFlags](services, herald.ServiceFeatureFlags); err != nil {
		return fmt.Errorf("info resolve feature flags: %w", err)
	}
	if m.access, err = herald.ResolveAs[herald.AccessPolicy](services, herald.ServiceAccessPolicy); err != nil {
		return fmt.Errorf("info resolve access policy: %w", err)
	}
	if m.messages, err = herald.ResolveAs[herald.MessageRegistry](services, herald.ServiceMessageRegistry); err != nil {
		return fmt.Errorf("info resolve message registry: %w", err)
	}
	if m.rulesGate, err = herald.ResolveAs[herald.DedupGate](services, herald.ServiceRulesGate); err != nil {
		return fmt.Errorf("info resolve rules gate: %w", err)
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

// handleRulesCallback answers the callback before anything else so the
// client stops its spinner even when the rules are suppressed.
func (m *Module) handleRulesCallback(ctx context.Context, event *herald.Event) error {
	if event == nil || event.Callback == nil || event.Kind != herald.EventKindCallbackReceived {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("info handle rules callback: sink dispatcher not configured")
	}
	lang, ok := catalog.ParseRulesCallback(event.Callback.Data)
	if !ok {
		lang = m.cfg.Catalog.DefaultLanguage
	}

	if err := m.dispatcher.AnswerCallback(ctx, herald.AnswerCallbackRequest{
		QueryID: event.Callback.QueryID,
	}); err != nil {
		return fmt.Errorf("info answer rules callback: %w", err)
	}
	if !m.access.ChatAllowed(event.Conversation.ID) {
		return nil
	}
	if !m.acquireRules(ctx, event.Actor.ID) {
		return nil
	}

	return m.reply(ctx, event, "", m.cfg.Catalog.Texts(lang).Rules, nil, herald.MessageKindRules)
}

func (m *Module) handleCommand(ctx context.Context, event *herald.Event) error {
	if event == nil || event.Command == nil || event.Kind != herald.EventKindCommandReceived {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("info handle command: sink dispatcher not configured")
	}
	if !m.access.ChatAllowed(event.Conversation.ID) {
		return nil
	}

	replyTo := ""
	if event.Message != nil {
		replyTo = event.Message.ID
	}
	texts := m.cfg.Catalog.Texts(m.cfg.Catalog.DetectLang(event.Actor.LanguageCode))
	vars := catalog.Vars{Name: catalog.SafeName(event.Actor.DisplayName), Project: m.cfg.Project}

	switch event.Command.Name {
	case rulesCommandName:
		if !m.acquireRules(ctx, event.Actor.ID) {
			return nil
		}
		return m.reply(ctx, event, replyTo, texts.Rules, nil, herald.MessageKindRules)
	case aboutCommandName:
		return m.reply(ctx, event, replyTo, catalog.Render(texts.About, vars), nil, herald.MessageKindAbout)
	case storageCommandName:
		keyboard := catalog.StorageKeyboard(texts, m.cfg.StorageURL)
		return m.reply(ctx, event, replyTo, catalog.Render(texts.Storage, vars), &keyboard, herald.MessageKindStorage)
	default:
		return nil
	}
}

// acquireRules applies the per-user rules dedup shared by the button and /rules.
func (m *Module) acquireRules(ctx context.Context, actorID string) bool {
	userID, err := strconv.ParseInt(actorID, 10, 64)
	if err != nil {
		m.logger.WarnContext(ctx, "rules skipped, non numeric user id", "user_id", actorID)
		return false
	}
	if !m.rulesGate.TryAcquire(userID, m.cfg.DedupWindow) {
		m.logger.DebugContext(ctx, "rules suppressed, shown recently", "user_id", actorID)
		return false
	}

	return true
}

func (m *Module) reply(
	ctx context.Context,
	event *herald.Event,
	replyTo string,
	text string,
	keyboard *herald.InlineKeyboard,
	kind herald.MessageKind,
) error {
	target, err := herald.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("info derive outbound target: %w", err)
	}
	sent, err := m.dispatcher.SendMessage(ctx, herald.SendMessageRequest{
		Target:             target,
		Text:               herald.DecorateText(m.cfg.Mode, text),
		Keyboard:           keyboard,
		ReplyToMessageID:   replyTo,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("info send %s: %w", kind, err)
	}
	if _, err := herald.RegisterTransient(m.messages, m.flags, sent, kind); err != nil {
		m.logger.WarnContext(ctx, "register info message for autodelete failed", "kind", kind, "error", err)
	}

	return nil
}

var (
	_ herald.Module          = (*Module)(nil)
	_ herald.ModuleRegistrar = (*Module)(nil)
)
