// Package triggers replies to catalog keywords found in ordinary chat messages.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"herald/pkg/catalog"
	"herald/pkg/herald"
)

// Config carries the trigger texts and the per-chat dedup window.
type Config struct {
	Catalog    *catalog.Catalog
	Mode       herald.BotMode
	Project    string
	StorageURL string
	// DedupWindow is the minimum spacing between two trigger replies in one chat.
	DedupWindow time.Duration
}

// Module matches message text against the catalog triggers.
type Module struct {
	cfg Config

	dispatcher herald.SinkDispatcher
	logger     *slog.Logger
	flags      herald.FeatureFlags
	access     herald.AccessPolicy
	messages   herald.MessageRegistry
	gate       herald.DedupGate
}

// New validates cfg and creates the module.
func New(cfg Config) (*Module, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("new triggers module: nil catalog")
	}
	if _, err := herald.ParseBotMode(string(cfg.Mode)); err != nil {
		return nil, fmt.Errorf("new triggers module: %w", err)
	}

	return &Module{cfg: cfg}, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "triggers"
}

// Spec declares interest in every created message.
func (m *Module) Spec() herald.ModuleSpec {
	return herald.ModuleSpec{
		Handlers: []herald.ModuleHandler{
			{
				Capability: herald.Capability{
					Name:        "keyword-trigger-handler",
					Description: "replies to messages containing trigger keywords",
					Interest: herald.InterestSet{
						Kinds: []herald.EventKind{herald.EventKindMessageCreated},
					},
					RequiredServices: []string{
						herald.ServiceSinkDispatcher,
						herald.ServiceLogger,
						herald.ServiceFeatureFlags,
						herald.ServiceAccessPolicy,
						herald.ServiceMessageRegistry,
						herald.ServiceTriggerGate,
					},
				},
				Subscription: herald.SubscriptionSpec{
					Name:         "keyword-triggers",
					Buffer:       512,
					Backpressure: herald.BackpressureDropOldest,
				},
				Handler: m.handleMessage,
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime herald.ModuleRuntime) error {
	services := runtime.Services()

	var err error
	if m.dispatcher, err = herald.ResolveAs[herald.SinkDispatcher](services, herald.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("triggers resolve sink dispatcher: %w", err)
	}
	if m.logger, err = herald.ResolveAs[*slog.Logger](services, herald.ServiceLogger); err != nil {
		return fmt.Errorf("triggers resolve logger: %w", err)
	}
	if m.flags, err = herald.ResolveAs[herald.FeatureFlags](services, herald.ServiceFeatureFlags); err != nil {
		return fmt.Errorf("triggers resolve feature flags: %w", err)
	}
	if m.access, err = herald.ResolveAs[herald.AccessPolicy](services, herald.ServiceAccessPolicy); err != nil {
		return fmt.Errorf("triggers resolve access policy: %w", err)
	}
	if m.messages, err = herald.ResolveAs[herald.MessageRegistry](services, herald.ServiceMessageRegistry); err != nil {
		return fmt.Errorf("triggers resolve message registry: %w", err)
	}
	if m.gate, err = herald.ResolveAs[herald.DedupGate](services, herald.ServiceTriggerGate); err != nil {
		return fmt.Errorf("triggers resolve trigger gate: %w", err)
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

func (m *Module) handleMessage(ctx context.Context, event *herald.Event) error {
	if event == nil || event.Message == nil || event.Kind != herald.EventKindMessageCreated {
		return nil
	}
	if event.Actor.IsBot || !m.access.ChatAllowed(event.Conversation.ID) {
		return nil
	}
	trigger, ok := m.cfg.Catalog.MatchTrigger(event.Message.Text)
	if !ok {
		return nil
	}

	logger := m.logger.With("chat_id", event.Conversation.ID, "trigger", trigger.Name)
	chatID, err := strconv.ParseInt(event.Conversation.ID, 10, 64)
	if err != nil {
		logger.WarnContext(ctx, "trigger skipped, non numeric chat id")
		return nil
	}
	if !m.gate.TryAcquire(chatID, m.cfg.DedupWindow) {
		logger.DebugContext(ctx, "trigger suppressed, replied recently")
		return nil
	}

	texts := m.cfg.Catalog.Texts(m.cfg.Catalog.DetectLang(event.Actor.LanguageCode))
	template, ok := texts.Lookup(trigger.Text)
	if !ok {
		return fmt.Errorf("trigger %s: text %q missing", trigger.Name, trigger.Text)
	}
	text := catalog.Render(template, catalog.Vars{
		Name:    catalog.SafeName(event.Actor.DisplayName),
		Project: m.cfg.Project,
	})

	var keyboard *herald.InlineKeyboard
	if trigger.Kind == herald.MessageKindStorage || trigger.Kind == herald.MessageKindStorageUser {
		storage := catalog.StorageKeyboard(texts, m.cfg.StorageURL)
		keyboard = &storage
	}

	target, err := herald.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("triggers derive outbound target: %w", err)
	}
	sent, err := m.dispatcher.SendMessage(ctx, herald.SendMessageRequest{
		Target:             target,
		Text:               herald.DecorateText(m.cfg.Mode, text),
		Keyboard:           keyboard,
		ReplyToMessageID:   event.Message.ID,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("trigger %s send reply: %w", trigger.Name, err)
	}
	logger.InfoContext(ctx, "trigger replied", "message_id", sent.ID)

	if _, err := herald.RegisterTransient(m.messages, m.flags, sent, trigger.Kind); err != nil {
		logger.WarnContext(ctx, "register trigger reply for autodelete failed", "error", err)
	}

	return nil
}

var (
	_ herald.Module          = (*Module)(nil)
	_ herald.ModuleRegistrar = (*Module)(nil)
)
