// Package welcome greets members joining through either join pathway.
//
// For each human member it records the join in the user registry, applies the
// per-user welcome dedup, optionally mutes the member, and sends the localized
// welcome with the storage and rules keyboard.
package welcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"herald/pkg/catalog"
	"herald/pkg/herald"
)

const (
	defaultWorkers    = 4
	outboundAllowance = 30 * time.Second
)

// Config carries the deployment values used to render and schedule welcomes.
type Config struct {
	Catalog  *catalog.Catalog
	Mode     herald.BotMode
	Project  string
	Links    catalog.Links
	ImageURL string
	// Delay is waited before each welcome is sent.
	Delay time.Duration
	// MuteFor is how long new members stay muted.
	MuteFor time.Duration
	// DedupWindow suppresses a second welcome for the same user.
	DedupWindow time.Duration
	// Workers bounds concurrently handled join events.
	Workers int
}

// Module handles member.joined events.
type Module struct {
	cfg Config

	dispatcher herald.SinkDispatcher
	logger     *slog.Logger
	flags      herald.FeatureFlags
	access     herald.AccessPolicy
	messages   herald.MessageRegistry
	users      herald.UserRegistry
	gate       herald.DedupGate

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates cfg and creates the module.
func New(cfg Config) (*Module, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("new welcome module: nil catalog")
	}
	if _, err := herald.ParseBotMode(string(cfg.Mode)); err != nil {
		return nil, fmt.Errorf("new welcome module: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	return &Module{
		cfg:   cfg,
		clock: time.Now,
		sleep: sleepContext,
	}, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "welcome"
}

// Spec declares the join handler.
//
// Several workers run so one welcome delay does not hold back other joins.
func (m *Module) Spec() herald.ModuleSpec {
	return herald.ModuleSpec{
		Handlers: []herald.ModuleHandler{
			{
				Capability: herald.Capability{
					Name:        "welcome-join-handler",
					Description: "greets, mutes and records joining members",
					Interest: herald.InterestSet{
						Kinds: []herald.EventKind{herald.EventKindMemberJoined},
					},
					RequiredServices: []string{
						herald.ServiceSinkDispatcher,
						herald.ServiceLogger,
						herald.ServiceFeatureFlags,
						herald.ServiceAccessPolicy,
						herald.ServiceMessageRegistry,
						herald.ServiceUserRegistry,
						herald.ServiceWelcomeGate,
					},
				},
				Subscription: herald.SubscriptionSpec{
					Name:           "welcome-joins",
					Workers:        m.cfg.Workers,
					HandlerTimeout: m.cfg.Delay + outboundAllowance,
					Backpressure:   herald.BackpressureBlock,
				},
				Handler: m.handleJoin,
			},
		},
	}
}

// OnRegister resolves the collaborators shared with other modules.
func (m *Module) OnRegister(_ context.Context, runtime herald.ModuleRuntime) error {
	services := runtime.Services()

	var err error
	if m.dispatcher, err = herald.ResolveAs[herald.SinkDispatcher](services, herald.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("welcome resolve sink dispatcher: %w", err)
	}
	if m.logger, err = herald.ResolveAs[*slog.Logger](services, herald.ServiceLogger); err != nil {
		return fmt.Errorf("welcome resolve logger: %w", err)
	}
	if m.flags, err = herald.ResolveAs[herald.FeatureFlags](services, herald.ServiceFeatureFlags); err != nil {
		return fmt.Errorf("welcome resolve feature flags: %w", err)
	}
	if m.access, err = herald.ResolveAs[herald.AccessPolicy](services, herald.ServiceAccessPolicy); err != nil {
		return fmt.Errorf("welcome resolve access policy: %w", err)
	}
	if m.messages, err = herald.ResolveAs[herald.MessageRegistry](services, herald.ServiceMessageRegistry); err != nil {
		return fmt.Errorf("welcome resolve message registry: %w", err)
	}
	if m.users, err = herald.ResolveAs[herald.UserRegistry](services, herald.ServiceUserRegistry); err != nil {
		return fmt.Errorf("welcome resolve user registry: %w", err)
	}
	if m.gate, err = herald.ResolveAs[herald.DedupGate](services, herald.ServiceWelcomeGate); err != nil {
		return fmt.Errorf("welcome resolve welcome gate: %w", err)
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

func (m *Module) handleJoin(ctx context.Context, event *herald.Event) error {
	if event == nil || event.Join == nil || event.Kind != herald.EventKindMemberJoined {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("welcome handle join: sink dispatcher not configured")
	}

	conversation := event.Conversation
	logger := m.logger.With("chat_id", conversation.ID)
	if !m.access.ChatAllowed(conversation.ID) {
		logger.InfoContext(ctx, "welcome skipped, chat not allowed")
		return nil
	}

	facts := event.Join.Facts(conversation.Policy)
	source := herald.ClassifyJoin(facts)
	labels := facts.Labels()

	for _, member := range event.Join.Members {
		if member.IsBot {
			continue
		}
		if err := m.users.Record(ctx, herald.JoinRecord{
			UserID:         member.ID,
			ConversationID: conversation.ID,
			Source:         source,
			Labels:         labels,
			JoinedAt:       event.OccurredAt,
		}); err != nil {
			logger.WarnContext(ctx, "user registry record failed", "user_id", member.ID, "error", err)
		}
	}

	if !m.flags.Enabled(herald.FeatureWelcome) {
		logger.DebugContext(ctx, "welcome disabled, join recorded only", "source", source)
		return nil
	}

	target, err := herald.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("welcome derive outbound target: %w", err)
	}
	permissions := m.permissions(ctx, logger, target)
	paidLike := conversation.Policy.PaidLike()
	if paidLike {
		logger.InfoContext(ctx, "paid-like chat, mute and autodelete disabled")
	}

	if permissions.CanDelete && event.Join.ServiceMessageID != "" {
		if err := m.dispatcher.DeleteMessage(ctx, herald.DeleteMessageRequest{
			Target:    target,
			MessageID: event.Join.ServiceMessageID,
		}); err != nil {
			logger.WarnContext(ctx, "delete join service message failed", "message_id", event.Join.ServiceMessageID, "error", err)
		}
	}

	admitted := make([]herald.Actor, 0, len(event.Join.Members))
	for _, member := range event.Join.Members {
		if member.IsBot {
			continue
		}
		if m.admit(ctx, logger.With("user_id", member.ID), target, member, permissions, paidLike) {
			admitted = append(admitted, member)
		}
	}
	if len(admitted) == 0 {
		return nil
	}

	if m.cfg.Delay > 0 {
		if err := m.sleep(ctx, m.cfg.Delay); err != nil {
			return fmt.Errorf("welcome wait before sending: %w", err)
		}
	}

	var errs []error
	for _, member := range admitted {
		if err := m.greet(ctx, logger.With("user_id", member.ID), target, member, source); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// admit applies the welcome dedup and the new-member mute.
//
// The gate is acquired before anything is sent, so a concurrent duplicate
// join of the same user is suppressed.
func (m *Module) admit(
	ctx context.Context,
	logger *slog.Logger,
	target herald.OutboundTarget,
	member herald.Actor,
	permissions herald.MemberPermissions,
	paidLike bool,
) bool {
	userID, err := strconv.ParseInt(member.ID, 10, 64)
	if err != nil {
		logger.WarnContext(ctx, "welcome skipped, non numeric user id", "error", err)
		return false
	}
	if !m.gate.TryAcquire(userID, m.cfg.DedupWindow) {
		logger.DebugContext(ctx, "welcome skipped, duplicate join")
		return false
	}

	if m.flags.Enabled(herald.FeatureMute) && permissions.CanRestrict && m.cfg.Mode != herald.BotModeTest && !paidLike {
		if err := m.dispatcher.RestrictMember(ctx, herald.RestrictMemberRequest{
			Target: target,
			UserID: member.ID,
			Rights: herald.MuteRights(),
			Until:  m.clock().Add(m.cfg.MuteFor),
		}); err != nil {
			logger.WarnContext(ctx, "mute failed", "error", err)
		} else {
			logger.InfoContext(ctx, "member muted", "seconds", int(m.cfg.MuteFor/time.Second))
		}
	}

	return true
}

func (m *Module) greet(
	ctx context.Context,
	logger *slog.Logger,
	target herald.OutboundTarget,
	member herald.Actor,
	source herald.JoinSource,
) error {
	lang := m.cfg.Catalog.DetectLang(member.LanguageCode)
	texts := m.cfg.Catalog.Texts(lang)
	text := catalog.Render(texts.Welcome, catalog.Vars{
		Name:    catalog.SafeName(member.DisplayName),
		Project: m.cfg.Project,
	})
	if badge := source.Badge(); badge != "" {
		text += "\n\n" + badge
	}
	keyboard := catalog.WelcomeKeyboard(texts, lang, m.cfg.Links)

	sent, err := m.dispatcher.SendMessage(ctx, herald.SendMessageRequest{
		Target:             target,
		Text:               herald.DecorateText(m.cfg.Mode, text),
		PhotoURL:           m.cfg.ImageURL,
		Keyboard:           &keyboard,
		DisableLinkPreview: true,
	})
	if err != nil {
		return fmt.Errorf("welcome send to %s: %w", member.ID, err)
	}
	logger.InfoContext(ctx, "welcome sent", "message_id", sent.ID, "source", source, "lang", lang)

	if _, err := herald.RegisterTransient(m.messages, m.flags, sent, herald.MessageKindWelcome); err != nil {
		logger.WarnContext(ctx, "register welcome for autodelete failed", "error", err)
	}

	return nil
}

// permissions reports no rights when the probe fails.
func (m *Module) permissions(ctx context.Context, logger *slog.Logger, target herald.OutboundTarget) herald.MemberPermissions {
	permissions, err := m.dispatcher.MemberPermissions(ctx, herald.MemberPermissionsRequest{Target: target})
	if err != nil {
		logger.WarnContext(ctx, "permission probe failed", "error", err)
		return herald.MemberPermissions{}
	}
	if !permissions.CanDelete || !permissions.CanRestrict {
		logger.WarnContext(ctx, "missing moderation rights", "delete", permissions.CanDelete, "restrict", permissions.CanRestrict)
	}

	return permissions
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ herald.Module          = (*Module)(nil)
	_ herald.ModuleRegistrar = (*Module)(nil)
)
