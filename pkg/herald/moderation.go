package herald

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// DedupGate answers whether a key may act again within a window and records the action.
type DedupGate interface {
	// TryAcquire stores now for key and returns true when key has not acted within window.
	// A denied call leaves the stored time unchanged.
	TryAcquire(key int64, window time.Duration) bool
}

// MessageKind tags a bot-authored message registered for autodelete.
type MessageKind string

const (
	MessageKindWelcome     MessageKind = "welcome"
	MessageKindRules       MessageKind = "rules"
	MessageKindAbout       MessageKind = "about"
	MessageKindAdmin       MessageKind = "admin"
	MessageKindStorage     MessageKind = "storage"
	MessageKindStorageUser MessageKind = "storage_user"
)

// MessageKinds lists every registrable kind.
func MessageKinds() []MessageKind {
	return []MessageKind{
		MessageKindWelcome,
		MessageKindRules,
		MessageKindAbout,
		MessageKindAdmin,
		MessageKindStorage,
		MessageKindStorageUser,
	}
}

// Validate checks whether one kind belongs to the closed set.
func (k MessageKind) Validate() error {
	for _, known := range MessageKinds() {
		if k == known {
			return nil
		}
	}

	return fmt.Errorf("validate message kind: unsupported kind %q", k)
}

// MessageRegistry tracks bot-authored messages until they are swept.
type MessageRegistry interface {
	// Register records a sent message. A reused message id overwrites the old entry.
	Register(messageID int, conversation Conversation, kind MessageKind)
	// CountByKind returns how many registered messages carry kind.
	CountByKind(kind MessageKind) int
}

// RegisterOutbound registers a dispatched message. A non-numeric message id is an error.
func RegisterOutbound(registry MessageRegistry, message *OutboundMessage, kind MessageKind) error {
	if registry == nil || message == nil {
		return nil
	}
	messageID, err := strconv.Atoi(message.ID)
	if err != nil {
		return fmt.Errorf("register outbound message %q: %w", message.ID, err)
	}
	registry.Register(messageID, message.Target.Conversation, kind)

	return nil
}

// RegisterTransient registers a dispatched message for autodelete.
//
// Nothing is registered when the autodelete flag is off or the destination
// chat is paid-like. registered reports whether the message was tracked.
func RegisterTransient(
	registry MessageRegistry,
	flags FeatureFlags,
	message *OutboundMessage,
	kind MessageKind,
) (registered bool, err error) {
	if registry == nil || message == nil {
		return false, nil
	}
	if flags != nil && !flags.Enabled(FeatureAutodelete) {
		return false, nil
	}
	if message.Target.Conversation.Policy.PaidLike() {
		return false, nil
	}
	if err := RegisterOutbound(registry, message, kind); err != nil {
		return false, err
	}

	return true, nil
}

// Feature names a runtime toggle.
type Feature string

const (
	FeatureWelcome    Feature = "welcome"
	FeatureMute       Feature = "mute"
	FeatureAutodelete Feature = "autodelete"
)

// Features lists every toggle in display order.
func Features() []Feature {
	return []Feature{FeatureWelcome, FeatureMute, FeatureAutodelete}
}

// ParseFeature resolves a user-supplied feature name.
func ParseFeature(value string) (Feature, error) {
	for _, feature := range Features() {
		if string(feature) == value {
			return feature, nil
		}
	}

	return "", fmt.Errorf("parse feature: unknown feature %q", value)
}

// FeatureFlags is the process-wide toggle state read by every handler.
type FeatureFlags interface {
	// Enabled reports the current state of feature.
	Enabled(feature Feature) bool
	// Toggle flips feature and returns the new state.
	Toggle(feature Feature) bool
	// Snapshot returns the state of every feature.
	Snapshot() map[Feature]bool
}

// AccessPolicy decides who may administer the bot and where it operates.
type AccessPolicy interface {
	// IsAdmin reports whether the user id belongs to a configured admin.
	IsAdmin(userID string) bool
	// ChatAllowed reports whether the bot serves the conversation.
	ChatAllowed(conversationID string) bool
}

// JoinRecord is one registry observation of a member joining.
type JoinRecord struct {
	UserID         string
	ConversationID string
	Source         JoinSource
	Labels         []string
	JoinedAt       time.Time
}

// UserRegistryStats summarizes the join registry.
type UserRegistryStats struct {
	Users    int
	BySource map[JoinSource]int
	ReadOnly bool
}

// UserRegistry records where members came from.
type UserRegistry interface {
	// Record stores a join observation and persists the registry.
	Record(ctx context.Context, record JoinRecord) error
	// Stats summarizes the registry.
	Stats() UserRegistryStats
}

// BotMode selects production or diagnostic behavior.
type BotMode string

const (
	BotModeProd BotMode = "prod"
	BotModeTest BotMode = "test"
)

// ParseBotMode resolves a configured mode string.
func ParseBotMode(value string) (BotMode, error) {
	switch BotMode(value) {
	case BotModeProd, BotModeTest:
		return BotMode(value), nil
	default:
		return "", fmt.Errorf("parse bot mode: unsupported mode %q", value)
	}
}

// TestModePrefix marks texts sent while running in test mode.
const TestModePrefix = "🧪 <i>Test mode</i>\n\n"

// DecorateText prefixes text with the test mode marker when mode is test.
func DecorateText(mode BotMode, text string) string {
	if mode == BotModeTest {
		return TestModePrefix + text
	}

	return text
}
