package herald

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral domain event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a new message is posted.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindMemberJoined is emitted when one or more members join a conversation.
	EventKindMemberJoined EventKind = "member.joined"
	// EventKindCallbackReceived is emitted when a user presses an inline keyboard button.
	EventKindCallbackReceived EventKind = "callback.received"
	// EventKindCommandReceived is derived by the kernel from a message carrying a registered command.
	EventKindCommandReceived EventKind = "command.received"
)

// Platform identifies an external chat platform source.
type Platform string

const (
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
)

// ConversationType identifies conversation scope.
type ConversationType string

const (
	// ConversationTypePrivate is a direct/private conversation.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a basic group conversation.
	ConversationTypeGroup ConversationType = "group"
	// ConversationTypeSupergroup is a supergroup conversation.
	ConversationTypeSupergroup ConversationType = "supergroup"
	// ConversationTypeChannel is a broadcast channel.
	ConversationTypeChannel ConversationType = "channel"
)

// Event is the neutral protocol envelope that drivers publish and modules consume.
//
// Message, Join, Callback, and Command are optional payload branches selected by Kind.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Platform identifies the upstream platform that produced the event.
	Platform Platform
	// Conversation identifies where the event happened.
	Conversation Conversation
	// Actor identifies who initiated the event when available.
	Actor Actor
	// Message carries message content for message and command events.
	Message *Message
	// Join carries joined members for member.joined events.
	Join *JoinChange
	// Callback carries inline button payloads for callback events.
	Callback *Callback
	// Command carries the bound invocation for command events.
	Command *CommandInvocation
	// Metadata stores optional driver-provided key/value context.
	Metadata map[string]string
}

// Conversation identifies the neutral destination where an event occurred.
type Conversation struct {
	// ID is the stable conversation identifier on the source platform.
	ID string
	// Type describes the conversation scope.
	Type ConversationType
	// Title is a best-effort display label for the conversation.
	Title string
	// Policy carries chat-level access flags reported by the platform.
	Policy ChatPolicy
}

// Actor identifies the user/account that initiated an event.
type Actor struct {
	// ID is the stable actor identifier on the source platform.
	ID string
	// Username is the platform handle when available.
	Username string
	// DisplayName is the human-readable actor name.
	DisplayName string
	// LanguageCode is the client language tag when the platform reports it.
	LanguageCode string
	// IsBot reports whether the actor is an automated account.
	IsBot bool
}

// Message holds neutral message content.
type Message struct {
	// ID is the message identifier on the source platform.
	ID string
	// ReplyToID is the parent message identifier when this is a reply.
	ReplyToID string
	// Text is the normalized message text body.
	Text string
}

// Callback carries one inline keyboard button press.
type Callback struct {
	// QueryID identifies the query that must be answered exactly once.
	QueryID string
	// Data is the opaque payload attached to the pressed button.
	Data string
	// MessageID identifies the message holding the keyboard.
	MessageID string
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	return validatePayloadByKind(e)
}

// validatePayloadByKind enforces payload branch requirements for each event kind.
func validatePayloadByKind(e *Event) error {
	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
	case EventKindMemberJoined:
		if e.Join == nil {
			return fmt.Errorf("%w: member.joined requires join payload", ErrInvalidEvent)
		}
		if len(e.Join.Members) == 0 {
			return fmt.Errorf("%w: member.joined requires at least one member", ErrInvalidEvent)
		}
		if err := e.Join.Pathway.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	case EventKindCallbackReceived:
		if e.Callback == nil {
			return fmt.Errorf("%w: callback.received requires callback payload", ErrInvalidEvent)
		}
		if e.Callback.QueryID == "" {
			return fmt.Errorf("%w: callback.received requires query id", ErrInvalidEvent)
		}
	case EventKindCommandReceived:
		if e.Message == nil {
			return fmt.Errorf("%w: command.received requires message payload", ErrInvalidEvent)
		}
		if err := e.Command.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}
