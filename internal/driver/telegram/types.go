package telegram

import (
	"time"

	"herald/pkg/herald"
)

// UpdateType identifies the Telegram update semantic category.
type UpdateType string

const (
	// UpdateTypeMessage identifies new text messages.
	UpdateTypeMessage UpdateType = "message"
	// UpdateTypeMemberJoin identifies members joining a chat.
	UpdateTypeMemberJoin UpdateType = "member_join"
	// UpdateTypeCallback identifies inline keyboard button presses.
	UpdateTypeCallback UpdateType = "callback"
)

// Update is the Telegram adapter's internal DTO before neutral decoding.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef
	Message    *MessagePayload
	Join       *JoinPayload
	Callback   *CallbackPayload
	Metadata   map[string]string
}

// ChatRef identifies Telegram chat context.
//
// ID uses Bot API numbering: negative for groups, -100 prefixed for channels.
type ChatRef struct {
	ID     string
	Title  string
	Type   herald.ConversationType
	Policy herald.ChatPolicy
}

// ActorRef identifies Telegram actor context.
type ActorRef struct {
	ID           string
	Username     string
	DisplayName  string
	LanguageCode string
	IsBot        bool
}

// MessagePayload represents a Telegram text message projection.
type MessagePayload struct {
	ID        string
	ReplyToID string
	Text      string
}

// JoinPayload captures one join notification.
type JoinPayload struct {
	Members   []ActorRef
	Pathway   herald.JoinPathway
	ByRequest bool
	// InviteLabel is meaningful only when HasInvite is set.
	HasInvite   bool
	InviteLabel string
	InviteURL   string
	Inviter     *ActorRef
	// ServiceMessageID is set for joins announced by a service message.
	ServiceMessageID string
}

// CallbackPayload captures one callback query.
type CallbackPayload struct {
	QueryID   string
	Data      string
	MessageID string
}
