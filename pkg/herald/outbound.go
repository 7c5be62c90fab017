package herald

import (
	"context"
	"fmt"
	"time"
)

// SinkDispatcher sends neutral outbound operations to the platform.
//
// Implementations enforce platform-specific constraints while preserving
// these protocol-level request semantics.
type SinkDispatcher interface {
	// SendMessage publishes a new text or photo message to a conversation.
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	// DeleteMessage removes an existing message by ID.
	DeleteMessage(ctx context.Context, request DeleteMessageRequest) error
	// RestrictMember withdraws member rights until a deadline.
	RestrictMember(ctx context.Context, request RestrictMemberRequest) error
	// MemberPermissions reports the moderation rights the bot holds in a conversation.
	MemberPermissions(ctx context.Context, request MemberPermissionsRequest) (MemberPermissions, error)
	// AnswerCallback acknowledges one inline button press.
	AnswerCallback(ctx context.Context, request AnswerCallbackRequest) error
}

// OutboundTarget identifies where an outbound operation should be delivered.
type OutboundTarget struct {
	// Conversation identifies the destination conversation.
	Conversation Conversation
}

// Validate checks target identity fields used for outbound routing.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Conversation.Type == "" {
		return fmt.Errorf("%w: missing conversation type", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent derives a destination target from an inbound event.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}
	target := OutboundTarget{Conversation: event.Conversation}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage identifies a message successfully emitted by the dispatcher.
type OutboundMessage struct {
	// ID is the destination-platform message identifier.
	ID string
	// Target is the destination where this message was delivered.
	Target OutboundTarget
}

// InlineButton is one button of an inline keyboard.
//
// Exactly one of URL and CallbackData is set.
type InlineButton struct {
	Text         string
	URL          string
	CallbackData string
}

// InlineKeyboard is a grid of inline buttons attached to a message.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// Validate checks keyboard coherence.
func (k *InlineKeyboard) Validate() error {
	if k == nil {
		return nil
	}
	for rowIndex, row := range k.Rows {
		if len(row) == 0 {
			return fmt.Errorf("%w: keyboard row %d is empty", ErrInvalidOutboundRequest, rowIndex)
		}
		for buttonIndex, button := range row {
			if button.Text == "" {
				return fmt.Errorf("%w: keyboard button %d/%d missing text", ErrInvalidOutboundRequest, rowIndex, buttonIndex)
			}
			if (button.URL == "") == (button.CallbackData == "") {
				return fmt.Errorf(
					"%w: keyboard button %d/%d needs exactly one of url and callback data",
					ErrInvalidOutboundRequest,
					rowIndex,
					buttonIndex,
				)
			}
			if len(button.CallbackData) > 64 {
				return fmt.Errorf("%w: keyboard button %d/%d callback data exceeds 64 bytes", ErrInvalidOutboundRequest, rowIndex, buttonIndex)
			}
		}
	}

	return nil
}

// SendMessageRequest describes a new outbound message.
type SendMessageRequest struct {
	// Target identifies where the message should be sent.
	Target OutboundTarget
	// Text is the HTML-formatted message body, used as caption when PhotoURL is set.
	Text string
	// PhotoURL sends the message as a photo fetched from this URL.
	PhotoURL string
	// Keyboard attaches inline buttons.
	Keyboard *InlineKeyboard
	// ReplyToMessageID optionally links this message as a reply.
	ReplyToMessageID string
	// DisableLinkPreview disables link previews when supported by the platform.
	DisableLinkPreview bool
	// Silent suppresses destination-side notifications when supported.
	Silent bool
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if r.Text == "" && r.PhotoURL == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}
	if err := r.Keyboard.Validate(); err != nil {
		return fmt.Errorf("validate send message keyboard: %w", err)
	}

	return nil
}

// DeleteMessageRequest describes message deletion behavior.
type DeleteMessageRequest struct {
	// Target identifies where the message exists.
	Target OutboundTarget
	// MessageID identifies which message should be deleted.
	MessageID string
}

// Validate checks the request envelope before dispatch.
func (r DeleteMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate delete message target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}

	return nil
}

// MemberRights lists rights withdrawn by a restriction. A true field denies the right.
type MemberRights struct {
	DenySendMessages bool
	DenySendMedia    bool
	DenySendOther    bool
	DenyLinkPreviews bool
}

// MuteRights denies every sending right.
func MuteRights() MemberRights {
	return MemberRights{
		DenySendMessages: true,
		DenySendMedia:    true,
		DenySendOther:    true,
		DenyLinkPreviews: true,
	}
}

// RestrictMemberRequest describes a temporary member restriction.
type RestrictMemberRequest struct {
	// Target identifies the conversation.
	Target OutboundTarget
	// UserID identifies the restricted member.
	UserID string
	// Rights lists withdrawn rights.
	Rights MemberRights
	// Until is when the restriction lapses.
	Until time.Time
}

// Validate checks the request envelope before dispatch.
func (r RestrictMemberRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate restrict member target: %w", err)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidOutboundRequest)
	}
	if r.Until.IsZero() {
		return fmt.Errorf("%w: missing restriction deadline", ErrInvalidOutboundRequest)
	}

	return nil
}

// MemberPermissionsRequest asks for the bot's own rights in a conversation.
type MemberPermissionsRequest struct {
	Target OutboundTarget
}

// Validate checks the request envelope before dispatch.
func (r MemberPermissionsRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate member permissions target: %w", err)
	}

	return nil
}

// MemberPermissions reports moderation rights relevant to the bot.
type MemberPermissions struct {
	CanDelete   bool
	CanRestrict bool
}

// AnswerCallbackRequest acknowledges one callback query.
type AnswerCallbackRequest struct {
	// QueryID identifies the answered query.
	QueryID string
	// Text is an optional notification shown to the presser.
	Text string
	// Alert shows Text as a modal alert instead of a toast.
	Alert bool
}

// Validate checks the request envelope before dispatch.
func (r AnswerCallbackRequest) Validate() error {
	if r.QueryID == "" {
		return fmt.Errorf("%w: missing query id", ErrInvalidOutboundRequest)
	}

	return nil
}
