package telegram

import (
	"context"
	"fmt"
	"time"

	"herald/pkg/herald"
)

// Decoder converts Telegram update DTOs into neutral herald events.
type Decoder interface {
	// Decode maps one adapter update into a validated neutral event envelope.
	Decode(ctx context.Context, update Update) (*herald.Event, error)
}

// DefaultDecoder provides default Telegram-to-herald mappings.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a Telegram update into a neutral event.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*herald.Event, error) {
	event := newBaseEvent(update)

	switch update.Type {
	case UpdateTypeMessage:
		event.Kind = herald.EventKindMessageCreated
		message, err := decodeMessage(update.Message)
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		event.Message = message
	case UpdateTypeMemberJoin:
		event.Kind = herald.EventKindMemberJoined
		join, err := decodeJoin(update.Join)
		if err != nil {
			return nil, fmt.Errorf("decode join: %w", err)
		}
		event.Join = join
	case UpdateTypeCallback:
		event.Kind = herald.EventKindCallbackReceived
		callback, err := decodeCallback(update.Callback)
		if err != nil {
			return nil, fmt.Errorf("decode callback: %w", err)
		}
		event.Callback = callback
	default:
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}

// newBaseEvent builds the shared envelope fields used by all update mappings.
func newBaseEvent(update Update) *herald.Event {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &herald.Event{
		ID:         update.ID,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		Conversation: herald.Conversation{
			ID:     update.Chat.ID,
			Type:   update.Chat.Type,
			Title:  update.Chat.Title,
			Policy: update.Chat.Policy,
		},
		Actor:    mapActor(update.Actor),
		Metadata: update.Metadata,
	}
}

func decodeMessage(payload *MessagePayload) (*herald.Message, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing message payload")
	}

	return &herald.Message{
		ID:        payload.ID,
		ReplyToID: payload.ReplyToID,
		Text:      payload.Text,
	}, nil
}

// decodeJoin maps a join notification, keeping the invite only when one was used.
func decodeJoin(payload *JoinPayload) (*herald.JoinChange, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing join payload")
	}

	members := make([]herald.Actor, 0, len(payload.Members))
	for _, member := range payload.Members {
		members = append(members, mapActor(member))
	}

	join := &herald.JoinChange{
		Members:          members,
		Pathway:          payload.Pathway,
		ByRequest:        payload.ByRequest,
		ServiceMessageID: payload.ServiceMessageID,
	}
	if payload.HasInvite {
		join.Invite = &herald.InviteLink{
			Label: payload.InviteLabel,
			URL:   payload.InviteURL,
		}
	}
	if payload.Inviter != nil {
		inviter := mapActor(*payload.Inviter)
		join.Inviter = &inviter
	}

	return join, nil
}

func decodeCallback(payload *CallbackPayload) (*herald.Callback, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing callback payload")
	}

	return &herald.Callback{
		QueryID:   payload.QueryID,
		Data:      payload.Data,
		MessageID: payload.MessageID,
	}, nil
}

// mapActor converts adapter actor references to neutral actor values.
func mapActor(actor ActorRef) herald.Actor {
	return herald.Actor{
		ID:           actor.ID,
		Username:     actor.Username,
		DisplayName:  actor.DisplayName,
		LanguageCode: actor.LanguageCode,
		IsBot:        actor.IsBot,
	}
}
