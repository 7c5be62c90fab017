package heraldtest

import (
	"strings"
	"time"

	"herald/pkg/herald"
)

// Supergroup is the conversation used by the event builders.
var Supergroup = herald.Conversation{
	ID:    "-1000000000500",
	Type:  herald.ConversationTypeSupergroup,
	Title: "community",
}

// Actor builds a human actor.
func Actor(id, name, lang string) herald.Actor {
	return herald.Actor{ID: id, DisplayName: name, LanguageCode: lang}
}

// MessageEvent builds a message.created event.
func MessageEvent(actor herald.Actor, text string) *herald.Event {
	return &herald.Event{
		ID:           "event-message",
		Kind:         herald.EventKindMessageCreated,
		OccurredAt:   time.Unix(1_700_000_000, 0).UTC(),
		Platform:     herald.PlatformTelegram,
		Conversation: Supergroup,
		Actor:        actor,
		Message:      &herald.Message{ID: "100", Text: text},
	}
}

// CommandEvent builds a command.received event the way the kernel derives it.
func CommandEvent(actor herald.Actor, text string) *herald.Event {
	event := MessageEvent(actor, text)
	event.Kind = herald.EventKindCommandReceived

	candidate, _, _ := herald.ParseCommandCandidate(text)
	event.Command = &herald.CommandInvocation{
		Name:          candidate.Name,
		Mention:       candidate.Mention,
		Args:          candidate.Tokens,
		Value:         strings.Join(candidate.Tokens, " "),
		SourceEventID: "event-message",
		RawInput:      text,
	}

	return event
}

// CallbackEvent builds a callback.received event.
func CallbackEvent(actor herald.Actor, data string) *herald.Event {
	return &herald.Event{
		ID:           "event-callback",
		Kind:         herald.EventKindCallbackReceived,
		OccurredAt:   time.Unix(1_700_000_000, 0).UTC(),
		Platform:     herald.PlatformTelegram,
		Conversation: Supergroup,
		Actor:        actor,
		Callback:     &herald.Callback{QueryID: "555", Data: data, MessageID: "90"},
	}
}

// JoinEvent builds a member.joined event for members.
func JoinEvent(pathway herald.JoinPathway, members ...herald.Actor) *herald.Event {
	return &herald.Event{
		ID:           "event-join",
		Kind:         herald.EventKindMemberJoined,
		OccurredAt:   time.Unix(1_700_000_000, 0).UTC(),
		Platform:     herald.PlatformTelegram,
		Conversation: Supergroup,
		Actor:        members[0],
		Join: &herald.JoinChange{
			Members: members,
			Pathway: pathway,
		},
	}
}
