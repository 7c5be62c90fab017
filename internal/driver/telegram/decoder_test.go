package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"herald/pkg/herald"
)

func TestDefaultDecoderDecode(t *testing.T) {
	t.Parallel()

	decoder := NewDefaultDecoder()
	occurredAt := time.Unix(1_700_000_000, 0).UTC()
	chat := ChatRef{
		ID:     "-1000000000500",
		Title:  "community",
		Type:   herald.ConversationTypeSupergroup,
		Policy: herald.ChatPolicy{ProtectedContent: true},
	}

	tests := []struct {
		name   string
		update Update
		assert func(t *testing.T, event *herald.Event)
	}{
		{
			name: "message update",
			update: Update{
				ID:         "tg:message:-1000000000500:777",
				Type:       UpdateTypeMessage,
				OccurredAt: occurredAt,
				Chat:       chat,
				Actor:      ActorRef{ID: "42", DisplayName: "Alice", LanguageCode: "ru"},
				Message:    &MessagePayload{ID: "777", ReplyToID: "700", Text: "hello"},
				Metadata:   map[string]string{"gotd_update": "updateNewChannelMessage"},
			},
			assert: func(t *testing.T, event *herald.Event) {
				t.Helper()
				if event.Kind != herald.EventKindMessageCreated {
					t.Fatalf("kind = %s, want %s", event.Kind, herald.EventKindMessageCreated)
				}
				if event.Message.ID != "777" || event.Message.ReplyToID != "700" || event.Message.Text != "hello" {
					t.Fatalf("message = %+v, want decoded payload", event.Message)
				}
				if event.Platform != herald.PlatformTelegram {
					t.Fatalf("platform = %s, want %s", event.Platform, herald.PlatformTelegram)
				}
				if !event.Conversation.Policy.ProtectedContent || event.Conversation.Title != "community" {
					t.Fatalf("conversation = %+v, want policy and title kept", event.Conversation)
				}
				if event.Actor.LanguageCode != "ru" {
					t.Fatalf("actor = %+v, want language kept", event.Actor)
				}
				if event.Metadata["gotd_update"] != "updateNewChannelMessage" {
					t.Fatalf("metadata = %v, want gotd update class", event.Metadata)
				}
			},
		},
		{
			name: "join with labeled invite and inviter",
			update: Update{
				ID:         "tg:member_join:-1000000000500:99",
				Type:       UpdateTypeMemberJoin,
				OccurredAt: occurredAt,
				Chat:       chat,
				Actor:      ActorRef{ID: "42"},
				Join: &JoinPayload{
					Members:     []ActorRef{{ID: "99", DisplayName: "Bob"}, {ID: "100", IsBot: true}},
					Pathway:     herald.JoinPathwayTransition,
					ByRequest:   true,
					HasInvite:   true,
					InviteLabel: "Discord",
					InviteURL:   "https://t.me/+abc",
					Inviter:     &ActorRef{ID: "42"},
				},
			},
			assert: func(t *testing.T, event *herald.Event) {
				t.Helper()
				if event.Kind != herald.EventKindMemberJoined {
					t.Fatalf("kind = %s, want %s", event.Kind, herald.EventKindMemberJoined)
				}
				join := event.Join
				if len(join.Members) != 2 || join.Members[0].DisplayName != "Bob" || !join.Members[1].IsBot {
					t.Fatalf("members = %+v, want bob and a bot", join.Members)
				}
				if join.Invite == nil || join.Invite.Label != "Discord" || join.Invite.URL != "https://t.me/+abc" {
					t.Fatalf("invite = %+v, want labeled invite", join.Invite)
				}
				if join.Inviter == nil || join.Inviter.ID != "42" {
					t.Fatalf("inviter = %+v, want 42", join.Inviter)
				}
				if !join.ByRequest || join.Pathway != herald.JoinPathwayTransition {
					t.Fatalf("join = %+v, want request transition", join)
				}
			},
		},
		{
			name: "join without invite leaves invite nil",
			update: Update{
				ID:         "tg:member_join:-10:55",
				Type:       UpdateTypeMemberJoin,
				OccurredAt: occurredAt,
				Chat:       ChatRef{ID: "-10", Type: herald.ConversationTypeGroup},
				Actor:      ActorRef{ID: "99"},
				Join: &JoinPayload{
					Members:          []ActorRef{{ID: "99"}},
					Pathway:          herald.JoinPathwayMessage,
					InviteLabel:      "ignored",
					ServiceMessageID: "55",
				},
			},
			assert: func(t *testing.T, event *herald.Event) {
				t.Helper()
				if event.Join.Invite != nil {
					t.Fatalf("invite = %+v, want nil", event.Join.Invite)
				}
				if event.Join.ServiceMessageID != "55" {
					t.Fatalf("service message id = %s, want 55", event.Join.ServiceMessageID)
				}
			},
		},
		{
			name: "callback update",
			update: Update{
				ID:       "tg:callback:-1000000000500:123",
				Type:     UpdateTypeCallback,
				Chat:     chat,
				Actor:    ActorRef{ID: "99"},
				Callback: &CallbackPayload{QueryID: "123", Data: "rules:en", MessageID: "900"},
			},
			assert: func(t *testing.T, event *herald.Event) {
				t.Helper()
				if event.Kind != herald.EventKindCallbackReceived {
					t.Fatalf("kind = %s, want %s", event.Kind, herald.EventKindCallbackReceived)
				}
				if event.Callback.Data != "rules:en" || event.Callback.MessageID != "900" {
					t.Fatalf("callback = %+v, want decoded payload", event.Callback)
				}
				if event.OccurredAt.IsZero() {
					t.Fatal("occurred at must default to now")
				}
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			event, err := decoder.Decode(context.Background(), testCase.update)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			testCase.assert(t, event)
		})
	}
}

func TestDefaultDecoderDecodeErrors(t *testing.T) {
	t.Parallel()

	decoder := NewDefaultDecoder()
	base := Update{
		ID:         "tg:x",
		OccurredAt: time.Unix(1, 0).UTC(),
		Chat:       ChatRef{ID: "-10", Type: herald.ConversationTypeGroup},
		Actor:      ActorRef{ID: "42"},
	}

	tests := []struct {
		name        string
		mutate      func(update *Update)
		wantInvalid bool
	}{
		{
			name:   "unsupported type",
			mutate: func(update *Update) { update.Type = "edited" },
		},
		{
			name:   "message without payload",
			mutate: func(update *Update) { update.Type = UpdateTypeMessage },
		},
		{
			name: "join without members",
			mutate: func(update *Update) {
				update.Type = UpdateTypeMemberJoin
				update.Join = &JoinPayload{Pathway: herald.JoinPathwayMessage}
			},
			wantInvalid: true,
		},
		{
			name: "join with unknown pathway",
			mutate: func(update *Update) {
				update.Type = UpdateTypeMemberJoin
				update.Join = &JoinPayload{Members: []ActorRef{{ID: "1"}}, Pathway: "poll"}
			},
			wantInvalid: true,
		},
		{
			name: "callback without query id",
			mutate: func(update *Update) {
				update.Type = UpdateTypeCallback
				update.Callback = &CallbackPayload{Data: "rules:en"}
			},
			wantInvalid: true,
		},
		{
			name: "missing conversation",
			mutate: func(update *Update) {
				update.Type = UpdateTypeMessage
				update.Message = &MessagePayload{ID: "1", Text: "hi"}
				update.Chat.ID = ""
			},
			wantInvalid: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			update := base
			testCase.mutate(&update)
			_, err := decoder.Decode(context.Background(), update)
			if err == nil {
				t.Fatal("expected decode error")
			}
			if testCase.wantInvalid && !errors.Is(err, herald.ErrInvalidEvent) {
				t.Fatalf("error = %v, want ErrInvalidEvent", err)
			}
		})
	}
}
