package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"herald/pkg/herald"

	"github.com/gotd/td/constant"
	"github.com/gotd/td/tg"
)

const gotdUnknownActorID = "unknown"

// DefaultGotdUpdateMapper maps gotd updates into adapter DTO updates.
type DefaultGotdUpdateMapper struct {
	peerCache *PeerCache
}

// GotdUpdateMapperOption mutates DefaultGotdUpdateMapper behavior.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithPeerCache records entity-derived peer mappings for outbound dispatch.
func WithPeerCache(cache *PeerCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.peerCache = cache
		}
	}
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts a gotd raw update value into an adapter update.
//
// Only new text messages, joins and callback queries are accepted; everything
// else returns accepted=false.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	select {
	case <-ctx.Done():
		return Update{}, false, fmt.Errorf("map gotd update context: %w", ctx.Err())
	default:
	}

	envelope, err := normalizeGotdRaw(raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd raw update: %w", err)
	}
	if m.peerCache != nil {
		m.peerCache.RememberEnvelope(envelope)
	}

	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		return m.mapNewMessage(update.Message, envelope)
	case *tg.UpdateNewChannelMessage:
		return m.mapNewMessage(update.Message, envelope)
	case *tg.UpdateChatParticipant:
		return m.mapChatParticipant(update, envelope)
	case *tg.UpdateChannelParticipant:
		return m.mapChannelParticipant(update, envelope)
	case *tg.UpdateBotCallbackQuery:
		return m.mapCallbackQuery(update, envelope)
	default:
		return Update{}, false, nil
	}
}

func normalizeGotdRaw(raw any) (gotdUpdateEnvelope, error) {
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		return typed, nil
	case *gotdUpdateEnvelope:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil envelope")
		}
		return *typed, nil
	case tg.UpdateClass:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil update class")
		}
		return gotdUpdateEnvelope{
			update:      typed,
			occurredAt:  time.Now().UTC(),
			updateClass: typed.TypeName(),
		}, nil
	default:
		return gotdUpdateEnvelope{}, fmt.Errorf("unsupported raw type %T", raw)
	}
}

func (m DefaultGotdUpdateMapper) mapNewMessage(
	message tg.MessageClass,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	switch typed := message.(type) {
	case *tg.Message:
		return m.mapMessage(typed, envelope)
	case *tg.MessageService:
		return m.mapServiceMessage(typed, envelope)
	default:
		return Update{}, false, nil
	}
}

// mapMessage projects incoming text messages. Own and textless messages are skipped.
func (m DefaultGotdUpdateMapper) mapMessage(
	message *tg.Message,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	if message.Out || strings.TrimSpace(message.Message) == "" {
		return Update{}, false, nil
	}

	chat := resolveChatFromPeer(message.PeerID, envelope)
	actor := resolveActorFromPeer(message.FromID, envelope)
	if actor.ID == gotdUnknownActorID {
		actor = resolveActorFromPeer(message.PeerID, envelope)
	}

	payload := &MessagePayload{
		ID:   strconv.Itoa(message.ID),
		Text: message.Message,
	}
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok {
			if replyToMessageID, ok := header.GetReplyToMsgID(); ok {
				payload.ReplyToID = strconv.Itoa(replyToMessageID)
			}
		}
	}

	occurredAt := messageTime(message.Date, envelope)
	m.rememberConversation(chat, message.PeerID, envelope)

	return Update{
		ID:         composeUpdateID(UpdateTypeMessage, chat.ID, payload.ID),
		Type:       UpdateTypeMessage,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Message:    payload,
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

// mapServiceMessage maps "user joined" service messages into message-pathway joins.
func (m DefaultGotdUpdateMapper) mapServiceMessage(
	message *tg.MessageService,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	if message.Action == nil {
		return Update{}, false, nil
	}

	chat := resolveChatFromPeer(message.PeerID, envelope)
	actor := resolveActorFromPeer(message.FromID, envelope)
	occurredAt := messageTime(message.Date, envelope)
	m.rememberConversation(chat, message.PeerID, envelope)

	join := &JoinPayload{
		Pathway:          herald.JoinPathwayMessage,
		ServiceMessageID: strconv.Itoa(message.ID),
	}

	switch action := message.Action.(type) {
	case *tg.MessageActionChatAddUser:
		for _, userID := range action.Users {
			join.Members = append(join.Members, resolveActorByUserID(userID, envelope))
		}
		if !containsActor(join.Members, actor.ID) {
			join.Inviter = actorPointer(actor)
		}
	case *tg.MessageActionChatJoinedByLink:
		join.Members = []ActorRef{actor}
		join.HasInvite = true
		if action.InviterID != 0 {
			join.Inviter = actorPointer(resolveActorByUserID(action.InviterID, envelope))
		}
	case *tg.MessageActionChatJoinedByRequest:
		join.Members = []ActorRef{actor}
		join.ByRequest = true
	default:
		return Update{}, false, nil
	}
	if len(join.Members) == 0 {
		return Update{}, false, nil
	}

	return Update{
		ID:         composeUpdateID(UpdateTypeMemberJoin, chat.ID, join.ServiceMessageID),
		Type:       UpdateTypeMemberJoin,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Join:       join,
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

// mapChatParticipant maps basic group membership transitions.
func (m DefaultGotdUpdateMapper) mapChatParticipant(
	update *tg.UpdateChatParticipant,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	_, prevExists := update.GetPrevParticipant()
	_, newExists := update.GetNewParticipant()
	if prevExists || !newExists {
		return Update{}, false, nil
	}

	chat := resolveChatByChatID(update.ChatID, envelope)
	m.peerCacheRemember(chat.ID, &tg.InputPeerChat{ChatID: update.ChatID})

	invite, _ := update.GetInvite()

	return m.transitionJoin(chat, update.ActorID, update.UserID, update.Date, invite, envelope), true, nil
}

// mapChannelParticipant maps supergroup and channel membership transitions.
//
// A transition counts as a join when the member was absent, left or kicked
// before and holds an active membership after.
func (m DefaultGotdUpdateMapper) mapChannelParticipant(
	update *tg.UpdateChannelParticipant,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	prevParticipant, _ := update.GetPrevParticipant()
	newParticipant, _ := update.GetNewParticipant()
	if isChannelParticipantActive(prevParticipant) || !isChannelParticipantActive(newParticipant) {
		return Update{}, false, nil
	}

	chat := resolveChatByChannelID(update.ChannelID, envelope)
	invite, _ := update.GetInvite()

	return m.transitionJoin(chat, update.ActorID, update.UserID, update.Date, invite, envelope), true, nil
}

func (m DefaultGotdUpdateMapper) transitionJoin(
	chat ChatRef,
	actorID int64,
	userID int64,
	date int,
	invite tg.ExportedChatInviteClass,
	envelope gotdUpdateEnvelope,
) Update {
	member := resolveActorByUserID(userID, envelope)
	actor := resolveActorByUserID(actorID, envelope)
	occurredAt := messageTime(date, envelope)

	join := &JoinPayload{
		Members: []ActorRef{member},
		Pathway: herald.JoinPathwayTransition,
	}
	if actor.ID != member.ID {
		join.Inviter = actorPointer(actor)
	}
	switch typed := invite.(type) {
	case *tg.ChatInviteExported:
		join.HasInvite = true
		join.InviteURL = typed.Link
		join.InviteLabel, _ = typed.GetTitle()
		join.ByRequest = typed.RequestNeeded
	case *tg.ChatInvitePublicJoinRequests:
		join.ByRequest = true
	}

	return Update{
		ID:         composeUpdateID(UpdateTypeMemberJoin, chat.ID, member.ID, occurredAt),
		Type:       UpdateTypeMemberJoin,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Join:       join,
		Metadata:   newGotdMetadata(envelope),
	}
}

func (m DefaultGotdUpdateMapper) mapCallbackQuery(
	update *tg.UpdateBotCallbackQuery,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	data, ok := update.GetData()
	if !ok {
		return Update{}, false, nil
	}

	chat := resolveChatFromPeer(update.Peer, envelope)
	m.rememberConversation(chat, update.Peer, envelope)
	queryID := strconv.FormatInt(update.QueryID, 10)

	return Update{
		ID:         composeUpdateID(UpdateTypeCallback, chat.ID, queryID),
		Type:       UpdateTypeCallback,
		OccurredAt: envelope.occurredAt,
		Chat:       chat,
		Actor:      resolveActorByUserID(update.UserID, envelope),
		Callback: &CallbackPayload{
			QueryID:   queryID,
			Data:      string(data),
			MessageID: strconv.Itoa(update.MsgID),
		},
		Metadata: newGotdMetadata(envelope),
	}, true, nil
}

func (m DefaultGotdUpdateMapper) rememberConversation(chat ChatRef, peer tg.PeerClass, envelope gotdUpdateEnvelope) {
	m.peerCacheRemember(chat.ID, resolveInputPeerFromPeer(peer, envelope))
}

func (m DefaultGotdUpdateMapper) peerCacheRemember(id string, peer tg.InputPeerClass) {
	if m.peerCache != nil {
		m.peerCache.Remember(id, peer)
	}
}

type gotdUpdateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	usersByID   map[int64]*tg.User
	chatsByID   map[int64]gotdChatInfo
	updateClass string
}

// gotdChatInfo is keyed by the raw MTProto id; id holds the Bot API form.
type gotdChatInfo struct {
	id        string
	title     string
	kind      herald.ConversationType
	policy    herald.ChatPolicy
	inputPeer tg.InputPeerClass
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if user == nil {
			continue
		}
		notEmpty, ok := user.AsNotEmpty()
		if !ok || notEmpty == nil {
			continue
		}
		out[notEmpty.ID] = notEmpty
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	if len(chats) == 0 {
		return nil
	}

	out := make(map[int64]gotdChatInfo, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			out[typed.ID] = gotdChatInfo{
				id:        chatPeerID(typed.ID),
				title:     typed.Title,
				kind:      herald.ConversationTypeGroup,
				policy:    herald.ChatPolicy{ProtectedContent: typed.Noforwards},
				inputPeer: typed.AsInputPeer(),
			}
		case *tg.ChatForbidden:
			out[typed.ID] = gotdChatInfo{
				id:        chatPeerID(typed.ID),
				title:     typed.Title,
				kind:      herald.ConversationTypeGroup,
				inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
			}
		case *tg.Channel:
			out[typed.ID] = gotdChatInfo{
				id:    channelPeerID(typed.ID),
				title: typed.Title,
				kind:  channelKind(typed.Megagroup),
				policy: herald.ChatPolicy{
					ProtectedContent: typed.Noforwards,
					JoinByRequest:    typed.JoinRequest,
					JoinToSend:       typed.JoinToSend,
				},
				inputPeer: typed.AsInputPeer(),
			}
		case *tg.ChannelForbidden:
			out[typed.ID] = gotdChatInfo{
				id:    channelPeerID(typed.ID),
				title: typed.Title,
				kind:  channelKind(typed.Megagroup),
				inputPeer: &tg.InputPeerChannel{
					ChannelID:  typed.ID,
					AccessHash: typed.AccessHash,
				},
			}
		}
	}

	return out
}

func channelKind(megagroup bool) herald.ConversationType {
	if megagroup {
		return herald.ConversationTypeSupergroup
	}

	return herald.ConversationTypeChannel
}

// chatPeerID renders a basic group id the way the Bot API does.
func chatPeerID(chatID int64) string {
	var id constant.TDLibPeerID
	id.Chat(chatID)

	return strconv.FormatInt(int64(id), 10)
}

// channelPeerID renders a channel or supergroup id the way the Bot API does.
func channelPeerID(channelID int64) string {
	var id constant.TDLibPeerID
	id.Channel(channelID)

	return strconv.FormatInt(int64(id), 10)
}

func resolveChatFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		actor := resolveActorByUserID(typed.UserID, envelope)
		return ChatRef{
			ID:    actor.ID,
			Type:  herald.ConversationTypePrivate,
			Title: actor.DisplayName,
		}
	case *tg.PeerChat:
		return resolveChatByChatID(typed.ChatID, envelope)
	case *tg.PeerChannel:
		return resolveChatByChannelID(typed.ChannelID, envelope)
	default:
		return ChatRef{
			ID:   gotdUnknownActorID,
			Type: herald.ConversationTypePrivate,
		}
	}
}

func resolveChatByChatID(chatID int64, envelope gotdUpdateEnvelope) ChatRef {
	info, ok := envelope.chatsByID[chatID]
	if !ok {
		return ChatRef{ID: chatPeerID(chatID), Type: herald.ConversationTypeGroup}
	}

	return info.ref()
}

func resolveChatByChannelID(channelID int64, envelope gotdUpdateEnvelope) ChatRef {
	info, ok := envelope.chatsByID[channelID]
	if !ok {
		return ChatRef{ID: channelPeerID(channelID), Type: herald.ConversationTypeSupergroup}
	}

	return info.ref()
}

func (info gotdChatInfo) ref() ChatRef {
	return ChatRef{
		ID:     info.id,
		Title:  info.title,
		Type:   info.kind,
		Policy: info.policy,
	}
}

func resolveActorFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return resolveActorByUserID(typed.UserID, envelope)
	case *tg.PeerChat:
		chat := resolveChatByChatID(typed.ChatID, envelope)
		return ActorRef{ID: chat.ID, DisplayName: chat.Title}
	case *tg.PeerChannel:
		chat := resolveChatByChannelID(typed.ChannelID, envelope)
		return ActorRef{ID: chat.ID, DisplayName: chat.Title}
	default:
		return ActorRef{ID: gotdUnknownActorID}
	}
}

func resolveActorByUserID(userID int64, envelope gotdUpdateEnvelope) ActorRef {
	if userID == 0 {
		return ActorRef{ID: gotdUnknownActorID}
	}
	id := strconv.FormatInt(userID, 10)

	user, ok := envelope.usersByID[userID]
	if !ok || user == nil {
		return ActorRef{ID: id}
	}

	username, _ := user.GetUsername()
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()
	langCode, _ := user.GetLangCode()

	return ActorRef{
		ID:           id,
		Username:     username,
		DisplayName:  strings.TrimSpace(firstName + " " + lastName),
		LanguageCode: langCode,
		IsBot:        user.Bot,
	}
}

func resolveInputPeerFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		user, ok := envelope.usersByID[typed.UserID]
		if !ok || user == nil {
			return nil
		}
		return user.AsInputPeer()
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: typed.ChatID}
	case *tg.PeerChannel:
		info, ok := envelope.chatsByID[typed.ChannelID]
		if !ok {
			return nil
		}
		return info.inputPeer
	default:
		return nil
	}
}

// isChannelParticipantActive reports whether a participant is currently a member.
// Restricted members are represented as banned without the left flag.
func isChannelParticipantActive(participant tg.ChannelParticipantClass) bool {
	switch typed := participant.(type) {
	case *tg.ChannelParticipant, *tg.ChannelParticipantSelf,
		*tg.ChannelParticipantAdmin, *tg.ChannelParticipantCreator:
		return true
	case *tg.ChannelParticipantBanned:
		return !typed.Left
	default:
		return false
	}
}

func containsActor(actors []ActorRef, id string) bool {
	for _, actor := range actors {
		if actor.ID == id {
			return true
		}
	}

	return false
}

func actorPointer(actor ActorRef) *ActorRef {
	if actor.ID == "" || actor.ID == gotdUnknownActorID {
		return nil
	}
	copyActor := actor

	return &copyActor
}

func messageTime(date int, envelope gotdUpdateEnvelope) time.Time {
	if occurredAt := intToTimeUTC(date); !occurredAt.IsZero() {
		return occurredAt
	}

	return envelope.occurredAt
}

func composeUpdateID(updateType UpdateType, chatID string, parts ...any) string {
	values := []string{"tg", string(updateType)}
	if chatID != "" {
		values = append(values, chatID)
	}
	for _, part := range parts {
		switch typed := part.(type) {
		case string:
			if typed != "" {
				values = append(values, typed)
			}
		case time.Time:
			if !typed.IsZero() {
				values = append(values, strconv.FormatInt(typed.UnixNano(), 10))
			}
		default:
			values = append(values, fmt.Sprint(part))
		}
	}

	return strings.Join(values, ":")
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}

	return map[string]string{"gotd_update": envelope.updateClass}
}
