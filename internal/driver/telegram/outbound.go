package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"herald/pkg/herald"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"
)

const (
	defaultOutboundTimeout = 5 * time.Second
	defaultOutboundRate    = 20
	defaultOutboundBurst   = 5
)

// OutboundObserver receives classified outbound failures.
type OutboundObserver interface {
	OutboundFailed(operation herald.OutboundOperation, kind herald.OutboundErrorKind)
}

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// WithOutboundRateLimit bounds outbound calls to perSecond with burst.
func WithOutboundRateLimit(perSecond float64, burst int) OutboundOption {
	return func(cfg *outboundConfig) {
		if perSecond > 0 && burst > 0 {
			cfg.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithOutboundObserver reports every failed outbound call.
func WithOutboundObserver(observer OutboundObserver) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.observer = observer
	}
}

// SinkDispatcher adapts neutral outbound operations to Telegram RPC calls.
type SinkDispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	telegram outboundRPC
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
	limiter    *rate.Limiter
	observer   OutboundObserver
}

// NewOutboundDispatcher creates a Telegram outbound dispatcher using gotd client APIs.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client), peers, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{
		rpcTimeout: defaultOutboundTimeout,
		limiter:    rate.NewLimiter(defaultOutboundRate, defaultOutboundBurst),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{
		cfg:      cfg,
		peers:    peers,
		telegram: rpc,
	}, nil
}

// SendMessage publishes an HTML text or photo message to a Telegram conversation.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request herald.SendMessageRequest,
) (*herald.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}
	peer, err := d.peers.Resolve(request.Target.Conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("send message resolve peer: %w", err)
	}
	if request.ReplyToMessageID != "" {
		if _, err := parseMessageID(request.ReplyToMessageID); err != nil {
			return nil, fmt.Errorf("send message parse reply id %s: %w", request.ReplyToMessageID, err)
		}
	}

	var id int
	err = d.call(ctx, herald.OutboundOperationSendMessage, request.Target.Conversation.ID, func(rpcCtx context.Context) error {
		sentID, sendErr := d.telegram.SendMessage(rpcCtx, peer, request)
		id = sentID
		return sendErr
	})
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", request.Target.Conversation.ID, err)
	}

	d.logOutbound(
		ctx,
		herald.OutboundOperationSendMessage,
		"chat_id", request.Target.Conversation.ID,
		"message_id", id,
		"photo", request.PhotoURL != "",
	)

	return &herald.OutboundMessage{
		ID:     strconv.Itoa(id),
		Target: request.Target,
	}, nil
}

// DeleteMessage removes an existing Telegram message for everyone.
func (d *SinkDispatcher) DeleteMessage(ctx context.Context, request herald.DeleteMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("delete message validate: %w", err)
	}
	peer, err := d.peers.Resolve(request.Target.Conversation.ID)
	if err != nil {
		return fmt.Errorf("delete message resolve peer: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("delete message parse id %s: %w", request.MessageID, err)
	}

	err = d.call(ctx, herald.OutboundOperationDeleteMessage, request.Target.Conversation.ID, func(rpcCtx context.Context) error {
		return d.telegram.DeleteMessage(rpcCtx, peer, messageID)
	})
	if err != nil {
		return fmt.Errorf("delete message %s: %w", request.MessageID, err)
	}

	d.logOutbound(
		ctx,
		herald.OutboundOperationDeleteMessage,
		"chat_id", request.Target.Conversation.ID,
		"message_id", request.MessageID,
	)

	return nil
}

// RestrictMember withdraws member rights in a supergroup until the deadline.
func (d *SinkDispatcher) RestrictMember(ctx context.Context, request herald.RestrictMemberRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("restrict member validate: %w", err)
	}
	channel, err := d.resolveChannel(request.Target.Conversation.ID)
	if err != nil {
		return fmt.Errorf("restrict member: %w", err)
	}
	member, err := d.peers.Resolve(request.UserID)
	if err != nil {
		return fmt.Errorf("restrict member resolve user: %w", err)
	}

	rights := bannedRights(request.Rights, request.Until)
	err = d.call(ctx, herald.OutboundOperationRestrictMember, request.Target.Conversation.ID, func(rpcCtx context.Context) error {
		return d.telegram.EditBanned(rpcCtx, channel, member, rights)
	})
	if err != nil {
		return fmt.Errorf("restrict member %s: %w", request.UserID, err)
	}

	d.logOutbound(
		ctx,
		herald.OutboundOperationRestrictMember,
		"chat_id", request.Target.Conversation.ID,
		"user_id", request.UserID,
		"until", request.Until,
	)

	return nil
}

// MemberPermissions reports whether the bot may delete messages and restrict members.
//
// Rights are read from the bot's own participant record, so only supergroups
// and channels are supported.
func (d *SinkDispatcher) MemberPermissions(
	ctx context.Context,
	request herald.MemberPermissionsRequest,
) (herald.MemberPermissions, error) {
	if err := request.Validate(); err != nil {
		return herald.MemberPermissions{}, fmt.Errorf("member permissions validate: %w", err)
	}
	channel, err := d.resolveChannel(request.Target.Conversation.ID)
	if err != nil {
		return herald.MemberPermissions{}, fmt.Errorf("member permissions: %w", err)
	}

	var participant tg.ChannelParticipantClass
	err = d.call(ctx, herald.OutboundOperationMemberPermissions, request.Target.Conversation.ID, func(rpcCtx context.Context) error {
		self, rpcErr := d.telegram.SelfParticipant(rpcCtx, channel)
		participant = self
		return rpcErr
	})
	if err != nil {
		return herald.MemberPermissions{}, fmt.Errorf("member permissions in %s: %w", request.Target.Conversation.ID, err)
	}

	return permissionsFromParticipant(participant), nil
}

// AnswerCallback acknowledges one callback query.
func (d *SinkDispatcher) AnswerCallback(ctx context.Context, request herald.AnswerCallbackRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("answer callback validate: %w", err)
	}
	queryID, err := strconv.ParseInt(strings.TrimSpace(request.QueryID), 10, 64)
	if err != nil {
		return fmt.Errorf("answer callback parse query id %s: %w: %w", request.QueryID, herald.ErrInvalidOutboundRequest, err)
	}

	err = d.call(ctx, herald.OutboundOperationAnswerCallback, "", func(rpcCtx context.Context) error {
		return d.telegram.AnswerCallback(rpcCtx, queryID, request.Text, request.Alert)
	})
	if err != nil {
		return fmt.Errorf("answer callback %s: %w", request.QueryID, err)
	}

	return nil
}

// call runs one RPC under the rate limiter and timeout and classifies its failure.
func (d *SinkDispatcher) call(
	ctx context.Context,
	operation herald.OutboundOperation,
	conversationID string,
	rpc func(ctx context.Context) error,
) error {
	if d.cfg.limiter != nil {
		if err := d.cfg.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait outbound rate limit: %w", err)
		}
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	err := mapTelegramOutboundError(operation, conversationID, rpc(rpcCtx))
	if err != nil && d.cfg.observer != nil {
		kind := herald.OutboundErrorKindUnknown
		if outboundErr, ok := herald.AsOutboundError(err); ok {
			kind = outboundErr.Kind
		}
		d.cfg.observer.OutboundFailed(operation, kind)
	}

	return err
}

func (d *SinkDispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.cfg.rpcTimeout)
}

// resolveChannel resolves a conversation that must be a supergroup or channel.
func (d *SinkDispatcher) resolveChannel(conversationID string) (*tg.InputPeerChannel, error) {
	peer, err := d.peers.Resolve(conversationID)
	if err != nil {
		return nil, fmt.Errorf("resolve peer: %w", err)
	}
	channel, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s is not a supergroup", herald.ErrOutboundUnsupported, conversationID)
	}

	return channel, nil
}

func (d *SinkDispatcher) logOutbound(ctx context.Context, operation herald.OutboundOperation, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 2+len(attrs))
	values = append(values, "operation", operation)
	values = append(values, attrs...)
	d.cfg.logger.DebugContext(ctx, "telegram outbound operation", values...)
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id: %w", herald.ErrInvalidOutboundRequest, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id", herald.ErrInvalidOutboundRequest)
	}

	return value, nil
}

func bannedRights(rights herald.MemberRights, until time.Time) tg.ChatBannedRights {
	return tg.ChatBannedRights{
		SendMessages:    rights.DenySendMessages,
		SendPlain:       rights.DenySendMessages,
		SendMedia:       rights.DenySendMedia,
		SendPhotos:      rights.DenySendMedia,
		SendVideos:      rights.DenySendMedia,
		SendRoundvideos: rights.DenySendMedia,
		SendAudios:      rights.DenySendMedia,
		SendVoices:      rights.DenySendMedia,
		SendDocs:        rights.DenySendMedia,
		SendStickers:    rights.DenySendOther,
		SendGifs:        rights.DenySendOther,
		SendGames:       rights.DenySendOther,
		SendInline:      rights.DenySendOther,
		SendPolls:       rights.DenySendOther,
		EmbedLinks:      rights.DenyLinkPreviews,
		UntilDate:       int(until.Unix()),
	}
}

func permissionsFromParticipant(participant tg.ChannelParticipantClass) herald.MemberPermissions {
	switch typed := participant.(type) {
	case *tg.ChannelParticipantCreator:
		return herald.MemberPermissions{CanDelete: true, CanRestrict: true}
	case *tg.ChannelParticipantAdmin:
		return herald.MemberPermissions{
			CanDelete:   typed.AdminRights.DeleteMessages,
			CanRestrict: typed.AdminRights.BanUsers,
		}
	default:
		return herald.MemberPermissions{}
	}
}

func inlineMarkup(keyboard *herald.InlineKeyboard) *tg.ReplyInlineMarkup {
	rows := make([]tg.KeyboardButtonRow, 0, len(keyboard.Rows))
	for _, row := range keyboard.Rows {
		buttons := make([]tg.KeyboardButtonClass, 0, len(row))
		for _, button := range row {
			if button.URL != "" {
				buttons = append(buttons, &tg.KeyboardButtonURL{Text: button.Text, URL: button.URL})
				continue
			}
			buttons = append(buttons, &tg.KeyboardButtonCallback{Text: button.Text, Data: []byte(button.CallbackData)})
		}
		rows = append(rows, tg.KeyboardButtonRow{Buttons: buttons})
	}

	return &tg.ReplyInlineMarkup{Rows: rows}
}

type outboundRPC interface {
	SendMessage(ctx context.Context, peer tg.InputPeerClass, request herald.SendMessageRequest) (int, error)
	DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int) error
	EditBanned(ctx context.Context, channel *tg.InputPeerChannel, member tg.InputPeerClass, rights tg.ChatBannedRights) error
	SelfParticipant(ctx context.Context, channel *tg.InputPeerChannel) (tg.ChannelParticipantClass, error)
	AnswerCallback(ctx context.Context, queryID int64, text string, alert bool) error
}

type gotdOutboundRPC struct {
	raw    *tg.Client
	sender *message.Sender
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	raw := client.API()

	return gotdOutboundRPC{
		raw:    raw,
		sender: message.NewSender(raw),
	}
}

func (r gotdOutboundRPC) SendMessage(
	ctx context.Context,
	peer tg.InputPeerClass,
	request herald.SendMessageRequest,
) (int, error) {
	builder := &r.sender.To(peer).Builder
	if request.DisableLinkPreview {
		builder = builder.NoWebpage()
	}
	if request.Silent {
		builder = builder.Silent()
	}
	if request.ReplyToMessageID != "" {
		replyID, err := parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return 0, err
		}
		builder = builder.Reply(replyID)
	}
	if request.Keyboard != nil {
		builder = builder.Markup(inlineMarkup(request.Keyboard))
	}

	var (
		updates tg.UpdatesClass
		err     error
	)
	switch {
	case request.PhotoURL != "" && request.Text != "":
		updates, err = builder.PhotoExternal(ctx, request.PhotoURL, html.String(rejectMentionResolver, request.Text))
	case request.PhotoURL != "":
		updates, err = builder.PhotoExternal(ctx, request.PhotoURL)
	default:
		updates, err = builder.StyledText(ctx, html.String(rejectMentionResolver, request.Text))
	}
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

// rejectMentionResolver refuses tg://user mentions; the bot never renders them.
func rejectMentionResolver(id int64) (tg.InputUserClass, error) {
	return nil, fmt.Errorf("%w: user mention %d", herald.ErrOutboundUnsupported, id)
}

func (r gotdOutboundRPC) DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int) error {
	if _, err := r.sender.To(peer).Revoke().Messages(ctx, messageID); err != nil {
		return fmt.Errorf("revoke delete message: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) EditBanned(
	ctx context.Context,
	channel *tg.InputPeerChannel,
	member tg.InputPeerClass,
	rights tg.ChatBannedRights,
) error {
	_, err := r.raw.ChannelsEditBanned(ctx, &tg.ChannelsEditBannedRequest{
		Channel:      &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
		Participant:  member,
		BannedRights: rights,
	})
	if err != nil {
		return fmt.Errorf("edit banned: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) SelfParticipant(
	ctx context.Context,
	channel *tg.InputPeerChannel,
) (tg.ChannelParticipantClass, error) {
	result, err := r.raw.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
		Participant: &tg.InputPeerSelf{},
	})
	if err != nil {
		return nil, fmt.Errorf("get self participant: %w", err)
	}

	return result.Participant, nil
}

func (r gotdOutboundRPC) AnswerCallback(ctx context.Context, queryID int64, text string, alert bool) error {
	request := &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID: queryID,
		Alert:   alert,
	}
	if text != "" {
		request.SetMessage(text)
	}
	if _, err := r.raw.MessagesSetBotCallbackAnswer(ctx, request); err != nil {
		return fmt.Errorf("set bot callback answer: %w", err)
	}

	return nil
}
