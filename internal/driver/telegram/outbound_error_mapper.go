package telegram

import (
	"errors"
	"strings"

	"herald/pkg/herald"

	"github.com/gotd/td/tgerr"
)

// forbiddenRPCTypes are 400-coded Telegram errors that mean missing rights rather than bad input.
var forbiddenRPCTypes = []string{
	"CHAT_ADMIN_REQUIRED",
	"CHAT_WRITE_FORBIDDEN",
	"RIGHT_FORBIDDEN",
	"USER_ADMIN_INVALID",
	"MESSAGE_DELETE_FORBIDDEN",
}

func mapTelegramOutboundError(
	operation herald.OutboundOperation,
	conversationID string,
	err error,
) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, herald.ErrInvalidOutboundRequest) || errors.Is(err, herald.ErrOutboundUnsupported) {
		return err
	}

	outboundErr := &herald.OutboundError{
		Operation:      operation,
		Kind:           herald.OutboundErrorKindUnknown,
		Platform:       DriverPlatform,
		ConversationID: conversationID,
		Cause:          err,
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outboundErr.Kind = herald.OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter
		if rpcErr, hasRPC := tgerr.As(err); hasRPC {
			outboundErr.Code = rpcErr.Code
			outboundErr.Type = rpcErr.Type
		}

		return outboundErr
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return outboundErr
	}

	outboundErr.Code = rpcErr.Code
	outboundErr.Type = rpcErr.Type
	outboundErr.Kind = classifyTelegramRPCError(rpcErr)

	return outboundErr
}

func classifyTelegramRPCError(rpcErr *tgerr.Error) herald.OutboundErrorKind {
	if rpcErr == nil {
		return herald.OutboundErrorKindUnknown
	}

	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD") {
		return herald.OutboundErrorKindRateLimited
	}
	if rpcErr.Code == 403 {
		return herald.OutboundErrorKindForbidden
	}
	for _, forbidden := range forbiddenRPCTypes {
		if errorType == forbidden {
			return herald.OutboundErrorKindForbidden
		}
	}

	switch rpcErr.Code {
	case 303:
		return herald.OutboundErrorKindTemporary
	case 400, 401, 404, 405, 406:
		return herald.OutboundErrorKindPermanent
	}
	if rpcErr.Code >= 500 {
		return herald.OutboundErrorKindTemporary
	}

	return herald.OutboundErrorKindUnknown
}
