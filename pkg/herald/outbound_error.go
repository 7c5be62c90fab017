package herald

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OutboundOperation identifies one outbound dispatcher operation type.
type OutboundOperation string

const (
	OutboundOperationSendMessage       OutboundOperation = "send_message"
	OutboundOperationDeleteMessage     OutboundOperation = "delete_message"
	OutboundOperationRestrictMember    OutboundOperation = "restrict_member"
	OutboundOperationMemberPermissions OutboundOperation = "member_permissions"
	OutboundOperationAnswerCallback    OutboundOperation = "answer_callback"
)

// OutboundErrorKind describes coarse-grained outbound failure classification.
type OutboundErrorKind string

const (
	// OutboundErrorKindRateLimited indicates platform-side rate limiting.
	OutboundErrorKindRateLimited OutboundErrorKind = "rate_limited"
	// OutboundErrorKindForbidden indicates the bot lacks rights for the operation.
	OutboundErrorKindForbidden OutboundErrorKind = "forbidden"
	// OutboundErrorKindTemporary indicates retryable transient failure.
	OutboundErrorKindTemporary OutboundErrorKind = "temporary"
	// OutboundErrorKindPermanent indicates non-retryable permanent failure.
	OutboundErrorKindPermanent OutboundErrorKind = "permanent"
	// OutboundErrorKindUnknown indicates unclassified failure.
	OutboundErrorKindUnknown OutboundErrorKind = "unknown"
)

// OutboundError carries structured metadata for one outbound operation failure.
type OutboundError struct {
	// Operation identifies which outbound operation failed.
	Operation OutboundOperation
	// Kind classifies the failure.
	Kind OutboundErrorKind
	// Platform identifies which destination platform produced the failure.
	Platform Platform
	// ConversationID identifies the target conversation when known.
	ConversationID string
	// RetryAfter carries the platform wait hint for rate-limited failures.
	RetryAfter time.Duration
	// Code carries the platform RPC/status code when known.
	Code int
	// Type carries the platform error type token when known.
	Type string
	// Cause is the wrapped platform/transport error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *OutboundError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 7)
	appendField := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fields = append(fields, key+"="+value)
		}
	}
	appendField("operation", string(e.Operation))
	appendField("kind", string(e.Kind))
	appendField("platform", string(e.Platform))
	appendField("conversation_id", e.ConversationID)
	if e.RetryAfter > 0 {
		appendField("retry_after", e.RetryAfter.String())
	}
	if e.Code != 0 {
		appendField("code", fmt.Sprintf("%d", e.Code))
	}
	appendField("type", e.Type)

	summary := "outbound error"
	if len(fields) > 0 {
		summary += ": " + strings.Join(fields, " ")
	}
	if e.Cause != nil {
		summary += ": " + e.Cause.Error()
	}

	return summary
}

// Unwrap returns the wrapped root cause.
func (e *OutboundError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsOutboundError extracts one OutboundError from wrapped error chains.
func AsOutboundError(err error) (*OutboundError, bool) {
	if err == nil {
		return nil, false
	}

	var outboundErr *OutboundError
	if errors.As(err, &outboundErr) {
		return outboundErr, true
	}

	return nil, false
}

// IsOutboundForbidden reports whether err is a missing-rights failure.
func IsOutboundForbidden(err error) bool {
	outboundErr, ok := AsOutboundError(err)
	return ok && outboundErr.Kind == OutboundErrorKindForbidden
}

// AsOutboundRateLimit extracts the retry delay from rate-limit errors.
//
// It returns (0, false) if err is not rate-limited and (0, true) when no hint is known.
func AsOutboundRateLimit(err error) (time.Duration, bool) {
	outboundErr, ok := AsOutboundError(err)
	if !ok || outboundErr.Kind != OutboundErrorKindRateLimited {
		return 0, false
	}

	return outboundErr.RetryAfter, true
}
