package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"sightline/internal/audio"
	"sightline/internal/domain"
	"sightline/internal/integrations/openai"
	"sightline/internal/repository"
	"sightline/internal/speech"
)

type ErrorCode string

const (
	ErrorPermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrorClassification     ErrorCode = "CLASSIFICATION_ERROR"
	ErrorAdapterUnavailable ErrorCode = "ADAPTER_UNAVAILABLE"
	ErrorNoActiveResource   ErrorCode = "NO_ACTIVE_RESOURCE"
	ErrorUnexpectedResponse ErrorCode = "UNEXPECTED_RESPONSE"
	ErrorUpstream           ErrorCode = "UPSTREAM_ERROR"
	ErrorRateLimited        ErrorCode = "RATE_LIMITED"
	ErrorTimeout            ErrorCode = "TIMEOUT"
	ErrorBusy               ErrorCode = "BUSY"
	ErrorSessionClosed      ErrorCode = "SESSION_CLOSED"
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorNotFound           ErrorCode = "NOT_FOUND"
	ErrorConversationLimit  ErrorCode = "CONVERSATION_LIMIT"
	ErrorInternal           ErrorCode = "INTERNAL"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether another attempt may succeed: rate limits,
// timeouts, network failures and 5xx responses.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case ErrorRateLimited, ErrorTimeout:
		return true
	case ErrorUpstream:
		if status, ok := upstreamStatusCode(e.Err); ok {
			return status >= http.StatusInternalServerError
		}
		var netErr net.Error
		return errors.As(e.Err, &netErr)
	default:
		return false
	}
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code carried by err, or ErrorInternal.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// toError maps adapter and store failures onto coded errors. reason names the
// operation that failed, e.g. "classify".
func toError(reason string, err error) *Error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}

	switch {
	case errors.Is(err, domain.ErrUnknownClassification):
		return newError(ErrorClassification, reason+"_unknown_class", err)
	case errors.Is(err, domain.ErrHistoryClosed):
		return newError(ErrorSessionClosed, reason+"_session_closed", err)
	case errors.Is(err, domain.ErrTurnOrder):
		return newError(ErrorBusy, reason+"_concurrent_append", err)
	case errors.Is(err, domain.ErrEmptyTurn), errors.Is(err, domain.ErrEmptyImage):
		return newError(ErrorInvalidInput, reason+"_invalid", err)

	case errors.Is(err, audio.ErrPermissionDenied):
		return newError(ErrorPermissionDenied, reason+"_permission_denied", err)
	case errors.Is(err, audio.ErrBackendUnavailable),
		errors.Is(err, speech.ErrModelNotReady),
		errors.Is(err, speech.ErrEngineUnavailable):
		return newError(ErrorAdapterUnavailable, reason+"_unavailable", err)
	case errors.Is(err, audio.ErrNoActiveRecording), errors.Is(err, audio.ErrNoAudioAvailable):
		return newError(ErrorNoActiveResource, reason+"_no_active_resource", err)
	case errors.Is(err, audio.ErrClosed):
		return newError(ErrorSessionClosed, reason+"_session_closed", err)
	case errors.Is(err, audio.ErrAlreadyRecording):
		return newError(ErrorBusy, reason+"_already_recording", err)

	case errors.Is(err, repository.ErrNotFound):
		return newError(ErrorNotFound, reason+"_not_found", err)
	case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrAlreadyExists):
		return newError(ErrorBusy, reason+"_conflict", err)

	case errors.Is(err, openai.ErrUnexpectedResponse), errors.Is(err, speech.ErrEmptyTranscript):
		return newError(ErrorUnexpectedResponse, reason+"_unexpected_response", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorTimeout, reason+"_timeout", err)
	}

	if status, ok := upstreamStatusCode(err); ok {
		if status == http.StatusTooManyRequests {
			return newError(ErrorRateLimited, reason+"_rate_limited", err)
		}
		return newError(ErrorUpstream, fmt.Sprintf("%s_http_%d", reason, status), err)
	}
	return newError(ErrorUpstream, reason+"_error", err)
}
