package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"sightline/internal/audio"
	"sightline/internal/domain"
	"sightline/internal/integrations/openai"
	"sightline/internal/repository"
	"sightline/internal/speech"
)

func TestToError_Mapping(t *testing.T) {
	netErr := &url.Error{Op: "Post", URL: "https://api.openai.com", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}

	tests := []struct {
		name      string
		err       error
		code      ErrorCode
		retryable bool
	}{
		{"unknown class", fmt.Errorf("x: %w", domain.ErrUnknownClassification), ErrorClassification, false},
		{"history closed", domain.ErrHistoryClosed, ErrorSessionClosed, false},
		{"turn order", domain.ErrTurnOrder, ErrorBusy, false},
		{"permission", audio.ErrPermissionDenied, ErrorPermissionDenied, false},
		{"backend missing", audio.ErrBackendUnavailable, ErrorAdapterUnavailable, false},
		{"model not ready", speech.ErrModelNotReady, ErrorAdapterUnavailable, false},
		{"no recording", audio.ErrNoActiveRecording, ErrorNoActiveResource, false},
		{"nothing to replay", audio.ErrNoAudioAvailable, ErrorNoActiveResource, false},
		{"already recording", audio.ErrAlreadyRecording, ErrorBusy, false},
		{"session missing", repository.ErrNotFound, ErrorNotFound, false},
		{"version conflict", repository.ErrVersionConflict, ErrorBusy, false},
		{"unexpected shape", fmt.Errorf("openai: %w", openai.ErrUnexpectedResponse), ErrorUnexpectedResponse, false},
		{"empty transcript", speech.ErrEmptyTranscript, ErrorUnexpectedResponse, false},
		{"deadline", context.DeadlineExceeded, ErrorTimeout, true},
		{"429", &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}, ErrorRateLimited, true},
		{"503", &openai.HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, ErrorUpstream, true},
		{"401", &openai.HTTPStatusError{StatusCode: http.StatusUnauthorized}, ErrorUpstream, false},
		{"network", netErr, ErrorUpstream, true},
		{"other", errors.New("boom"), ErrorUpstream, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toError("op", tt.err)
			require.Equal(t, tt.code, got.Code)
			require.Equal(t, tt.retryable, got.Retryable())
			require.ErrorIs(t, got, tt.err)
		})
	}
}

func TestToError_PassesThroughCodedErrors(t *testing.T) {
	coded := newError(ErrorBusy, "describe_pending", nil)
	require.Same(t, coded, toError("op", fmt.Errorf("wrapped: %w", coded)))
	require.Nil(t, toError("op", nil))
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, ErrorNotFound, CodeOf(newError(ErrorNotFound, "x", nil)))
	require.Equal(t, ErrorInternal, CodeOf(errors.New("plain")))
}

func TestError_Message(t *testing.T) {
	require.Equal(t, "usecase: BUSY (describe_pending)", newError(ErrorBusy, "describe_pending", nil).Error())
	require.Equal(t, "usecase: UPSTREAM_ERROR (x): boom", newError(ErrorUpstream, "x", errors.New("boom")).Error())
	var nilErr *Error
	require.False(t, nilErr.Retryable())
}
