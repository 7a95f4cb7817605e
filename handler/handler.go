// Package handler serves the photo conversation API behind API Gateway.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"sightline/internal/domain"
	"sightline/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ConversationUseCase interface {
	Start(ctx context.Context, in usecase.StartInput) (usecase.StartOutput, error)
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	End(ctx context.Context, sessionID string) error
}

type Handler struct {
	uc     ConversationUseCase
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(uc ConversationUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type startRequest struct {
	Image    string `json:"image"`
	MIMEType string `json:"mimeType"`
	Speak    bool   `json:"speak"`
}

type startResponse struct {
	SessionID      string `json:"sessionId"`
	Classification string `json:"classification"`
	Description    string `json:"description"`
	Audio          string `json:"audio,omitempty"`
}

type askRequest struct {
	Image    string `json:"image"`
	MIMEType string `json:"mimeType"`
	Question string `json:"question"`
	Audio    string `json:"audio"`
	Speak    bool   `json:"speak"`
}

type askResponse struct {
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Turns     int    `json:"turns"`
	Audio     string `json:"audio,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle routes one API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	started := time.Now()
	corrID := correlationID(event.Headers)
	logger := h.logger.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)

	resp := h.route(ctx, event)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = corrID

	logger.InfoContext(ctx, "request handled", "status", resp.StatusCode, "duration_ms", time.Since(started).Milliseconds())
	return resp, nil
}

func (h *Handler) route(ctx context.Context, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	segments := strings.Split(strings.Trim(event.Path, "/"), "/")
	sessionID := strings.TrimSpace(event.PathParameters["id"])
	if sessionID == "" && len(segments) >= 2 {
		sessionID = segments[1]
	}

	switch {
	case len(segments) == 1 && segments[0] == "sessions":
		if event.HTTPMethod != http.MethodPost {
			return methodNotAllowed()
		}
		return h.start(ctx, event)
	case len(segments) == 3 && segments[0] == "sessions" && segments[2] == "questions":
		if event.HTTPMethod != http.MethodPost {
			return methodNotAllowed()
		}
		return h.ask(ctx, event, sessionID)
	case len(segments) == 2 && segments[0] == "sessions":
		if event.HTTPMethod != http.MethodDelete {
			return methodNotAllowed()
		}
		return h.end(ctx, sessionID)
	default:
		return jsonResponse(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "route_not_found"})
	}
}

func (h *Handler) start(ctx context.Context, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var req startRequest
	if resp, ok := decodeBody(event, &req); !ok {
		return resp
	}
	img, resp, ok := decodeImage(req.Image, req.MIMEType)
	if !ok {
		return resp
	}

	out, err := h.uc.Start(ctx, usecase.StartInput{Image: img, Speak: req.Speak})
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return jsonResponse(http.StatusCreated, startResponse{
		SessionID:      out.SessionID,
		Classification: out.Classification.String(),
		Description:    out.Description,
		Audio:          encodeAudio(out.Audio),
	})
}

func (h *Handler) ask(ctx context.Context, event events.APIGatewayProxyRequest, sessionID string) events.APIGatewayProxyResponse {
	var req askRequest
	if resp, ok := decodeBody(event, &req); !ok {
		return resp
	}
	img, resp, ok := decodeImage(req.Image, req.MIMEType)
	if !ok {
		return resp
	}
	var recording []byte
	if req.Audio != "" {
		var err error
		if recording, err = base64.StdEncoding.DecodeString(req.Audio); err != nil {
			return badRequest("invalid_audio_encoding")
		}
	}

	out, err := h.uc.Ask(ctx, usecase.AskInput{
		SessionID: sessionID,
		Image:     img,
		Question:  req.Question,
		Audio:     recording,
		Speak:     req.Speak,
	})
	if err != nil {
		return h.errorResponse(ctx, err)
	}
	return jsonResponse(http.StatusOK, askResponse{
		SessionID: out.SessionID,
		Question:  out.Question,
		Answer:    out.Answer,
		Turns:     out.Turns,
		Audio:     encodeAudio(out.Audio),
	})
}

func (h *Handler) end(ctx context.Context, sessionID string) events.APIGatewayProxyResponse {
	if err := h.uc.End(ctx, sessionID); err != nil {
		return h.errorResponse(ctx, err)
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
}

func (h *Handler) errorResponse(ctx context.Context, err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		h.logger.ErrorContext(ctx, "unhandled error", "err", err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	} else {
		h.logger.WarnContext(ctx, "request rejected", "code", ue.Code, "reason", ue.Reason)
	}
	return jsonResponse(status, errorResponse{Error: string(ue.Code), Reason: ue.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorClassification, usecase.ErrorConversationLimit:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorBusy:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream, usecase.ErrorUnexpectedResponse:
		return http.StatusBadGateway
	case usecase.ErrorAdapterUnavailable:
		return http.StatusServiceUnavailable
	case usecase.ErrorTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(event events.APIGatewayProxyRequest, v any) (events.APIGatewayProxyResponse, bool) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return badRequest("invalid_body_encoding"), false
		}
		body = decoded
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest("invalid_json"), false
	}
	return events.APIGatewayProxyResponse{}, true
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(encoded, mimeType string) (domain.Image, events.APIGatewayProxyResponse, bool) {
	encoded = strings.TrimSpace(encoded)
	if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return domain.Image{}, badRequest("invalid_image_encoding"), false
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(meta, ";base64")
		}
		encoded = payload
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return domain.Image{}, badRequest("invalid_image_encoding"), false
	}
	img, err := domain.NewImage(data, mimeType)
	if err != nil {
		return domain.Image{}, badRequest("empty_image"), false
	}
	return img, events.APIGatewayProxyResponse{}, true
}

func encodeAudio(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func badRequest(reason string) events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: reason})
}

func methodNotAllowed() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "method_not_allowed"})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}
