package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"sightline/internal/domain"
	"sightline/internal/speech"
)

const (
	defaultMaxImageBytes  = 5 << 20
	defaultMaxQuestionLen = 500
	defaultMaxTurns       = 40
)

// SessionStore persists conversation state between API invocations.
type SessionStore interface {
	Create(ctx context.Context, rec *domain.SessionRecord) error
	Get(ctx context.Context, id string) (*domain.SessionRecord, error)
	Update(ctx context.Context, rec *domain.SessionRecord) error
	Delete(ctx context.Context, id string) error
}

// ConversationCoordinator is the coordinator surface the API service needs.
type ConversationCoordinator interface {
	Describer
	Remember(img domain.Image, cls domain.Classification)
	ForgetKey(key string)
}

// Speaker renders an answer as encoded audio.
type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

type StartInput struct {
	Image domain.Image
	Speak bool
}

type StartOutput struct {
	SessionID      string
	Classification domain.Classification
	Description    string
	Audio          []byte
}

// AskInput carries a typed Question or a recorded WAV in Audio.
type AskInput struct {
	SessionID string
	Image     domain.Image
	Question  string
	Audio     []byte
	Speak     bool
}

type AskOutput struct {
	SessionID string
	Question  string
	Answer    string
	Turns     int
	Audio     []byte
}

// ConversationService runs photo conversations for stateless API callers.
// The client resends the image with every request; the classification and
// transcript live in the SessionStore.
type ConversationService struct {
	coord       ConversationCoordinator
	store       SessionStore
	transcriber speech.Transcriber
	speaker     Speaker
	retry       retryPolicy
	logger      *slog.Logger

	maxImageBytes  int
	maxQuestionLen int
	maxTurns       int
	tempDir        string
}

type ConversationOption func(*ConversationService)

// WithLimits overrides the image size, question length and turn caps.
// Non-positive values keep the defaults.
func WithLimits(maxImageBytes, maxQuestionLen, maxTurns int) ConversationOption {
	return func(s *ConversationService) {
		if maxImageBytes > 0 {
			s.maxImageBytes = maxImageBytes
		}
		if maxQuestionLen > 0 {
			s.maxQuestionLen = maxQuestionLen
		}
		if maxTurns > 0 {
			s.maxTurns = maxTurns
		}
	}
}

// WithTempDir sets where uploaded recordings are staged for transcription.
func WithTempDir(dir string) ConversationOption {
	return func(s *ConversationService) { s.tempDir = dir }
}

func WithServiceLogger(l *slog.Logger) ConversationOption {
	return func(s *ConversationService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAdapterPolicy sets the per-attempt timeout and attempt cap used for
// transcription and speech calls.
func WithAdapterPolicy(timeout time.Duration, maxAttempts int) ConversationOption {
	return func(s *ConversationService) {
		s.retry = newRetryPolicy(timeout, maxAttempts, s.logger)
	}
}

func NewConversationService(coord ConversationCoordinator, store SessionStore, transcriber speech.Transcriber, speaker Speaker, opts ...ConversationOption) (*ConversationService, error) {
	if coord == nil {
		return nil, errors.New("usecase: coordinator must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	s := &ConversationService{
		coord:          coord,
		store:          store,
		transcriber:    transcriber,
		speaker:        speaker,
		logger:         slog.Default(),
		maxImageBytes:  defaultMaxImageBytes,
		maxQuestionLen: defaultMaxQuestionLen,
		maxTurns:       defaultMaxTurns,
		tempDir:        os.TempDir(),
	}
	s.retry = newRetryPolicy(0, 0, s.logger)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start classifies and describes a new photo and opens a session for it.
func (s *ConversationService) Start(ctx context.Context, in StartInput) (StartOutput, error) {
	if err := s.validateImage(in.Image); err != nil {
		return StartOutput{}, err
	}
	history, err := domain.NewHistory(nil)
	if err != nil {
		return StartOutput{}, newError(ErrorInternal, "history_init", err)
	}

	cls, err := s.coord.Classify(ctx, in.Image)
	if err != nil {
		return StartOutput{}, err
	}
	description, err := s.coord.Describe(ctx, in.Image, history, "")
	if err != nil {
		return StartOutput{}, err
	}

	var audio []byte
	if in.Speak {
		if audio, err = s.speak(ctx, description); err != nil {
			return StartOutput{}, err
		}
	}

	rec := &domain.SessionRecord{
		ID:             newUUID(),
		ImageKey:       in.Image.Key(),
		Classification: cls,
		Turns:          history.Turns(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return StartOutput{}, toError("session_create", err)
	}
	s.logger.InfoContext(ctx, "session started", "session_id", rec.ID, "classification", cls)

	return StartOutput{
		SessionID:      rec.ID,
		Classification: cls,
		Description:    description,
		Audio:          audio,
	}, nil
}

// Ask answers a follow-up question in an existing session.
func (s *ConversationService) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	if err := s.validateImage(in.Image); err != nil {
		return AskOutput{}, err
	}
	question := strings.TrimSpace(in.Question)
	if question == "" && len(in.Audio) == 0 {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if err := s.validateQuestion(question); err != nil {
		return AskOutput{}, err
	}

	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return AskOutput{}, toError("session_load", err)
	}
	if rec.ImageKey != "" && rec.ImageKey != in.Image.Key() {
		return AskOutput{}, newError(ErrorInvalidInput, "image_mismatch", nil)
	}
	if len(rec.Turns)+2 > s.maxTurns {
		return AskOutput{}, newError(ErrorConversationLimit, "conversation_turn_limit", nil)
	}

	history, err := domain.NewHistory(rec.Turns)
	if err != nil {
		return AskOutput{}, newError(ErrorInternal, "corrupt_history", err)
	}
	s.coord.Remember(in.Image, rec.Classification)

	if question == "" {
		if question, err = s.transcribe(ctx, in.Audio); err != nil {
			return AskOutput{}, err
		}
		if err := s.validateQuestion(question); err != nil {
			return AskOutput{}, err
		}
	}

	answer, err := s.coord.RespondToFollowUp(ctx, in.Image, history, question)
	if err != nil {
		return AskOutput{}, err
	}

	var audio []byte
	if in.Speak {
		if audio, err = s.speak(ctx, answer); err != nil {
			return AskOutput{}, err
		}
	}

	rec.Turns = history.Turns()
	if err := s.store.Update(ctx, rec); err != nil {
		return AskOutput{}, toError("session_save", err)
	}

	return AskOutput{
		SessionID: rec.ID,
		Question:  question,
		Answer:    answer,
		Turns:     len(rec.Turns),
		Audio:     audio,
	}, nil
}

// End deletes the session and drops its cached classification.
func (s *ConversationService) End(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return toError("session_load", err)
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return toError("session_delete", err)
	}
	if rec.ImageKey != "" {
		s.coord.ForgetKey(rec.ImageKey)
	}
	s.logger.InfoContext(ctx, "session ended", "session_id", sessionID, "turns", len(rec.Turns))
	return nil
}

func (s *ConversationService) validateImage(img domain.Image) error {
	if len(img.Data) == 0 {
		return newError(ErrorInvalidInput, "empty_image", domain.ErrEmptyImage)
	}
	if len(img.Data) > s.maxImageBytes {
		return newError(ErrorInvalidInput, "image_too_large", nil)
	}
	return nil
}

func (s *ConversationService) validateQuestion(q string) error {
	if utf8.RuneCountInString(q) > s.maxQuestionLen {
		return newError(ErrorInvalidInput, "question_too_long", nil)
	}
	return nil
}

func (s *ConversationService) transcribe(ctx context.Context, wav []byte) (string, error) {
	if s.transcriber == nil {
		return "", newError(ErrorAdapterUnavailable, "transcriber_not_configured", nil)
	}
	f, err := os.CreateTemp(s.tempDir, "question-*.wav")
	if err != nil {
		return "", newError(ErrorInternal, "stage_audio", err)
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()

	_, werr := f.Write(wav)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return "", newError(ErrorInternal, "stage_audio", fmt.Errorf("write %s: %w", path, err))
	}

	ref := domain.AudioRef{Path: path, Format: "wav"}
	return callWithRetry(ctx, s.retry, "transcribe", func(ctx context.Context) (string, error) {
		return s.transcriber.Transcribe(ctx, ref)
	})
}

func (s *ConversationService) speak(ctx context.Context, text string) ([]byte, error) {
	if s.speaker == nil {
		return nil, newError(ErrorAdapterUnavailable, "speaker_not_configured", nil)
	}
	return callWithRetry(ctx, s.retry, "synthesize", func(ctx context.Context) ([]byte, error) {
		return s.speaker.Speak(ctx, text)
	})
}

func defaultUUID() string {
	return uuid.NewString()
}

var newUUID = defaultUUID
