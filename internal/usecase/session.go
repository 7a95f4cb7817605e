package usecase

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"sightline/internal/audio"
	"sightline/internal/domain"
	"sightline/internal/speech"
)

// State is the published lifecycle state of a photo session.
type State string

const (
	StateIdle             State = "idle"
	StateClassifying      State = "classifying"
	StateClassified       State = "classified"
	StateDescribing       State = "describing"
	StateDescribed        State = "described"
	StateAwaitingFollowUp State = "awaiting_follow_up"
	StateClosed           State = "closed"
)

// Observer receives session updates. Calls are serialized and never happen
// after Close returns.
type Observer interface {
	OnState(State)
	OnBusy(bool)
	OnError(error)
}

type nopObserver struct{}

func (nopObserver) OnState(State) {}
func (nopObserver) OnBusy(bool)   {}
func (nopObserver) OnError(error) {}

// Describer is the conversation side of a photo session.
type Describer interface {
	Classify(ctx context.Context, img domain.Image) (domain.Classification, error)
	Describe(ctx context.Context, img domain.Image, history *domain.History, question string) (string, error)
	RespondToFollowUp(ctx context.Context, img domain.Image, history *domain.History, question string) (string, error)
	Forget(img domain.Image)
}

// AudioSession is the recording and playback side of a photo session.
type AudioSession interface {
	StartRecording(ctx context.Context) (audio.RecordingHandle, error)
	StopRecording(ctx context.Context) (domain.AudioRef, error)
	PlayAudio(ctx context.Context, ref domain.AudioRef) error
	StopAudio() error
	ReplayLast(ctx context.Context) error
	Teardown(ctx context.Context)
}

type PhotoSessionConfig struct {
	Image       domain.Image
	Describer   Describer
	Audio       AudioSession
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	// AudioDir holds this session's synthesized answers and is removed on Close.
	AudioDir       string
	Observer       Observer
	Logger         *slog.Logger
	AdapterTimeout time.Duration
	MaxAttempts    int
}

// PhotoSession owns one captured photo: its history, its audio and its
// synthesized answers. At most one describe and one transcribe run at a time;
// extra requests are rejected with BUSY.
type PhotoSession struct {
	image       domain.Image
	describer   Describer
	audio       AudioSession
	transcriber speech.Transcriber
	synth       speech.Synthesizer
	audioDir    string
	observer    Observer
	logger      *slog.Logger
	retry       retryPolicy
	history     *domain.History

	// notifyMu serializes observer calls against Close.
	notifyMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	state        State
	classified   bool
	describing   bool
	transcribing bool
	lastErr      string
}

func NewPhotoSession(cfg PhotoSessionConfig) (*PhotoSession, error) {
	if len(cfg.Image.Data) == 0 {
		return nil, domain.ErrEmptyImage
	}
	if cfg.Describer == nil {
		return nil, errors.New("usecase: describer must not be nil")
	}
	if cfg.Audio == nil {
		return nil, errors.New("usecase: audio session must not be nil")
	}
	if cfg.Transcriber == nil || cfg.Synthesizer == nil {
		return nil, errors.New("usecase: transcriber and synthesizer must not be nil")
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	history, err := domain.NewHistory(nil)
	if err != nil {
		return nil, err
	}
	return &PhotoSession{
		image:       cfg.Image,
		describer:   cfg.Describer,
		audio:       cfg.Audio,
		transcriber: cfg.Transcriber,
		synth:       cfg.Synthesizer,
		audioDir:    cfg.AudioDir,
		observer:    cfg.Observer,
		logger:      cfg.Logger,
		retry:       newRetryPolicy(cfg.AdapterTimeout, cfg.MaxAttempts, cfg.Logger),
		history:     history,
		state:       StateIdle,
	}, nil
}

func (s *PhotoSession) History() *domain.History { return s.history }

func (s *PhotoSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError is the message of the most recent failure, or "".
func (s *PhotoSession) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *PhotoSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *PhotoSession) isClassified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classified
}

func (s *PhotoSession) notify(fn func(Observer)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.isClosed() {
		return
	}
	fn(s.observer)
}

func (s *PhotoSession) setState(st State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.notify(func(o Observer) { o.OnState(st) })
}

// settle returns to the last stable state after a failed step.
func (s *PhotoSession) settle() {
	if s.history.Len() == 0 {
		s.setState(StateIdle)
		return
	}
	s.setState(StateDescribed)
}

// fail maps err, records it and reports it. Failures after Close are
// returned to the caller only.
func (s *PhotoSession) fail(op string, err error) error {
	mapped := toError(op, err)
	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.lastErr = mapped.Error()
	}
	s.mu.Unlock()
	if closed {
		return mapped
	}
	s.logger.Warn("photo session step failed", "op", op, "code", mapped.Code, "err", err)
	s.notify(func(o Observer) { o.OnError(mapped) })
	return mapped
}

func (s *PhotoSession) beginDescribe() error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return newError(ErrorSessionClosed, "session_closed", domain.ErrHistoryClosed)
	case s.describing:
		s.mu.Unlock()
		return s.fail("describe", newError(ErrorBusy, "describe_pending", nil))
	}
	s.describing = true
	s.lastErr = ""
	s.mu.Unlock()
	s.notify(func(o Observer) { o.OnBusy(true) })
	return nil
}

func (s *PhotoSession) endDescribe() {
	s.mu.Lock()
	s.describing = false
	s.mu.Unlock()
	s.notify(func(o Observer) { o.OnBusy(false) })
}

func (s *PhotoSession) beginTranscribe() error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return newError(ErrorSessionClosed, "session_closed", domain.ErrHistoryClosed)
	case s.transcribing:
		s.mu.Unlock()
		return s.fail("transcribe", newError(ErrorBusy, "transcribe_pending", nil))
	}
	s.transcribing = true
	s.mu.Unlock()
	return nil
}

func (s *PhotoSession) endTranscribe() {
	s.mu.Lock()
	s.transcribing = false
	s.mu.Unlock()
}

// Describe classifies the photo, describes it and plays the answer. The
// answer is returned even when playback fails.
func (s *PhotoSession) Describe(ctx context.Context) (string, error) {
	if err := s.beginDescribe(); err != nil {
		return "", err
	}
	defer s.endDescribe()

	if !s.isClassified() {
		s.setState(StateClassifying)
		if _, err := s.describer.Classify(ctx, s.image); err != nil {
			s.settle()
			return "", s.fail("classify", err)
		}
		s.mu.Lock()
		s.classified = true
		s.mu.Unlock()
		s.setState(StateClassified)
	}

	s.setState(StateDescribing)
	answer, err := s.describer.Describe(ctx, s.image, s.history, "")
	if err != nil {
		s.settle()
		return "", s.fail("describe", err)
	}
	s.setState(StateDescribed)
	return answer, s.speak(ctx, answer)
}

// StartTalkBack stops playback and starts recording a spoken question.
func (s *PhotoSession) StartTalkBack(ctx context.Context) error {
	s.mu.Lock()
	closed, busy := s.closed, s.describing
	s.mu.Unlock()
	if closed {
		return newError(ErrorSessionClosed, "session_closed", domain.ErrHistoryClosed)
	}
	if busy {
		return s.fail("record", newError(ErrorBusy, "describe_pending", nil))
	}

	if err := s.audio.StopAudio(); err != nil {
		s.logger.Warn("stop playback before recording", "err", err)
	}
	if _, err := s.audio.StartRecording(ctx); err != nil {
		return s.fail("record", err)
	}
	s.setState(StateAwaitingFollowUp)
	return nil
}

// FinishTalkBack stops recording, transcribes the question and answers it.
func (s *PhotoSession) FinishTalkBack(ctx context.Context) (string, error) {
	ref, err := s.audio.StopRecording(ctx)
	if err != nil {
		s.settle()
		return "", s.fail("record", err)
	}
	defer func() {
		if rmErr := os.Remove(ref.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("remove recording", "path", ref.Path, "err", rmErr)
		}
	}()

	if err := s.beginTranscribe(); err != nil {
		return "", err
	}
	question, err := callWithRetry(ctx, s.retry, "transcribe", func(ctx context.Context) (string, error) {
		return s.transcriber.Transcribe(ctx, ref)
	})
	s.endTranscribe()
	if err != nil {
		s.settle()
		return "", s.fail("transcribe", err)
	}
	s.logger.Info("follow-up transcribed", "transcriber", s.transcriber.Name(), "chars", len(question))
	return s.respond(ctx, question)
}

// Ask answers a typed follow-up question.
func (s *PhotoSession) Ask(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", s.fail("ask", newError(ErrorInvalidInput, "empty_question", nil))
	}
	return s.respond(ctx, question)
}

func (s *PhotoSession) respond(ctx context.Context, question string) (string, error) {
	if err := s.beginDescribe(); err != nil {
		return "", err
	}
	defer s.endDescribe()

	s.setState(StateDescribing)
	answer, err := s.describer.RespondToFollowUp(ctx, s.image, s.history, question)
	if err != nil {
		s.settle()
		return "", s.fail("follow_up", err)
	}
	s.setState(StateDescribed)
	return answer, s.speak(ctx, answer)
}

func (s *PhotoSession) speak(ctx context.Context, text string) error {
	if s.isClosed() {
		return nil
	}
	ref, err := callWithRetry(ctx, s.retry, "synthesize", func(ctx context.Context) (domain.AudioRef, error) {
		return s.synth.Synthesize(ctx, text)
	})
	if err != nil {
		return s.fail("synthesize", err)
	}
	if s.isClosed() {
		return nil
	}
	// Close may still land here; the torn-down audio manager then refuses to play.
	if err := s.audio.PlayAudio(ctx, ref); err != nil {
		return s.fail("play", err)
	}
	return nil
}

// Replay plays the last answer again.
func (s *PhotoSession) Replay(ctx context.Context) error {
	if s.isClosed() {
		return newError(ErrorSessionClosed, "session_closed", domain.ErrHistoryClosed)
	}
	if err := s.audio.ReplayLast(ctx); err != nil {
		return s.fail("replay", err)
	}
	return nil
}

func (s *PhotoSession) StopAudio() error {
	if err := s.audio.StopAudio(); err != nil {
		return s.fail("stop_audio", err)
	}
	return nil
}

// Close ends the session. In-flight calls finish but their results are
// dropped. Release errors are logged.
func (s *PhotoSession) Close(ctx context.Context) {
	s.notifyMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosed
	s.mu.Unlock()
	s.observer.OnState(StateClosed)
	s.notifyMu.Unlock()

	s.history.Close()
	s.audio.Teardown(ctx)
	s.describer.Forget(s.image)
	if s.audioDir != "" {
		if err := os.RemoveAll(s.audioDir); err != nil {
			s.logger.WarnContext(ctx, "remove session audio", "dir", s.audioDir, "err", err)
		}
	}
	s.logger.InfoContext(ctx, "photo session closed", "turns", s.history.Len())
}
