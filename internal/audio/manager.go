// Package audio owns the microphone recording and the single active sound of
// a photo session.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"sightline/internal/domain"
)

var (
	ErrAlreadyRecording   = errors.New("audio: recording already in progress")
	ErrPermissionDenied   = errors.New("audio: microphone permission denied")
	ErrNoActiveRecording  = errors.New("audio: no active recording")
	ErrNoAudioAvailable   = errors.New("audio: no audio available to replay")
	ErrBackendUnavailable = errors.New("audio: backend unavailable")
	ErrClosed             = errors.New("audio: manager torn down")
)

// Recording is a capture in progress.
type Recording interface {
	// Stop finalizes the file at Path.
	Stop(ctx context.Context) error
	// Discard stops the capture and deletes its file.
	Discard() error
	Path() string
}

// Recorder starts captures that write to path.
type Recorder interface {
	Start(ctx context.Context, path string) (Recording, error)
}

// Sound is a loaded, playing clip.
type Sound interface {
	// Stop halts playback and unloads the clip. Safe to call more than once.
	Stop() error
	// Done is closed when playback ends for any reason.
	Done() <-chan struct{}
}

// Player loads and starts a clip.
type Player interface {
	Play(ctx context.Context, ref domain.AudioRef) (Sound, error)
}

// RecordingHandle identifies the active recording.
type RecordingHandle struct {
	Path      string
	StartedAt time.Time
}

// Manager enforces at most one active recording and one active sound.
type Manager struct {
	recorder Recorder
	player   Player
	dir      string
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	closed    bool
	recording Recording
	sound     Sound
	last      domain.AudioRef
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager that records into dir.
func NewManager(rec Recorder, player Player, dir string, opts ...Option) (*Manager, error) {
	if rec == nil {
		return nil, errors.New("audio: recorder must not be nil")
	}
	if player == nil {
		return nil, errors.New("audio: player must not be nil")
	}
	if dir == "" {
		return nil, errors.New("audio: recording directory must not be empty")
	}
	m := &Manager{
		recorder: rec,
		player:   player,
		dir:      dir,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// StartRecording begins a 16 kHz mono WAV capture.
func (m *Manager) StartRecording(ctx context.Context) (RecordingHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return RecordingHandle{}, ErrClosed
	}
	if m.recording != nil {
		return RecordingHandle{}, ErrAlreadyRecording
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return RecordingHandle{}, fmt.Errorf("audio: create recording dir: %w", err)
	}
	path := filepath.Join(m.dir, "recording-"+uuid.NewString()+".wav")
	rec, err := m.recorder.Start(ctx, path)
	if err != nil {
		return RecordingHandle{}, err
	}
	m.recording = rec
	return RecordingHandle{Path: rec.Path(), StartedAt: m.now()}, nil
}

// StopRecording ends the active capture and hands its file to the caller.
// The recording slot is cleared even when the backend fails to stop.
func (m *Manager) StopRecording(ctx context.Context) (domain.AudioRef, error) {
	m.mu.Lock()
	rec := m.recording
	m.recording = nil
	m.mu.Unlock()

	if rec == nil {
		return domain.AudioRef{}, ErrNoActiveRecording
	}
	if err := rec.Stop(ctx); err != nil {
		return domain.AudioRef{}, fmt.Errorf("audio: stop recording: %w", err)
	}
	return domain.AudioRef{Path: rec.Path(), Format: "wav"}, nil
}

// PlayAudio unloads the current sound, if any, then plays ref.
func (m *Manager) PlayAudio(ctx context.Context, ref domain.AudioRef) error {
	if ref.IsZero() {
		return errors.New("audio: audio reference is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.unloadLocked()
	m.last = ref

	sound, err := m.player.Play(ctx, ref)
	if err != nil {
		return err
	}
	m.sound = sound
	go m.releaseWhenDone(sound)
	return nil
}

func (m *Manager) releaseWhenDone(s Sound) {
	<-s.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sound != s {
		return
	}
	m.sound = nil
	if err := s.Stop(); err != nil {
		m.logger.Warn("unload finished sound failed", "err", err)
	}
}

// StopAudio stops and unloads the current sound.
func (m *Manager) StopAudio() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked()
}

func (m *Manager) unloadLocked() error {
	s := m.sound
	if s == nil {
		return nil
	}
	m.sound = nil
	if err := s.Stop(); err != nil {
		m.logger.Warn("unload sound failed", "err", err)
		return fmt.Errorf("audio: unload sound: %w", err)
	}
	return nil
}

// ReplayLast plays the most recently generated audio again.
func (m *Manager) ReplayLast(ctx context.Context) error {
	m.mu.Lock()
	last := m.last
	m.mu.Unlock()

	if last.IsZero() {
		return ErrNoAudioAvailable
	}
	return m.PlayAudio(ctx, last)
}

// Playing reports whether a sound is loaded.
func (m *Manager) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sound != nil
}

// Recording reports whether a capture is active.
func (m *Manager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording != nil
}

// LastAudio returns the audio ReplayLast would play.
func (m *Manager) LastAudio() (domain.AudioRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, !m.last.IsZero()
}

// Teardown releases the sound and discards any active recording. Afterwards
// PlayAudio and StartRecording fail with ErrClosed. Release errors are
// logged, never returned.
func (m *Manager) Teardown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	soundErr := m.unloadLocked()
	rec := m.recording
	m.recording = nil
	m.mu.Unlock()

	if soundErr != nil {
		m.logger.WarnContext(ctx, "teardown: stop audio", "err", soundErr)
	}
	if rec == nil {
		return
	}
	if err := rec.Discard(); err != nil {
		m.logger.WarnContext(ctx, "teardown: discard recording", "path", rec.Path(), "err", err)
	}
}
