package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sightline/internal/domain"
)

type fakeRecording struct {
	path       string
	stopErr    error
	discardErr error
	stopped    bool
	discarded  bool
}

func (r *fakeRecording) Path() string { return r.path }

func (r *fakeRecording) Stop(context.Context) error {
	r.stopped = true
	return r.stopErr
}

func (r *fakeRecording) Discard() error {
	r.discarded = true
	return r.discardErr
}

type fakeRecorder struct {
	startErr error
	stopErr  error
	started  []*fakeRecording
}

func (f *fakeRecorder) Start(_ context.Context, path string) (Recording, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	r := &fakeRecording{path: path, stopErr: f.stopErr}
	f.started = append(f.started, r)
	return r, nil
}

type fakeSound struct {
	ref     domain.AudioRef
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	stops   int
	stopErr error
}

func newFakeSound(ref domain.AudioRef) *fakeSound {
	return &fakeSound{ref: ref, done: make(chan struct{})}
}

func (s *fakeSound) Done() <-chan struct{} { return s.done }

func (s *fakeSound) finish() { s.once.Do(func() { close(s.done) }) }

func (s *fakeSound) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	s.finish()
	return s.stopErr
}

func (s *fakeSound) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakePlayer struct {
	mu      sync.Mutex
	playErr error
	sounds  []*fakeSound
}

func (p *fakePlayer) Play(_ context.Context, ref domain.AudioRef) (Sound, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return nil, p.playErr
	}
	s := newFakeSound(ref)
	p.sounds = append(p.sounds, s)
	return s, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeRecorder, *fakePlayer) {
	t.Helper()
	rec := &fakeRecorder{}
	player := &fakePlayer{}
	m, err := NewManager(rec, player, t.TempDir())
	require.NoError(t, err)
	return m, rec, player
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, &fakePlayer{}, "dir")
	require.Error(t, err)
	_, err = NewManager(&fakeRecorder{}, nil, "dir")
	require.Error(t, err)
	_, err = NewManager(&fakeRecorder{}, &fakePlayer{}, "")
	require.Error(t, err)
}

func TestRecording_Lifecycle(t *testing.T) {
	m, rec, _ := newTestManager(t)
	ctx := context.Background()

	h, err := m.StartRecording(ctx)
	require.NoError(t, err)
	require.Contains(t, h.Path, "recording-")
	require.True(t, m.Recording())

	_, err = m.StartRecording(ctx)
	require.ErrorIs(t, err, ErrAlreadyRecording)
	require.Len(t, rec.started, 1)

	ref, err := m.StopRecording(ctx)
	require.NoError(t, err)
	require.Equal(t, h.Path, ref.Path)
	require.Equal(t, "wav", ref.Format)
	require.True(t, rec.started[0].stopped)
	require.False(t, m.Recording())
}

func TestStopRecording_NoneActive(t *testing.T) {
	m, rec, player := newTestManager(t)
	require.NoError(t, m.PlayAudio(context.Background(), domain.AudioRef{Path: "a.mp3"}))

	_, err := m.StopRecording(context.Background())
	require.ErrorIs(t, err, ErrNoActiveRecording)
	require.False(t, m.Recording())
	require.Empty(t, rec.started)
	require.True(t, m.Playing())
	require.Zero(t, player.sounds[0].stopCount())
}

func TestStopRecording_ClearsStateOnBackendFailure(t *testing.T) {
	m, rec, _ := newTestManager(t)
	rec.stopErr = errors.New("device lost")

	_, err := m.StartRecording(context.Background())
	require.NoError(t, err)
	_, err = m.StopRecording(context.Background())
	require.ErrorContains(t, err, "device lost")
	require.False(t, m.Recording())

	_, err = m.StartRecording(context.Background())
	require.NoError(t, err)
}

func TestStartRecording_PermissionDenied(t *testing.T) {
	m, rec, _ := newTestManager(t)
	rec.startErr = ErrPermissionDenied
	_, err := m.StartRecording(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.False(t, m.Recording())
}

func TestPlayAudio_KeepsOneActiveSound(t *testing.T) {
	m, _, player := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PlayAudio(ctx, domain.AudioRef{Path: "first.mp3"}))
	require.NoError(t, m.PlayAudio(ctx, domain.AudioRef{Path: "second.mp3"}))

	require.Len(t, player.sounds, 2)
	require.Equal(t, 1, player.sounds[0].stopCount(), "previous sound must be stopped and unloaded")
	require.Zero(t, player.sounds[1].stopCount())
	require.True(t, m.Playing())

	last, ok := m.LastAudio()
	require.True(t, ok)
	require.Equal(t, "second.mp3", last.Path)
}

func TestPlayAudio_ReleasesSoundWhenFinished(t *testing.T) {
	m, _, player := newTestManager(t)
	require.NoError(t, m.PlayAudio(context.Background(), domain.AudioRef{Path: "a.mp3"}))

	player.sounds[0].finish()
	require.Eventually(t, func() bool { return !m.Playing() }, time.Second, 5*time.Millisecond)
}

func TestPlayAudio_EmptyRef(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.Error(t, m.PlayAudio(context.Background(), domain.AudioRef{}))
}

func TestReplayLast(t *testing.T) {
	m, _, player := newTestManager(t)
	ctx := context.Background()

	require.ErrorIs(t, m.ReplayLast(ctx), ErrNoAudioAvailable)

	require.NoError(t, m.PlayAudio(ctx, domain.AudioRef{Path: "answer.mp3"}))
	require.NoError(t, m.StopAudio())
	require.False(t, m.Playing())

	require.NoError(t, m.ReplayLast(ctx))
	require.Len(t, player.sounds, 2)
	require.Equal(t, "answer.mp3", player.sounds[1].ref.Path)
}

func TestTeardown_SwallowsErrors(t *testing.T) {
	m, rec, player := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.PlayAudio(ctx, domain.AudioRef{Path: "a.mp3"}))
	player.sounds[0].stopErr = errors.New("unload failed")
	_, err := m.StartRecording(ctx)
	require.NoError(t, err)
	rec.started[0].discardErr = errors.New("remove failed")

	m.Teardown(ctx)

	require.False(t, m.Playing())
	require.False(t, m.Recording())
	require.True(t, rec.started[0].discarded)
	require.Equal(t, 1, player.sounds[0].stopCount())
}

func TestTeardown_RefusesLaterPlaybackAndRecording(t *testing.T) {
	m, rec, player := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.PlayAudio(ctx, domain.AudioRef{Path: "a.mp3"}))

	m.Teardown(ctx)

	require.ErrorIs(t, m.PlayAudio(ctx, domain.AudioRef{Path: "b.mp3"}), ErrClosed)
	require.ErrorIs(t, m.ReplayLast(ctx), ErrClosed)
	_, err := m.StartRecording(ctx)
	require.ErrorIs(t, err, ErrClosed)

	require.False(t, m.Playing())
	require.Len(t, player.sounds, 1)
	require.Empty(t, rec.started)
}
