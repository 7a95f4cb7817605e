package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sightline/internal/audio"
	"sightline/internal/domain"
	"sightline/internal/integrations/openai"
)

type llmReply struct {
	text string
	err  error
}

// fakeLLM answers classification requests (max_tokens 20) from classify and
// description requests from describe, in order. A nil gate channel means no
// blocking; otherwise calls of that kind wait for it to be closed.
type fakeLLM struct {
	mu            sync.Mutex
	classify      []llmReply
	describe      []llmReply
	classifyGate  chan struct{}
	describeGate  chan struct{}
	describeEnter chan struct{}
	requests      []openai.ChatRequest

	classifyCalls atomic.Int32
	describeCalls atomic.Int32
}

func (f *fakeLLM) Chat(ctx context.Context, in openai.ChatRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, in)
	f.mu.Unlock()

	if in.MaxTokens == classifyMaxTokens {
		n := int(f.classifyCalls.Add(1))
		if err := wait(ctx, f.classifyGate); err != nil {
			return "", err
		}
		return pick(f.classify, n)
	}

	n := int(f.describeCalls.Add(1))
	if f.describeEnter != nil {
		select {
		case f.describeEnter <- struct{}{}:
		default:
		}
	}
	if err := wait(ctx, f.describeGate); err != nil {
		return "", err
	}
	return pick(f.describe, n)
}

func (f *fakeLLM) lastRequest() openai.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pick(replies []llmReply, n int) (string, error) {
	if len(replies) == 0 {
		return "", errors.New("no reply configured")
	}
	if n > len(replies) {
		n = len(replies)
	}
	r := replies[n-1]
	return r.text, r.err
}

func replies(texts ...string) []llmReply {
	out := make([]llmReply, len(texts))
	for i, t := range texts {
		out[i] = llmReply{text: t}
	}
	return out
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestCoordinator(t *testing.T, llm *fakeLLM, opts ...CoordinatorOption) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(llm, opts...)
	require.NoError(t, err)
	c.retry.sleep = noSleep
	return c
}

func testImage(t *testing.T, seed string) domain.Image {
	t.Helper()
	img, err := domain.NewImage([]byte("\xff\xd8\xff\xe0"+seed), "image/jpeg")
	require.NoError(t, err)
	return img
}

// fakeAudio implements AudioSession.
type fakeAudio struct {
	mu         sync.Mutex
	recording  bool
	recordErr  error
	recordPath string
	played     []domain.AudioRef
	stops      int
	teardowns  int
	replayErr  error
	closed     bool
	// beforePlay runs at the start of PlayAudio, outside the lock.
	beforePlay func()
}

func (a *fakeAudio) StartRecording(context.Context) (audio.RecordingHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return audio.RecordingHandle{}, audio.ErrClosed
	}
	if a.recordErr != nil {
		return audio.RecordingHandle{}, a.recordErr
	}
	if a.recording {
		return audio.RecordingHandle{}, audio.ErrAlreadyRecording
	}
	a.recording = true
	return audio.RecordingHandle{Path: a.recordPath}, nil
}

func (a *fakeAudio) StopRecording(context.Context) (domain.AudioRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.recording {
		return domain.AudioRef{}, audio.ErrNoActiveRecording
	}
	a.recording = false
	return domain.AudioRef{Path: a.recordPath, Format: "wav"}, nil
}

func (a *fakeAudio) PlayAudio(_ context.Context, ref domain.AudioRef) error {
	if a.beforePlay != nil {
		a.beforePlay()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return audio.ErrClosed
	}
	a.played = append(a.played, ref)
	return nil
}

func (a *fakeAudio) StopAudio() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
	return nil
}

func (a *fakeAudio) ReplayLast(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.replayErr != nil {
		return a.replayErr
	}
	if len(a.played) == 0 {
		return audio.ErrNoAudioAvailable
	}
	a.played = append(a.played, a.played[len(a.played)-1])
	return nil
}

func (a *fakeAudio) Teardown(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teardowns++
	a.closed = true
	a.recording = false
}

func (a *fakeAudio) playCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.played)
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
	paths []string
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(_ context.Context, ref domain.AudioRef) (string, error) {
	f.calls++
	f.paths = append(f.paths, ref.Path)
	return f.text, f.err
}

type fakeSynth struct {
	dir   string
	err   error
	mu    sync.Mutex
	texts []string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) (domain.AudioRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.AudioRef{}, f.err
	}
	f.texts = append(f.texts, text)
	path := filepath.Join(f.dir, "answer.mp3")
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return domain.AudioRef{}, err
	}
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return domain.AudioRef{}, err
	}
	return domain.AudioRef{Path: path, Format: "mp3"}, nil
}

type fakeSpeaker struct {
	audio []byte
	err   error
	calls int
}

func (f *fakeSpeaker) Speak(context.Context, string) ([]byte, error) {
	f.calls++
	return f.audio, f.err
}

type event struct {
	kind  string
	state State
	busy  bool
	err   error
}

type recordingObserver struct {
	mu     sync.Mutex
	events []event
}

func (o *recordingObserver) OnState(s State) { o.add(event{kind: "state", state: s}) }
func (o *recordingObserver) OnBusy(b bool)   { o.add(event{kind: "busy", busy: b}) }
func (o *recordingObserver) OnError(e error) { o.add(event{kind: "error", err: e}) }

func (o *recordingObserver) add(e event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) snapshot() []event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]event(nil), o.events...)
}

func (o *recordingObserver) states() []State {
	var out []State
	for _, e := range o.snapshot() {
		if e.kind == "state" {
			out = append(out, e.state)
		}
	}
	return out
}

func (o *recordingObserver) errors() []error {
	var out []error
	for _, e := range o.snapshot() {
		if e.kind == "error" {
			out = append(out, e.err)
		}
	}
	return out
}
