package speech

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"sightline/internal/domain"
)

const DefaultWhisperBin = "whisper-cli"

type modelSource interface {
	Ready() bool
	Path() string
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// LocalTranscriber runs whisper.cpp against the on-device model.
type LocalTranscriber struct {
	bin      string
	model    modelSource
	language string
	run      runFunc
}

func NewLocalTranscriber(bin string, model modelSource, language string) (*LocalTranscriber, error) {
	if model == nil {
		return nil, errors.New("speech: model source must not be nil")
	}
	if bin == "" {
		bin = DefaultWhisperBin
	}
	if language == "" {
		language = DefaultLanguage
	}
	return &LocalTranscriber{
		bin:      bin,
		model:    model,
		language: language,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}, nil
}

func (t *LocalTranscriber) Name() string { return "local:" + t.bin }

func (t *LocalTranscriber) Transcribe(ctx context.Context, ref domain.AudioRef) (string, error) {
	if !t.model.Ready() {
		return "", ErrModelNotReady
	}
	if ref.IsZero() {
		return "", errors.New("speech: audio reference is empty")
	}

	// -nt drops timestamps, -np drops progress output; translation stays off.
	out, err := t.run(ctx, t.bin, "-m", t.model.Path(), "-f", ref.Path, "-l", t.language, "-nt", "-np")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("speech: whisper failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("speech: whisper failed: %w", err)
	}

	text := strings.Join(strings.Fields(string(out)), " ")
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}
