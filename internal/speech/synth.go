package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"sightline/internal/domain"
	"sightline/internal/integrations/openai"
)

// Voice renders text to encoded audio bytes.
type Voice struct {
	client speechClient
	model  string
	voice  string
	format string
}

func NewVoice(client speechClient, model, voice string) (*Voice, error) {
	if client == nil {
		return nil, errors.New("speech: speech client must not be nil")
	}
	if model == "" {
		model = DefaultSpeechModel
	}
	if voice == "" {
		voice = DefaultVoice
	}
	return &Voice{client: client, model: model, voice: voice, format: DefaultFormat}, nil
}

func (v *Voice) Format() string { return v.format }

func (v *Voice) Speak(ctx context.Context, text string) ([]byte, error) {
	return v.client.Speech(ctx, openai.SpeechRequest{
		Model:          v.model,
		Voice:          v.voice,
		Input:          text,
		ResponseFormat: v.format,
	})
}

// FileSynthesizer writes each synthesized answer to its own file in dir.
type FileSynthesizer struct {
	voice *Voice
	dir   string
}

func NewFileSynthesizer(voice *Voice, dir string) (*FileSynthesizer, error) {
	if voice == nil {
		return nil, errors.New("speech: voice must not be nil")
	}
	if dir == "" {
		return nil, errors.New("speech: output directory must not be empty")
	}
	return &FileSynthesizer{voice: voice, dir: dir}, nil
}

func (s *FileSynthesizer) Synthesize(ctx context.Context, text string) (domain.AudioRef, error) {
	audio, err := s.voice.Speak(ctx, text)
	if err != nil {
		return domain.AudioRef{}, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return domain.AudioRef{}, fmt.Errorf("speech: create audio dir: %w", err)
	}
	path := filepath.Join(s.dir, uuid.NewString()+"."+s.voice.Format())
	if err := os.WriteFile(path, audio, 0o600); err != nil {
		return domain.AudioRef{}, fmt.Errorf("speech: write audio: %w", err)
	}
	return domain.AudioRef{Path: path, Format: s.voice.Format()}, nil
}
