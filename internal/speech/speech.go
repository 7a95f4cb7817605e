// Package speech turns recorded questions into text and answers into audio.
package speech

import (
	"context"
	"errors"

	"sightline/internal/domain"
	"sightline/internal/integrations/openai"
)

var (
	ErrModelNotReady     = errors.New("speech: on-device model not ready")
	ErrEngineUnavailable = errors.New("speech: transcription engine unavailable")
	ErrEmptyTranscript   = errors.New("speech: empty transcription")
)

const (
	DefaultTranscribeModel = "whisper-1"
	DefaultLanguage        = "en"
	DefaultSpeechModel     = "tts-1"
	DefaultVoice           = "alloy"
	DefaultFormat          = "mp3"
)

// Transcriber converts a recorded utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, ref domain.AudioRef) (string, error)
	Name() string
}

// Synthesizer renders text as a playable local audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (domain.AudioRef, error)
}

type transcribeClient interface {
	Transcribe(ctx context.Context, in openai.TranscriptionRequest) (string, error)
}

type speechClient interface {
	Speech(ctx context.Context, in openai.SpeechRequest) ([]byte, error)
}
