package speech

import (
	"context"
	"errors"
	"strings"

	"sightline/internal/domain"
	"sightline/internal/integrations/openai"
)

// CloudTranscriber sends recordings to the hosted transcription endpoint.
type CloudTranscriber struct {
	client   transcribeClient
	model    string
	language string
}

func NewCloudTranscriber(client transcribeClient, model, language string) (*CloudTranscriber, error) {
	if client == nil {
		return nil, errors.New("speech: transcription client must not be nil")
	}
	if model == "" {
		model = DefaultTranscribeModel
	}
	if language == "" {
		language = DefaultLanguage
	}
	return &CloudTranscriber{client: client, model: model, language: language}, nil
}

func (t *CloudTranscriber) Name() string { return "cloud:" + t.model }

func (t *CloudTranscriber) Transcribe(ctx context.Context, ref domain.AudioRef) (string, error) {
	if ref.IsZero() {
		return "", errors.New("speech: audio reference is empty")
	}
	text, err := t.client.Transcribe(ctx, openai.TranscriptionRequest{
		Model:    t.model,
		FilePath: ref.Path,
		Language: t.language,
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}
