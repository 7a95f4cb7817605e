package domain

import (
	"fmt"
	"strings"
)

// Classification is the one-shot category of a photo. It decides which
// description prompt is used for the whole photo session.
type Classification string

const (
	ClassificationObject Classification = "object"
	ClassificationScene  Classification = "scene"
)

// ParseClassification accepts exactly "object" or "scene", ignoring case and
// surrounding whitespace. Anything else is an error, never a default.
func ParseClassification(raw string) (Classification, error) {
	switch c := Classification(strings.ToLower(strings.TrimSpace(raw))); c {
	case ClassificationObject, ClassificationScene:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownClassification, raw)
	}
}

func (c Classification) Valid() bool {
	return c == ClassificationObject || c == ClassificationScene
}

func (c Classification) String() string { return string(c) }
