package repository

import (
	"context"
	"errors"
	"time"

	"sightline/internal/domain"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrAlreadyExists    = errors.New("session already exists")
	ErrVersionConflict  = errors.New("session version conflict")
	ErrInvalidConfig    = errors.New("invalid store configuration")
	ErrInvalidStoreType = errors.New("invalid store type")

	errMissingIdentifier = errors.New("repository: session id is required")
)

const defaultSessionTTL = 24 * time.Hour

// Store persists photo session state between API invocations.
type Store interface {
	// Create stores a new record with Version set to 1.
	// Returns ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, rec *domain.SessionRecord) error

	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, id string) (*domain.SessionRecord, error)

	// Update writes rec if the stored Version equals rec.Version, then
	// increments rec.Version. Returns ErrVersionConflict or ErrNotFound.
	Update(ctx context.Context, rec *domain.SessionRecord) error

	Delete(ctx context.Context, id string) error

	Close() error
}
