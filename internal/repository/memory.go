package repository

import (
	"context"
	"sync"
	"time"

	"sightline/internal/domain"
)

// MemoryStore implements Store with an in-process map. Used by the local
// narrator and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.SessionRecord
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.SessionRecord),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return errMissingIdentifier
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[rec.ID]; exists {
		return ErrAlreadyExists
	}
	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1
	s.sessions[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return errMissingIdentifier
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.sessions[rec.ID]
	if !exists {
		return ErrNotFound
	}
	if stored.Version != rec.Version {
		return ErrVersionConflict
	}
	rec.Version++
	rec.UpdatedAt = s.now()
	s.sessions[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*domain.SessionRecord)
	return nil
}
