package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"sightline/internal/domain"
)

func sampleRecord(id string) *domain.SessionRecord {
	return &domain.SessionRecord{
		ID:             id,
		ImageKey:       "img-" + id,
		Classification: domain.ClassificationScene,
		Turns:          []domain.Turn{{Role: domain.RoleAssistant, Text: "You're in a hallway."}},
	}
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := sampleRecord("s1")
	require.NoError(t, s.Create(ctx, rec))
	require.Equal(t, int64(1), rec.Version)
	require.ErrorIs(t, s.Create(ctx, sampleRecord("s1")), ErrAlreadyExists)

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.ClassificationScene, got.Classification)

	got.Turns = append(got.Turns,
		domain.Turn{Role: domain.RoleUser, Text: "what's on my left?"},
		domain.Turn{Role: domain.RoleAssistant, Text: "A water fountain."},
	)
	require.NoError(t, s.Update(ctx, got))
	require.Equal(t, int64(2), got.Version)

	// The stale copy from before the update must lose.
	rec.Turns = append(rec.Turns, domain.Turn{Role: domain.RoleUser, Text: "late"})
	require.ErrorIs(t, s.Update(ctx, rec), ErrVersionConflict)

	again, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, again.Turns, 3)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Get(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Update(ctx, again), ErrNotFound)
}

func TestMemoryStore_DoesNotAliasTurns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := sampleRecord("s1")
	require.NoError(t, s.Create(ctx, rec))
	rec.Turns[0].Text = "mutated"

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "You're in a hallway.", got.Turns[0].Text)
}

func TestMemoryStore_RequiresID(t *testing.T) {
	s := NewMemoryStore()
	require.Error(t, s.Create(context.Background(), &domain.SessionRecord{}))
	require.Error(t, s.Update(context.Background(), nil))
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)

	_, err = NewStore(StoreTypeRedis)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewStore(StoreTypeDynamoDB)
	require.Error(t, err)

	ds, err := NewStore(StoreTypeDynamoDB, WithDynamoDB(&fakeDynamo{}, "sessions"))
	require.NoError(t, err)
	require.IsType(t, &DynamoStore{}, ds)

	_, err = NewStore("sqlite")
	require.ErrorIs(t, err, ErrInvalidStoreType)
}
