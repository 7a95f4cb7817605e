package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sightline/internal/domain"
)

const sessionKeyPrefix = "sightline:session:"

// redisRecord is the JSON value stored under a session key.
type redisRecord struct {
	ID             string        `json:"id"`
	ImageKey       string        `json:"image_key"`
	Classification string        `json:"classification"`
	Turns          []domain.Turn `json:"turns"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// RedisStore implements Store with Redis, using WATCH/MULTI/EXEC for
// optimistic locking. TTL is refreshed on every read and write.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Create(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return errMissingIdentifier
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	val, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, sessionKey(rec.ID), val, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("repository: redis create: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.SessionRecord, error) {
	key := sessionKey(id)
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: redis get: %w", err)
	}
	rec, err := decodeRecord([]byte(val))
	if err != nil {
		return nil, err
	}
	// A failed TTL refresh only shortens the session's life.
	_ = s.client.Expire(ctx, key, s.ttl).Err()
	return rec, nil
}

func (s *RedisStore) Update(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return errMissingIdentifier
	}
	key := sessionKey(rec.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		stored, err := decodeRecord([]byte(val))
		if err != nil {
			return err
		}
		if stored.Version != rec.Version {
			return ErrVersionConflict
		}

		next := rec.Clone()
		next.Version++
		next.UpdatedAt = time.Now().UTC()
		newVal, err := encodeRecord(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		rec.Version = next.Version
		rec.UpdatedAt = next.UpdatedAt
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrVersionConflict
	}
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKey(id)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func encodeRecord(rec *domain.SessionRecord) ([]byte, error) {
	val, err := json.Marshal(redisRecord{
		ID:             rec.ID,
		ImageKey:       rec.ImageKey,
		Classification: string(rec.Classification),
		Turns:          rec.Turns,
		Version:        rec.Version,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("repository: encode session: %w", err)
	}
	return val, nil
}

func decodeRecord(val []byte) (*domain.SessionRecord, error) {
	var r redisRecord
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, fmt.Errorf("repository: decode session: %w", err)
	}
	return &domain.SessionRecord{
		ID:             r.ID,
		ImageKey:       r.ImageKey,
		Classification: domain.Classification(r.Classification),
		Turns:          r.Turns,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}
