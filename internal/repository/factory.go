package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreType selects a Store driver.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDynamoDB StoreType = "dynamodb"
)

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	dynamoAPI   dynamodbAPI
	tableName   string
	ttl         time.Duration
}

// WithRedisClient sets the client used by the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithDynamoDB sets the API and table used by the dynamodb driver.
// *dynamodb.Client satisfies the api parameter.
func WithDynamoDB(api dynamodbAPI, tableName string) StoreOption {
	return func(c *storeConfig) {
		c.dynamoAPI = api
		c.tableName = strings.TrimSpace(tableName)
	}
}

// WithTTL sets how long an idle session survives.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// NewStore creates a Store for the given driver type.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = defaultSessionTTL
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
		}
		return NewRedisStore(cfg.redisClient, cfg.ttl), nil
	case StoreTypeDynamoDB:
		return NewDynamoStore(cfg.dynamoAPI, cfg.tableName, cfg.ttl)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStoreType, storeType)
	}
}
