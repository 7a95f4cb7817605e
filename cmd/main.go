package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"sightline/handler"
	"sightline/internal/config"
	"sightline/internal/integrations/openai"
	"sightline/internal/integrations/paramstore"
	"sightline/internal/repository"
	"sightline/internal/speech"
	"sightline/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}
	if err := cfg.RequireLambda(); err != nil {
		fatal("invalid config", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	var ps openai.Getter
	if cfg.OpenAIAPIKey == "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithTTL(cfg.ParamCacheTTL))
		if err != nil {
			fatal("failed to create SSM client", err)
		}
		ps = ssmClient
	}
	clientOpts := []openai.Option{openai.WithBaseURL(cfg.OpenAIBaseURL)}
	if cfg.OpenAIAPIKey != "" {
		clientOpts = append(clientOpts, openai.WithAPIKey(cfg.OpenAIAPIKey))
	}
	openaiClient, err := openai.NewClient(ps, cfg.ParamPrefix, clientOpts...)
	if err != nil {
		fatal("failed to create OpenAI client", err)
	}

	// The store lives as long as the container; it is not closed.
	store, err := newStore(awsCfg, cfg)
	if err != nil {
		fatal("failed to create session store", err)
	}

	// ---- Use cases ----
	coordinator, err := usecase.NewCoordinator(openaiClient,
		usecase.WithModels(cfg.ClassifyModel, cfg.DescribeModel),
		usecase.WithAdapterTimeout(cfg.AdapterTimeout),
		usecase.WithMaxAttempts(cfg.AdapterMaxAttempts),
		usecase.WithLogger(logger),
	)
	if err != nil {
		fatal("failed to create coordinator", err)
	}
	transcriber, err := speech.NewCloudTranscriber(openaiClient, cfg.TranscribeModel, cfg.TranscribeLanguage)
	if err != nil {
		fatal("failed to create transcriber", err)
	}
	voice, err := speech.NewVoice(openaiClient, cfg.TTSModel, cfg.TTSVoice)
	if err != nil {
		fatal("failed to create voice", err)
	}
	conversations, err := usecase.NewConversationService(coordinator, store, transcriber, voice,
		usecase.WithServiceLogger(logger),
		usecase.WithLimits(cfg.MaxImageBytes, cfg.MaxQuestionLength, cfg.MaxTurns),
		usecase.WithAdapterPolicy(cfg.AdapterTimeout, cfg.AdapterMaxAttempts),
		usecase.WithTempDir(os.TempDir()),
	)
	if err != nil {
		fatal("failed to create conversation service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(conversations, handler.WithLogger(logger))
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func newStore(awsCfg aws.Config, cfg *config.Config) (repository.Store, error) {
	opts := []repository.StoreOption{repository.WithTTL(cfg.SessionTTL)}
	switch repository.StoreType(cfg.StoreDriver) {
	case repository.StoreTypeDynamoDB:
		opts = append(opts, repository.WithDynamoDB(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable))
	case repository.StoreTypeRedis:
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = append(opts, repository.WithRedisClient(redis.NewClient(redisOpts)))
	}
	return repository.NewStore(repository.StoreType(cfg.StoreDriver), opts...)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
