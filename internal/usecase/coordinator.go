package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sightline/internal/domain"
	"sightline/internal/integrations/openai"
)

const (
	DefaultClassifyModel = "gpt-4o-mini"
	DefaultDescribeModel = "gpt-4o-mini"

	classifyMaxTokens   = 20
	classifyTemperature = 0.3
	describeMaxTokens   = 300
	describeTemperature = 0.2
)

// LLMClient is the vision/chat adapter.
type LLMClient interface {
	Chat(ctx context.Context, in openai.ChatRequest) (string, error)
}

// Coordinator classifies an image once and runs description and follow-up
// requests against a caller-owned History.
type Coordinator struct {
	llm           LLMClient
	classifyModel string
	describeModel string
	retry         retryPolicy
	logger        *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]domain.Classification
}

type CoordinatorOption func(*coordinatorConfig)

type coordinatorConfig struct {
	classifyModel string
	describeModel string
	timeout       time.Duration
	maxAttempts   int
	logger        *slog.Logger
}

func WithModels(classify, describe string) CoordinatorOption {
	return func(c *coordinatorConfig) {
		if classify = strings.TrimSpace(classify); classify != "" {
			c.classifyModel = classify
		}
		if describe = strings.TrimSpace(describe); describe != "" {
			c.describeModel = describe
		}
	}
}

// WithAdapterTimeout bounds each individual adapter attempt.
func WithAdapterTimeout(d time.Duration) CoordinatorOption {
	return func(c *coordinatorConfig) { c.timeout = d }
}

// WithMaxAttempts caps attempts per adapter call, including the first.
func WithMaxAttempts(n int) CoordinatorOption {
	return func(c *coordinatorConfig) { c.maxAttempts = n }
}

func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *coordinatorConfig) { c.logger = l }
}

func NewCoordinator(llm LLMClient, opts ...CoordinatorOption) (*Coordinator, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	cfg := coordinatorConfig{
		classifyModel: DefaultClassifyModel,
		describeModel: DefaultDescribeModel,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Coordinator{
		llm:           llm,
		classifyModel: cfg.classifyModel,
		describeModel: cfg.describeModel,
		retry:         newRetryPolicy(cfg.timeout, cfg.maxAttempts, cfg.logger),
		logger:        cfg.logger,
		cache:         make(map[string]domain.Classification),
	}, nil
}

// Classify returns the image's classification, calling the adapter at most
// once per image. Concurrent callers for the same image share one call.
func (c *Coordinator) Classify(ctx context.Context, img domain.Image) (domain.Classification, error) {
	if len(img.Data) == 0 {
		return "", newError(ErrorInvalidInput, "empty_image", domain.ErrEmptyImage)
	}
	key := img.Key()
	if cls, ok := c.cached(key); ok {
		return cls, nil
	}

	// The shared call ignores the first caller's cancellation; each caller
	// stops waiting when its own ctx ends.
	ch := c.group.DoChan(key, func() (any, error) {
		if cls, ok := c.cached(key); ok {
			return cls, nil
		}
		return c.classifyOnce(context.WithoutCancel(ctx), img, key)
	})

	select {
	case <-ctx.Done():
		return "", toError("classify", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(domain.Classification), nil
	}
}

func (c *Coordinator) classifyOnce(ctx context.Context, img domain.Image, key string) (domain.Classification, error) {
	temp := classifyTemperature
	raw, err := callWithRetry(ctx, c.retry, "classify", func(ctx context.Context) (string, error) {
		return c.llm.Chat(ctx, openai.ChatRequest{
			Model:       c.classifyModel,
			Messages:    buildClassifyMessages(img),
			MaxTokens:   classifyMaxTokens,
			Temperature: &temp,
		})
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "classification failed", "err", err)
		return "", err
	}

	cls, err := domain.ParseClassification(raw)
	if err != nil {
		c.logger.WarnContext(ctx, "unrecognized classification", "raw", raw)
		return "", newError(ErrorClassification, "unknown_classification", err)
	}

	c.mu.Lock()
	c.cache[key] = cls
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "image classified", "classification", cls)
	return cls, nil
}

func (c *Coordinator) cached(key string) (domain.Classification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cls, ok := c.cache[key]
	return cls, ok
}

// Remember seeds the classification of an image, e.g. from persisted state.
func (c *Coordinator) Remember(img domain.Image, cls domain.Classification) {
	if len(img.Data) == 0 || !cls.Valid() {
		return
	}
	c.mu.Lock()
	c.cache[img.Key()] = cls
	c.mu.Unlock()
}

// Forget drops the cached classification when a session ends.
func (c *Coordinator) Forget(img domain.Image) {
	if len(img.Data) == 0 {
		return
	}
	c.ForgetKey(img.Key())
}

// ForgetKey drops a cached classification by Image.Key.
func (c *Coordinator) ForgetKey(key string) {
	c.mu.Lock()
	delete(c.cache, key)
	c.mu.Unlock()
}

// Describe answers question about img and appends the exchange to history.
// An empty question asks for the initial description.
func (c *Coordinator) Describe(ctx context.Context, img domain.Image, history *domain.History, question string) (string, error) {
	if history == nil {
		return "", newError(ErrorInvalidInput, "nil_history", nil)
	}
	if history.Closed() {
		return "", newError(ErrorSessionClosed, "describe_session_closed", domain.ErrHistoryClosed)
	}

	cls, err := c.Classify(ctx, img)
	if err != nil {
		return "", err
	}

	question = strings.TrimSpace(question)
	if question == "" {
		question = DefaultQuestion
	}
	prior := history.Turns()

	temp := describeTemperature
	answer, err := callWithRetry(ctx, c.retry, "describe", func(ctx context.Context) (string, error) {
		return c.llm.Chat(ctx, openai.ChatRequest{
			Model:       c.describeModel,
			Messages:    buildDescribeMessages(cls, img, prior, question),
			MaxTokens:   describeMaxTokens,
			Temperature: &temp,
		})
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "describe failed", "classification", cls, "err", err)
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = FallbackDescription
	}

	turns := []domain.Turn{{Role: domain.RoleAssistant, Text: answer}}
	if len(prior) > 0 {
		turns = []domain.Turn{
			{Role: domain.RoleUser, Text: question},
			{Role: domain.RoleAssistant, Text: answer},
		}
	}
	if err := history.Append(turns...); err != nil {
		return "", toError("describe", err)
	}
	return answer, nil
}

// RespondToFollowUp answers a spoken or typed follow-up question.
func (c *Coordinator) RespondToFollowUp(ctx context.Context, img domain.Image, history *domain.History, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", newError(ErrorInvalidInput, "empty_question", nil)
	}
	return c.Describe(ctx, img, history, question)
}
