// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// OpenAI
	OpenAIAPIKey  string        `env:"OPENAI_API_KEY"`
	ParamPrefix   string        `env:"PARAM_PREFIX"`
	ParamCacheTTL time.Duration `env:"PARAM_CACHE_TTL" envDefault:"15m"`
	OpenAIBaseURL string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`

	// Models
	ClassifyModel      string `env:"CLASSIFY_MODEL" envDefault:"gpt-4o-mini"`
	DescribeModel      string `env:"DESCRIBE_MODEL" envDefault:"gpt-4o-mini"`
	TTSModel           string `env:"TTS_MODEL" envDefault:"tts-1"`
	TTSVoice           string `env:"TTS_VOICE" envDefault:"alloy"`
	TranscribeModel    string `env:"TRANSCRIBE_MODEL" envDefault:"whisper-1"`
	TranscribeLanguage string `env:"TRANSCRIBE_LANGUAGE" envDefault:"en"`

	// Adapter calls
	AdapterTimeout     time.Duration `env:"ADAPTER_TIMEOUT" envDefault:"30s"`
	AdapterMaxAttempts int           `env:"ADAPTER_MAX_ATTEMPTS" envDefault:"3"`

	// Session storage
	StoreDriver string        `env:"STORE_DRIVER" envDefault:"dynamodb"`
	StateTable  string        `env:"STATE_TABLE"`
	RedisURL    string        `env:"REDIS_URL"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Request limits
	MaxImageBytes     int `env:"MAX_IMAGE_BYTES" envDefault:"5242880"`
	MaxQuestionLength int `env:"MAX_QUESTION_LENGTH" envDefault:"500"`
	MaxTurns          int `env:"MAX_TURNS" envDefault:"40"`

	// Device
	DataDir       string `env:"DATA_DIR" envDefault:"./sightline-data"`
	Transcriber   string `env:"TRANSCRIBER" envDefault:"cloud"`
	WhisperBin    string `env:"WHISPER_BIN" envDefault:"whisper-cli"`
	RecordCommand string `env:"RECORD_COMMAND"`
	PlayCommand   string `env:"PLAY_COMMAND"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case "memory", "redis", "dynamodb":
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	c.Transcriber = strings.ToLower(strings.TrimSpace(c.Transcriber))
	if c.Transcriber != "cloud" && c.Transcriber != "local" {
		return fmt.Errorf("config: unknown TRANSCRIBER %q", c.Transcriber)
	}
	if c.AdapterTimeout <= 0 {
		return errors.New("config: ADAPTER_TIMEOUT must be positive")
	}
	if c.AdapterMaxAttempts < 1 {
		return errors.New("config: ADAPTER_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// RequireLambda checks the settings the API binary cannot start without.
func (c *Config) RequireLambda() error {
	if c.OpenAIAPIKey == "" && strings.TrimSpace(c.ParamPrefix) == "" {
		return errors.New("config: PARAM_PREFIX or OPENAI_API_KEY is required")
	}
	switch c.StoreDriver {
	case "dynamodb":
		if strings.TrimSpace(c.StateTable) == "" {
			return errors.New("config: STATE_TABLE is required for the dynamodb store")
		}
	case "redis":
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("config: REDIS_URL is required for the redis store")
		}
	}
	return nil
}

// RequireDevice checks the settings the narrator cannot start without.
func (c *Config) RequireDevice() error {
	if c.OpenAIAPIKey == "" {
		return errors.New("config: OPENAI_API_KEY is required")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
