// Package config reads the runtime configuration from the environment.
// Every variable carries the CHATBIS_ prefix; a .env file in the working
// directory is picked up when present.
package config

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the complete runtime configuration with its defaults.
type Config struct {
	DatabasePath   string `envconfig:"DATABASE_PATH" default:"chatbis.db"`
	CorpusPath     string `envconfig:"CORPUS_PATH" default:"data/corpus.json"`
	HTTPAddr       string `envconfig:"HTTP_ADDR" default:":5000"`
	WorkingSetSize int    `envconfig:"WORKING_SET_SIZE" default:"20"`
	TopK           int    `envconfig:"TOP_K" default:"3"`
	TopKStandalone int    `envconfig:"TOP_K_STANDALONE" default:"5"`

	// RouterRules points at a YAML decision table replacing the embedded
	// one. Empty means the built-in table.
	RouterRules string `envconfig:"ROUTER_RULES"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	SentryDSN string `envconfig:"SENTRY_DSN"`

	// Embedding and generation both speak the OpenAI API; pointing the
	// base URLs at an Ollama instance works. Leaving the embedding
	// endpoint unset keeps retrieval on the offline fallback embedding,
	// and leaving the generation endpoint unset keeps answers extractive.
	EmbeddingAPIKey  string `envconfig:"EMBEDDING_API_KEY"`
	EmbeddingBaseURL string `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" default:"nomic-embed-text"`

	GenerationAPIKey  string `envconfig:"GENERATION_API_KEY"`
	GenerationBaseURL string `envconfig:"GENERATION_BASE_URL"`
	GenerationModel   string `envconfig:"GENERATION_MODEL" default:"qwen3"`

	// openBIS credentials for the action layer. Unset means actions that
	// need a server politely refuse.
	OpenbisURL      string `envconfig:"OPENBIS_URL"`
	OpenbisUsername string `envconfig:"OPENBIS_USERNAME"`
	OpenbisPassword string `envconfig:"OPENBIS_PASSWORD"`
}

// Load reads .env (best effort) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CHATBIS", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no deployment can run with.
func (c *Config) Validate() error {
	if c.WorkingSetSize <= 0 {
		return fmt.Errorf("config: working set size must be positive, got %d", c.WorkingSetSize)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("config: top k must be positive, got %d", c.TopK)
	}
	if c.TopKStandalone <= 0 {
		return fmt.Errorf("config: standalone top k must be positive, got %d", c.TopKStandalone)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// HasEmbedding reports whether an embedding endpoint is configured.
func (c *Config) HasEmbedding() bool {
	return c.EmbeddingBaseURL != "" || c.EmbeddingAPIKey != ""
}

// HasGeneration reports whether a generation endpoint is configured.
func (c *Config) HasGeneration() bool {
	return c.GenerationBaseURL != "" || c.GenerationAPIKey != ""
}

// HasOpenbis reports whether openBIS connection defaults are configured.
func (c *Config) HasOpenbis() bool {
	return c.OpenbisURL != ""
}

// SlogLevel maps LogLevel onto slog's levels.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
