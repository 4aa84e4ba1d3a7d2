package config

import (
	"time"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/kafka"
	redisclient "github.com/vietddude/blockimport/internal/infra/redis"
	"github.com/vietddude/blockimport/internal/infra/storage/postgres"
	"github.com/vietddude/blockimport/internal/infra/telemetry"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Import   ImportConfig       `yaml:"import"`
	Redis    redisclient.Config `yaml:"redis"`
	Kafka    kafka.Config       `yaml:"kafka"`
	Tracing  telemetry.Config   `yaml:"tracing"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"` // 0 disables /health and /metrics
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ImportConfig holds batch import settings.
type ImportConfig struct {
	Chain        string              `yaml:"chain"` // label for metrics and redis keys
	ChainVariant domain.ChainVariant `yaml:"chain_variant"`
	BatchTimeout time.Duration       `yaml:"batch_timeout"`
	Workers      int                 `yaml:"workers"`
	MaxAttempts  int                 `yaml:"max_attempts"`
	RetryBackoff time.Duration       `yaml:"retry_backoff"`
	RateLimit    int                 `yaml:"rate_limit"` // batches per second, 0 is unlimited
}
