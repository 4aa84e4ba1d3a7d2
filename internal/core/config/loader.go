package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/blockimport/internal/core/domain"
	"github.com/vietddude/blockimport/internal/infra/storage/postgres"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables and filling defaults.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	variant, err := domain.ParseChainVariant(string(cfg.Import.ChainVariant))
	if err != nil {
		return nil, fmt.Errorf("invalid import.chain_variant: %w", err)
	}
	cfg.Import.ChainVariant = variant

	if _, err := postgres.ParseIsolation(cfg.Database.Isolation); err != nil {
		return nil, fmt.Errorf("invalid database.isolation: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Import.Chain == "" {
		cfg.Import.Chain = "default"
	}
	if cfg.Import.BatchTimeout == 0 {
		cfg.Import.BatchTimeout = 30 * time.Second
	}
	if cfg.Import.Workers <= 0 {
		cfg.Import.Workers = 1
	}
	if cfg.Import.MaxAttempts <= 0 {
		cfg.Import.MaxAttempts = 3
	}
	if cfg.Import.RetryBackoff == 0 {
		cfg.Import.RetryBackoff = time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
