// Package config loads the runtime configuration document.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for kumo.
type Config struct {
	Host      HostConfig      `yaml:"host"`
	Provider  ProviderConfig  `yaml:"provider"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Data      DataConfig      `yaml:"data"`
	Retry     RetryConfig     `yaml:"retry"`
	Logging   LoggingConfig   `yaml:"logging"`

	// PromptRoot is the directory holding the per-variant YAML documents.
	PromptRoot string `yaml:"prompt_root"`

	// MCPConfig is the path to the tool endpoint configuration. A missing
	// file disables remote tooling.
	MCPConfig string `yaml:"mcp_config"`

	// MemeRoot maps meme tags to image files. Empty disables stickers.
	MemeRoot string `yaml:"meme_root"`
}

// HostConfig is the chat platform connection.
type HostConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// ProviderConfig is the chat completion endpoint.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// EmbeddingConfig is the embedding endpoint for long-term recall. Disabled
// when the key resolves empty.
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// DataConfig holds the database locations.
type DataConfig struct {
	MessageDB string `yaml:"message_db"`
	RecallDB  string `yaml:"recall_db"`
}

// RetryConfig bounds retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables in
// the document are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.Provider.APIKey
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.Provider.BaseURL
	}
	if cfg.PromptRoot == "" {
		cfg.PromptRoot = "prompts"
	}
	if cfg.MCPConfig == "" {
		cfg.MCPConfig = "mcp.yaml"
	}
	if cfg.Data.MessageDB == "" {
		cfg.Data.MessageDB = "kumo.db"
	}
	if cfg.Data.RecallDB == "" {
		cfg.Data.RecallDB = "recall.db"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.Delay == 0 {
		cfg.Retry.Delay = time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks the fields nothing can default for.
func (c *Config) Validate() error {
	if c.Host.URL == "" {
		return fmt.Errorf("host.url is required")
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required (or set OPENAI_API_KEY)")
	}
	return nil
}
