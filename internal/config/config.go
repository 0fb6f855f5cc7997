// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for contextgate.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Memory  MemoryConfig  `yaml:"memory"`
	Cache   CacheConfig   `yaml:"cache"`
	Safety  SafetyConfig  `yaml:"safety"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string  `yaml:"api_key"`
	DefaultModel string  `yaml:"default_model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

// MemoryConfig tunes the context engine and the vector-backed memory.
type MemoryConfig struct {
	// TokenBudget caps the optimized context window size.
	TokenBudget int `yaml:"token_budget"`
	// RecentCount is how many latest messages are always kept verbatim.
	RecentCount int `yaml:"recent_count"`
	// MinRelevance drops candidates below this posterior probability.
	MinRelevance float64 `yaml:"min_relevance"`
	// MaxSelected caps Bayesian selections per request.
	MaxSelected int `yaml:"max_selected"`
	// SummaryThreshold triggers summarization once live messages exceed it.
	SummaryThreshold int `yaml:"summary_threshold"`
	// EmbeddingModel names the embedder model (empty for the fallback).
	EmbeddingModel string `yaml:"embedding_model"`
	// VectorBackend selects the store: "memory" or "pgvector".
	VectorBackend string `yaml:"vector_backend"`
	// PostgresURL is required for the pgvector backend.
	PostgresURL string `yaml:"postgres_url"`
}

// CacheConfig tunes the shared-conversation cache.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// SweepInterval is how often the background sweeper prunes expired
	// entries.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// MaxPayloadBytes rejects oversized shared conversations.
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
}

// SafetyConfig tunes the content safety pipeline.
type SafetyConfig struct {
	// AIEnabled toggles the LLM-backed classifier stage.
	AIEnabled bool `yaml:"ai_enabled"`
	// Locale picks the language for user-facing rejections ("en", "vi").
	Locale string `yaml:"locale"`
	// MaxMessageLength rejects inputs above this rune count.
	MaxMessageLength int `yaml:"max_message_length"`
}

type StorageConfig struct {
	// Path is the sqlite database file (":memory:" for ephemeral).
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables in the
// file body (e.g. ${ANTHROPIC_API_KEY}) are expanded before parsing.
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
	return &cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Memory.TokenBudget == 0 {
		cfg.Memory.TokenBudget = 8000
	}
	if cfg.Memory.RecentCount == 0 {
		cfg.Memory.RecentCount = 10
	}
	if cfg.Memory.MinRelevance == 0 {
		cfg.Memory.MinRelevance = 0.3
	}
	if cfg.Memory.MaxSelected == 0 {
		cfg.Memory.MaxSelected = 8
	}
	if cfg.Memory.SummaryThreshold == 0 {
		cfg.Memory.SummaryThreshold = 50
	}
	if cfg.Memory.VectorBackend == "" {
		cfg.Memory.VectorBackend = "memory"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1000
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 24 * time.Hour
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = 5 * time.Minute
	}
	if cfg.Cache.MaxPayloadBytes == 0 {
		cfg.Cache.MaxPayloadBytes = 256 * 1024
	}
	if cfg.Safety.Locale == "" {
		cfg.Safety.Locale = "en"
	}
	if cfg.Safety.MaxMessageLength == 0 {
		cfg.Safety.MaxMessageLength = 32000
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "contextgate.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
