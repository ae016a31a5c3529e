//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package config loads kestrel configuration from the environment.
// The resulting Config is built once at process start and handed to
// component constructors; nothing reads the environment afterwards.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Supported LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Supported checkpoint backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all configuration for kestrel.
type Config struct {
	HTTPPort int    `env:"KESTREL_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Checkpoint CheckpointConfig
	LLM        LLMConfig
	Search     SearchConfig
	Workflow   WorkflowConfig
}

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	Backend    string `env:"CHECKPOINT_BACKEND" envDefault:"sqlite"`
	SQLitePath string `env:"CHECKPOINT_SQLITE_PATH" envDefault:"kestrel.db"`
	RedisAddr  string `env:"CHECKPOINT_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB    int    `env:"CHECKPOINT_REDIS_DB" envDefault:"0"`
	RedisPass  string `env:"CHECKPOINT_REDIS_PASS"`
}

// LLMConfig holds text-generation provider configuration.
type LLMConfig struct {
	Provider string        `env:"LLM_PROVIDER" envDefault:"gemini"`
	APIKey   string        `env:"LLM_API_KEY"`
	Model    string        `env:"LLM_MODEL"`
	Timeout  time.Duration `env:"LLM_TIMEOUT" envDefault:"120s"`
}

// SearchConfig holds retrieval-provider configuration.
type SearchConfig struct {
	TavilyAPIKey string        `env:"TAVILY_API_KEY"`
	MaxResults   int           `env:"SEARCH_MAX_RESULTS" envDefault:"5"`
	Timeout      time.Duration `env:"SEARCH_TIMEOUT" envDefault:"30s"`

	// Breaker and retry policy for provider calls.
	BreakerThreshold int           `env:"SEARCH_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"SEARCH_BREAKER_COOLDOWN" envDefault:"60s"`
	MaxAttempts      int           `env:"SEARCH_MAX_ATTEMPTS" envDefault:"3"`
}

// WorkflowConfig bounds the research workflow.
// The wave and revision caps are hard termination guarantees: they always win
// over gap analysis and critique severity.
type WorkflowConfig struct {
	MaxWaves         int `env:"WORKFLOW_MAX_WAVES" envDefault:"3"`
	MaxRevisions     int `env:"WORKFLOW_MAX_REVISIONS" envDefault:"2"`
	MaxWorkers       int `env:"WORKFLOW_MAX_WORKERS" envDefault:"3"`
	QueryConcurrency int `env:"WORKFLOW_QUERY_CONCURRENCY" envDefault:"2"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
// Configuration errors are fatal at startup and never retried.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.Checkpoint.Backend {
	case BackendSQLite:
		if c.Checkpoint.SQLitePath == "" {
			return fmt.Errorf("sqlite checkpoint path is required")
		}
	case BackendRedis:
		if c.Checkpoint.RedisAddr == "" {
			return fmt.Errorf("redis checkpoint address is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unsupported checkpoint backend: %s", c.Checkpoint.Backend)
	}
	switch c.LLM.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	if c.Workflow.MaxWaves < 1 {
		return fmt.Errorf("max waves must be at least 1")
	}
	if c.Workflow.MaxRevisions < 0 {
		return fmt.Errorf("max revisions must not be negative")
	}
	if c.Workflow.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be at least 1")
	}
	if c.Workflow.QueryConcurrency < 1 {
		return fmt.Errorf("query concurrency must be at least 1")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

// HTTPAddr returns the HTTP listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
