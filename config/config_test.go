//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		HTTPPort: 8080,
		LogLevel: "info",
		Checkpoint: CheckpointConfig{
			Backend:    BackendSQLite,
			SQLitePath: "kestrel.db",
		},
		LLM: LLMConfig{
			Provider: ProviderGemini,
			Timeout:  time.Minute,
		},
		Workflow: WorkflowConfig{
			MaxWaves:         3,
			MaxRevisions:     2,
			MaxWorkers:       3,
			QueryConcurrency: 2,
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, BackendSQLite, cfg.Checkpoint.Backend)
	assert.Equal(t, 3, cfg.Workflow.MaxWaves)
	assert.Equal(t, 2, cfg.Workflow.MaxRevisions)
	assert.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"memory backend", func(c *Config) { c.Checkpoint.Backend = BackendMemory }, ""},
		{"bad port", func(c *Config) { c.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad backend", func(c *Config) { c.Checkpoint.Backend = "postgres" }, "unsupported checkpoint backend"},
		{"missing sqlite path", func(c *Config) { c.Checkpoint.SQLitePath = "" }, "sqlite checkpoint path"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "llama" }, "unsupported LLM provider"},
		{"zero waves", func(c *Config) { c.Workflow.MaxWaves = 0 }, "max waves"},
		{"negative revisions", func(c *Config) { c.Workflow.MaxRevisions = -1 }, "max revisions"},
		{"zero workers", func(c *Config) { c.Workflow.MaxWorkers = 0 }, "max workers"},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, "invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
