//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kestrel-research/kestrel/breaker"
	"github.com/kestrel-research/kestrel/checkpoint"
	ckptinmemory "github.com/kestrel-research/kestrel/checkpoint/inmemory"
	ckptredis "github.com/kestrel-research/kestrel/checkpoint/redis"
	ckptsqlite "github.com/kestrel-research/kestrel/checkpoint/sqlite"
	"github.com/kestrel-research/kestrel/config"
	"github.com/kestrel-research/kestrel/log"
	"github.com/kestrel-research/kestrel/model"
	"github.com/kestrel-research/kestrel/model/gemini"
	"github.com/kestrel-research/kestrel/model/openai"
	"github.com/kestrel-research/kestrel/research"
	"github.com/kestrel-research/kestrel/search"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "kestrel",
	Short:         "kestrel orchestrates multi-stage research workflows",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine; the environment wins either way.
		_ = godotenv.Load()
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		log.SetLevel(cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, approveCmd, resumeCmd, statusCmd, reportCmd)
}

// newStore opens the configured checkpoint backend.
func newStore(cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case config.BackendSQLite:
		db, err := sql.Open("sqlite3", cfg.Checkpoint.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return ckptsqlite.New(db)
	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Checkpoint.RedisAddr,
			DB:       cfg.Checkpoint.RedisDB,
			Password: cfg.Checkpoint.RedisPass,
		})
		return ckptredis.New(client), nil
	default:
		return ckptinmemory.New(), nil
	}
}

// newGenerator builds the configured text-generation provider.
func newGenerator(ctx context.Context, cfg *config.Config) (model.Generator, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		var opts []openai.Option
		if cfg.LLM.Model != "" {
			opts = append(opts, openai.WithModel(cfg.LLM.Model))
		}
		return openai.New(cfg.LLM.APIKey, opts...), nil
	default:
		var opts []gemini.Option
		if cfg.LLM.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.LLM.Model))
		}
		return gemini.New(ctx, cfg.LLM.APIKey, opts...)
	}
}

// newSearcher builds the search client with its provider chain. Tavily is
// queried first when an API key is configured; DuckDuckGo is the fallback.
func newSearcher(cfg *config.Config) *search.Client {
	var providers []search.Provider
	if cfg.Search.TavilyAPIKey != "" {
		providers = append(providers, search.NewTavily(cfg.Search.TavilyAPIKey))
	}
	providers = append(providers, search.NewDuckDuckGo())

	retry := search.DefaultRetryPolicy
	retry.MaxAttempts = cfg.Search.MaxAttempts
	return search.NewClient(providers,
		search.WithRetryPolicy(retry),
		search.WithBreakerRegistry(breaker.NewRegistry(cfg.Search.BreakerThreshold, cfg.Search.BreakerCooldown)),
	)
}

// newRunner wires the full workflow stack. The caller must Close the
// returned store.
func newRunner(ctx context.Context, cfg *config.Config) (*research.Runner, checkpoint.Store, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	runner, err := research.NewRunner(gen, newSearcher(cfg), store, research.Options{
		MaxWaves:         cfg.Workflow.MaxWaves,
		MaxRevisions:     cfg.Workflow.MaxRevisions,
		MaxWorkers:       cfg.Workflow.MaxWorkers,
		QueryConcurrency: cfg.Workflow.QueryConcurrency,
		ResultsPerQuery:  cfg.Search.MaxResults,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return runner, store, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
