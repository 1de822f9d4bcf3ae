// Copyright 2026 © The Hubmate Authors
// SPDX-License-Identifier: Apache-2.0

// Hubmate is a GitHub project assistant: a chat agent with an action space
// for issue management, workload allocation, contributor rewards and
// project judging, exposed over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hubmate/hubmate/pkg/backend"
	"github.com/hubmate/hubmate/pkg/chat"
	"github.com/hubmate/hubmate/pkg/config"
	"github.com/hubmate/hubmate/pkg/github"
	"github.com/hubmate/hubmate/pkg/httpapi"
	"github.com/hubmate/hubmate/pkg/memory"
	"github.com/hubmate/hubmate/pkg/resilience"
	"github.com/hubmate/hubmate/pkg/space"
	"github.com/hubmate/hubmate/pkg/telemetry"
	"github.com/hubmate/hubmate/providers/openai"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "hubmate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.Init("hubmate", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	history, err := buildHistory(cfg)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.Backend.Retries > 0 {
		retry.MaxAttempts = cfg.Backend.Retries
	}

	tracker := github.New(cfg.GitHub.Token, cfg.GitHub.Owner, cfg.GitHub.Repo,
		github.WithCategories(cfg.CategoryAllowList()),
		github.WithTimeout(cfg.Backend.Timeout),
		github.WithRetry(retry),
		github.WithLogger(log),
	)

	services := backend.New(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithRetry(retry),
		backend.WithLogger(log),
	)

	providerOpts := []openai.Option{
		openai.WithModel(cfg.LLM.Model),
		openai.WithAPIKey(cfg.LLM.APIKey),
	}
	if cfg.LLM.BaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cfg.LLM.BaseURL))
	}
	planner := openai.New(providerOpts...)

	persona := space.New(space.Config{
		Tracker:    tracker,
		Backend:    services,
		Planner:    planner,
		Model:      cfg.LLM.Model,
		RepoURL:    fmt.Sprintf("https://github.com/%s/%s", cfg.GitHub.Owner, cfg.GitHub.Repo),
		Developers: cfg.DeveloperLogins(),
		Categories: cfg.CategoryAllowList(),
	})
	catalog := persona.Catalog()

	agent, err := chat.NewAgent(planner,
		chat.WithModel(cfg.LLM.Model),
		chat.WithTemperature(cfg.LLM.Temperature),
		chat.WithMaxTokens(cfg.LLM.MaxTokens),
		chat.WithHistory(history),
		chat.WithTruncation(memory.NewWindowStrategy(cfg.History.Window, true)),
		chat.WithLogger(log),
	)
	if err != nil {
		return err
	}

	api := httpapi.New(agent, catalog,
		httpapi.WithBlockActions("judge_projects"),
		httpapi.WithLogger(log),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("repo", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildHistory(cfg *config.Config) (memory.ConversationStore, error) {
	memCfg := memory.Config{}
	switch cfg.History.Backend {
	case "sqlite":
		return memory.OpenSQLite(cfg.History.Path, memCfg)
	default:
		return memory.NewInMemoryConversation(memCfg), nil
	}
}
