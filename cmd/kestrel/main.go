// Kestrel - Real-time fraud detection scoring.
// Copyright (c) 2026 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/predictor"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	profileCache, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer profileCache.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Model Registry
	reg := registry.New()
	if err := loadModels(ctx, repo, reg); err != nil {
		slog.Error("failed to load models", "error", err)
		os.Exit(1)
	}
	slog.Info("model registry initialized",
		"models", len(reg.List()),
		"active", len(reg.ListActive()),
	)

	// Initialize Risk Scorer
	scoringCfg := cfg.Scoring
	if len(scoringCfg.Factors) == 0 {
		scoringCfg = scoring.DefaultFactors()
	}
	scorer, err := scoring.New(scoringCfg)
	if err != nil {
		slog.Error("failed to initialize risk scorer", "error", err)
		os.Exit(1)
	}
	slog.Info("risk scorer initialized", "factors", scorer.FactorCount())

	// Initialize Decision Engine
	decisionCfg := cfg.Decision
	if len(decisionCfg.Bands) == 0 {
		decisionCfg = decision.DefaultBands()
	}
	engine, err := decision.New(decisionCfg)
	if err != nil {
		slog.Error("failed to initialize decision engine", "error", err)
		os.Exit(1)
	}

	// Initialize Metrics Aggregator
	aggregator := metrics.New(cfg.Metrics)
	defer aggregator.Close()

	// Assemble the scoring pipeline
	p := pipeline.New(
		features.NewExtractor(cfg.Features),
		ensemble.New(reg, cfg.Ensemble),
		scorer,
		engine,
		profileCache,
		repo,
		eventBus,
		aggregator,
	)

	// Start the ingestion worker
	ingestWorker := worker.NewWorker(eventBus, p)
	if err := ingestWorker.Start(); err != nil {
		slog.Error("failed to start ingestion worker", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion worker started")

	// Initialize Server
	handler := api.NewHandler(p, reg, aggregator, repo, profileCache, eventBus, Version)
	srv := api.NewServer(handler, cfg.Server)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if err := ingestWorker.Stop(); err != nil {
		slog.Error("failed to stop ingestion worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadModels rebuilds the registry from persisted model configs. A fresh
// database gets the reference ensemble, persisted so subsequent boots
// and API edits share one source of truth.
func loadModels(ctx context.Context, repo domain.Repository, reg *registry.Registry) error {
	configs, err := repo.ListModelConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list model configs from database", "error", err)
		configs = nil
	}

	if len(configs) == 0 {
		slog.Info("no model configs in database, seeding reference ensemble")
		for _, cfg := range predictor.DefaultModels() {
			cfg := cfg
			if err := repo.SaveModelConfig(ctx, &cfg); err != nil {
				slog.Warn("failed to persist model config", "model_id", cfg.ID, "error", err)
			}
			configs = append(configs, &cfg)
		}
	}

	for _, cfg := range configs {
		pred, err := predictor.New(cfg.Type)
		if err != nil {
			slog.Warn("skipping model with unknown type", "model_id", cfg.ID, "type", cfg.Type)
			continue
		}
		meta := domain.ModelMetadata{
			ID:      cfg.ID,
			Type:    cfg.Type,
			Version: cfg.Version,
			Weight:  cfg.Weight,
			Active:  cfg.Active,
		}
		if err := reg.Register(meta, pred); err != nil {
			return fmt.Errorf("register model %s: %w", cfg.ID, err)
		}
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║     Fraud Detection Scoring Engine        ║")
	fmt.Println("  ║      Every transaction, weighed.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/score                  - Score a transaction")
	fmt.Println("    POST /api/v1/ingest                 - Queue a transaction for scoring")
	fmt.Println("    GET  /api/v1/results/{id}           - Get result by ID")
	fmt.Println("    GET  /api/v1/transactions/{id}/result - Get result by transaction")
	fmt.Println("    GET  /api/v1/alerts                 - List recent flagged results")
	fmt.Println("    GET  /api/v1/metrics/{granularity}  - Metrics snapshot (1h/24h/7d/30d)")
	fmt.Println("    GET  /api/v1/models                 - List ensemble models")
	fmt.Println("    POST /api/v1/models                 - Register a model")
	fmt.Println("    PUT  /api/v1/models/{id}/weight     - Update model weight")
	fmt.Println("    PUT  /api/v1/models/{id}/activate   - Activate a model")
	fmt.Println("    PUT  /api/v1/models/{id}/deactivate - Deactivate a model")
	fmt.Println("    DELETE /api/v1/models/{id}          - Deregister a model")
	fmt.Println("    GET  /health                        - Health check")
	fmt.Println()
}
