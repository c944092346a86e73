// FraudSentry - Transaction fraud scoring with an agent second opinion.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/fraudsentry/internal/agent"
	"github.com/opensource-finance/fraudsentry/internal/analysis"
	"github.com/opensource-finance/fraudsentry/internal/api"
	"github.com/opensource-finance/fraudsentry/internal/bus"
	"github.com/opensource-finance/fraudsentry/internal/cache"
	"github.com/opensource-finance/fraudsentry/internal/config"
	"github.com/opensource-finance/fraudsentry/internal/domain"
	"github.com/opensource-finance/fraudsentry/internal/enrich"
	"github.com/opensource-finance/fraudsentry/internal/fusion"
	"github.com/opensource-finance/fraudsentry/internal/llm"
	"github.com/opensource-finance/fraudsentry/internal/metrics"
	"github.com/opensource-finance/fraudsentry/internal/repository"
	"github.com/opensource-finance/fraudsentry/internal/rules"
	"github.com/opensource-finance/fraudsentry/internal/velocity"
	"github.com/opensource-finance/fraudsentry/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting fraudsentry",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"agent_configured", cfg.Agent.APIKey != "",
		"enrichment", cfg.Enrichment.Enabled,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Velocity
	checker := velocity.NewChecker(repo, nil, logger)
	checker.OnSimulated = func(entityType domain.EntityType) {
		metrics.SimulatedVelocityTotal.WithLabelValues(string(entityType)).Inc()
	}

	// Custom rules
	engine, err := rules.NewEngine(100, logger)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	loadRulesFromDatabase(ctx, repo, engine)
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Agent and enrichment share one rate-limited, circuit-broken client.
	var client llm.Completer
	if c, err := llm.NewClient(llm.Options{
		APIKey:            cfg.Agent.APIKey,
		BaseURL:           cfg.Agent.BaseURL,
		Model:             cfg.Agent.Model,
		RequestsPerSecond: cfg.Agent.RequestsPerSecond,
	}, logger); err == nil {
		client = c
	} else if !errors.Is(err, llm.ErrNotConfigured) {
		slog.Error("failed to initialize llm client", "error", err)
		os.Exit(1)
	}

	tools := agent.NewToolSet(repo, checker, nil, "")
	var backend agent.Backend
	if client != nil {
		backend = agent.NewOpenAIBackend(client, cfg.Agent.Model, tools, cfg.Agent.MaxToolRounds, logger)
	}
	investigator := agent.NewInvestigator(backend, agent.NewMockBackend(nil), logger)
	investigator.OnFallback = func(error) {
		metrics.FallbackTotal.WithLabelValues("agent_backend").Inc()
	}
	slog.Info("agent investigator initialized",
		"backend_configured", investigator.Configured(),
		"fuse_simulated", cfg.Agent.FuseSimulated,
	)

	var explainer, insighter enrich.Generator
	if cfg.Enrichment.Enabled && client != nil {
		explainer = enrich.NewExplainer(client, cfg.Agent.Model)
		insighter = enrich.NewInsighter(client, cfg.Agent.Model)
	}

	svc, err := analysis.NewService(analysis.Options{
		Store:        repo,
		Velocity:     checker,
		Rules:        engine,
		Scorer:       rules.NewScorer(nil),
		Agent:        investigator,
		Fusion:       fusion.NewProcessor(cfg.Agent.FuseSimulated),
		Enricher:     enrich.NewService(explainer, insighter, nil, cfg.Enrichment.Timeout, logger),
		AgentTimeout: cfg.Agent.Timeout,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("failed to initialize analysis service", "error", err)
		os.Exit(1)
	}
	recorder := analysis.NewRecorder(repo, cacheImpl, busImpl, logger)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("FRAUDSENTRY_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, svc, recorder, logger)

		workerCfg := worker.Config{
			TenantIDs:   parseTenants(os.Getenv("FRAUDSENTRY_TENANTS")),
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "tenant_count", len(workerCfg.TenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Analyzer: svc,
		Recorder: recorder,
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Engine:   engine,
		Version:  Version,
		Logger:   logger,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudsentry is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fraudsentry shutdown complete")
}

func newLogger(w io.Writer, cfg domain.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.LogLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// parseTenants splits a comma-separated tenant list. Empty means all tenants.
func parseTenants(raw string) []string {
	var tenants []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

// loadRulesFromDatabase loads global rules into the engine.
// Rules are configured via the POST /rules API; there are no built-in defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) {
	dbRules, err := repo.ListRuleConfigs(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return
	}

	if len(dbRules) == 0 {
		slog.Info("no custom rules in database - configure via POST /rules API")
		return
	}

	slog.Info("loading rules from database", "count", len(dbRules))
	if err := engine.LoadRules(dbRules); err != nil {
		slog.Warn("some rules failed to load", "error", err)
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  FraudSentry - transaction fraud scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze           - Analyze a transaction")
	fmt.Println("    POST /analyze/async     - Queue a transaction for analysis")
	fmt.Println("    GET  /analyses/{id}     - Get analysis by ID")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /rules             - List loaded rules")
	fmt.Println("    POST /rules             - Create a new rule")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println()
}
