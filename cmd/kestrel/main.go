// Kestrel - Real-time fraud risk scoring for P2P payments.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/blacklist"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/signal"
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

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := loadConfig()

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
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

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

	// Initialize custom rule engine and load rules from the database
	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Signal aggregation. The blacklist lookup goes through the cache so
	// hot identifiers do not hammer the registry.
	providers := &signal.RepositoryProviders{Repo: repo}
	registry := &signal.CachedBlacklistRegistry{Next: providers, Cache: cacheImpl, TTL: cfg.Cache.LocalTTL}
	aggregator := signal.NewAggregator(providers, registry, providers, providers, cfg.Risk.LookupTimeout)

	// Pre-transaction evaluator
	evaluator := risk.NewEvaluator(cfg.Risk, aggregator, engine, logger)

	// Blacklist and alert policies
	blacklistSvc := blacklist.NewService(repo, busImpl, logger)
	alertSvc := alert.NewService(repo, busImpl, logger)

	// Anomaly classifier: external when configured, statistical otherwise
	var clf classifier.Classifier
	if cfg.Analyzer.ClassifierURL != "" {
		clf = classifier.NewHTTPClassifier(cfg.Analyzer.ClassifierURL, 10*time.Second)
		slog.Info("using external classifier", "url", cfg.Analyzer.ClassifierURL)
	} else {
		clf = classifier.NewStatistical()
		slog.Info("using built-in statistical classifier")
	}

	// Post-transaction analyzer, fed off the bus
	analyzerSvc := analyzer.New(repo, clf, alertSvc, busImpl, cfg.Analyzer, logger)
	if err := analyzerSvc.Start(busImpl); err != nil {
		slog.Error("failed to start analyzer", "error", err)
		os.Exit(1)
	}

	// Behavior profile aggregation, also fed off the bus
	profileSvc := profile.NewService(repo, cfg.Risk, logger)
	if err := profileSvc.Start(busImpl); err != nil {
		slog.Error("failed to start profile aggregator", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Evaluator: evaluator,
		Analyzer:  analyzerSvc,
		Blacklist: blacklistSvc,
		Alerts:    alertSvc,
		Engine:    engine,
		Version:   Version,
	})

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

	// Stop background consumers first
	analyzerSvc.Stop()
	profileSvc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadConfig builds the configuration from tier defaults plus environment
// overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_CLASSIFIER_URL"); v != "" {
		cfg.Analyzer.ClassifierURL = v
	}

	return cfg
}

// loadRulesFromDatabase loads enabled custom rules into the engine.
// All rules are configured via POST /rules - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRiskRules(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.ReloadRules(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║     P2P Fraud Risk Scoring Engine         ║")
	fmt.Println("  ║     Every transfer, weighed first.        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /assess                      - Pre-transaction risk assessment")
	fmt.Println("    POST /transactions                - Record a completed transfer")
	fmt.Println("    POST /transactions/{id}/analyze   - Re-run post-transaction analysis")
	fmt.Println("    GET  /transactions/{id}/analyses  - Analysis log for a transfer")
	fmt.Println("    POST /blacklist/report            - Report a fraudulent identifier")
	fmt.Println("    GET  /blacklist/{identifier}      - Look up a blacklist entry")
	fmt.Println("    POST /contacts                    - Add a contact")
	fmt.Println("    GET  /alerts                      - List alerts")
	fmt.Println("    POST /alerts/{id}/status          - Update alert status")
	fmt.Println("    GET  /rules                       - List custom rules")
	fmt.Println("    POST /rules                       - Create a custom rule")
	fmt.Println("    POST /rules/reload                - Hot-reload rules from database")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println()
}
