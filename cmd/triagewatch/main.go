package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/triagewatch/triagewatch/internal/api"
	"github.com/triagewatch/triagewatch/internal/authflow"
	"github.com/triagewatch/triagewatch/internal/config"
	"github.com/triagewatch/triagewatch/internal/digest"
	"github.com/triagewatch/triagewatch/internal/fetch"
	"github.com/triagewatch/triagewatch/internal/notify"
	"github.com/triagewatch/triagewatch/internal/observability"
	"github.com/triagewatch/triagewatch/internal/rules"
	"github.com/triagewatch/triagewatch/internal/scheduler"
	"github.com/triagewatch/triagewatch/internal/statestore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel)
	logger.Info("starting triagewatch",
		"watch_path", cfg.WatchPath,
		"log_level", cfg.Observability.LogLevel)

	_ = observability.GetMetrics()
	logger.Debug("metrics initialized",
		"metrics_port", cfg.Observability.MetricsPort)

	healthChecker := observability.NewHealthChecker(logger)

	healthChecker.RegisterComponent("config")
	healthChecker.RegisterComponent("database")
	healthChecker.RegisterComponent("fetcher")
	healthChecker.RegisterComponent("notifier")
	healthChecker.RegisterComponent("scheduler")

	healthChecker.UpdateComponentHealth("config", observability.StatusHealthy, "")

	obsServer := observability.NewServer(
		cfg.Observability.MetricsPort,
		cfg.Observability.HealthCheckPort,
		logger,
		healthChecker,
	)

	go func() {
		if err := obsServer.Start(ctx); err != nil {
			logger.Error("observability server error",
				"error", err.Error())
		}
	}()

	logger.Debug("observability server started",
		"metrics_port", cfg.Observability.MetricsPort,
		"health_port", cfg.Observability.HealthCheckPort)

	logger.Debug("parsing watch file",
		"path", cfg.WatchPath)
	watch, err := config.ParseWatchFile(cfg.WatchPath)
	if err != nil {
		return fmt.Errorf("failed to parse watch file: %w", err)
	}
	if err := watch.Validate(); err != nil {
		return fmt.Errorf("invalid watch file: %w", err)
	}
	logger.Debug("watch file parsed",
		"components", len(watch.ComponentNames()),
		"rules", len(watch.Rules))

	logger.Debug("initializing state store",
		"path", cfg.StateStore.SQLitePath)
	store, err := statestore.NewSQLiteStore(cfg.StateStore.SQLitePath)
	if err != nil {
		healthChecker.UpdateComponentHealth("database", observability.StatusUnhealthy, err.Error())
		return fmt.Errorf("failed to initialize sqlite store: %w", err)
	}
	healthChecker.UpdateComponentHealth("database", observability.StatusHealthy, "")
	logger.Debug("state store initialized")

	// A crash must never leave the pipeline stuck behind a stale flag, and
	// the first failure after a restart should always notify.
	if err := store.ClearInFlightMarkers(ctx); err != nil {
		logger.Warn("failed to clear in-flight markers",
			"error", err.Error())
	}
	if err := store.ClearErrorHistory(ctx); err != nil {
		logger.Warn("failed to clear error history",
			"error", err.Error())
	}

	logger.Debug("initializing fetch client")
	fetcher, err := fetch.NewClient(watch, cfg.Fetch, logger)
	if err != nil {
		healthChecker.UpdateComponentHealth("fetcher", observability.StatusUnhealthy, err.Error())
		return fmt.Errorf("failed to initialize fetch client: %w", err)
	}
	healthChecker.UpdateComponentHealth("fetcher", observability.StatusHealthy, "")
	logger.Debug("fetch client initialized")

	logger.Debug("initializing rule engine",
		"rules", len(watch.Rules))
	ruleEngine, err := rules.NewEngine(logger, watch.Rules)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	logger.Debug("rule engine initialized")

	digestGen := digest.NewGenerator(store, ruleEngine, logger)

	notifier := notify.NewNotifier(
		cfg.Notify.WebhookURL,
		watch.Services.WorkItemLinkURL,
		cfg.Notify.Timeout,
		store,
		logger,
	)
	healthChecker.UpdateComponentHealth("notifier", observability.StatusHealthy, "")
	logger.Debug("notifier initialized")

	alerter := &authflow.LogAlerter{Logger: logger}
	loginFlow := authflow.NewFlow(
		func() authflow.LoginSurface {
			return authflow.NewFormLoginSurface(
				fetcher.HTTPClient(),
				watch.Auth.LoginURL,
				watch.Auth.TargetURL,
				logger,
			)
		},
		cfg.Credentials,
		alerter,
		store,
		logger,
	)
	logger.Debug("login flow initialized")

	orchestrator := scheduler.NewOrchestrator(
		cfg,
		watch,
		fetcher,
		notifier,
		store,
		digestGen,
		loginFlow,
		logger,
	)
	healthChecker.UpdateComponentHealth("scheduler", observability.StatusHealthy, "")
	logger.Debug("orchestrator initialized")

	var apiServer *api.APIServer
	if cfg.API.Enabled {
		logger.Debug("initializing API server",
			"port", cfg.API.Port,
			"read_only", cfg.API.ReadOnly)
		apiServer = api.NewAPIServer(
			&cfg.API,
			orchestrator,
			digestGen,
			store,
			logger,
		)
		logger.Debug("API server initialized")
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("starting orchestrator")
		if err := orchestrator.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("orchestrator error",
				"error", err.Error())
			errChan <- fmt.Errorf("orchestrator error: %w", err)
		}
		logger.Debug("orchestrator stopped")
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("API server listening",
				"port", cfg.API.Port)
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("API server error",
					"error", err.Error())
				errChan <- fmt.Errorf("API server error: %w", err)
			}
			logger.Debug("API server stopped")
		}()
	}

	logger.Info("all components started successfully")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errChan:
		logger.Error("component error, initiating shutdown",
			"error", err.Error())
		cancel()
	}

	logger.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down API server",
				"error", err.Error())
		}
	}

	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down observability server",
			"error", err.Error())
	}

	if err := store.Close(); err != nil {
		logger.Error("error closing state store",
			"error", err.Error())
	}

	logger.Info("shutdown complete")
	return nil
}
