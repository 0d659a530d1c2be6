// Package main is the entry point of the Campus Hub points engine API.
//
// The process serves the points, leaderboard and achievement API over HTTP,
// accepts producer events on the webhook, and pushes notifications through
// Redis pub/sub when Redis is configured.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/campushub/campus-hub/config"
	"github.com/campushub/campus-hub/internal/bootstrap"
	httpapi "github.com/campushub/campus-hub/internal/interface/http"
	"github.com/campushub/campus-hub/internal/interface/http/handlers"
	"github.com/campushub/campus-hub/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION + LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logOpts := logger.DefaultOptions()
	logOpts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	logOpts.Format = logger.Format(cfg.Observability.LogFormat)
	logOpts.AddSource = cfg.Observability.AddSource
	log := logger.New(logOpts)
	log.Info("starting Campus Hub points engine",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"driver", cfg.Database.Driver,
	)
	for _, f := range cfg.Features.All() {
		log.Debug("feature", "name", f.Name, "rollout", f.Rollout)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ENGINE + INFRASTRUCTURE
	// ─────────────────────────────────────────────────────────────────────────
	rt, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer func() {
		log.Info("closing engine resources...")
		if err := rt.Close(); err != nil {
			log.Error("close failed", "error", err)
		}
	}()

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	for name, hc := range rt.HealthChecks() {
		if hc.Critical {
			health.AddCheck(name, hc.Check)
		} else {
			health.AddOptionalCheck(name, hc.Check)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	serverCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	serverCfg.APIKeyHeader = cfg.HTTP.APIKeyHeader
	serverCfg.APIKeys = cfg.HTTP.APIKeys
	if len(serverCfg.APIKeys) == 0 {
		log.Warn("no API keys configured, write and admin routes will reject every request")
	}

	server := httpapi.NewServer(serverCfg, httpapi.Dependencies{
		Engine:        rt.Engine,
		HealthChecker: health,
		Logger:        log,
	})
	errCh := server.StartAsync()

	log.Info("Campus Hub points engine is running", "address", serverCfg.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	log.Info("starting graceful shutdown...",
		"timeout", cfg.App.ShutdownTimeout.String(),
		"uptime", server.Uptime().String(),
	)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}

	log.Info("shutdown completed")
	return nil
}
