// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taibuivan/schedula/internal/api"
	"github.com/taibuivan/schedula/internal/platform/broker"
	"github.com/taibuivan/schedula/internal/platform/constants"
	"github.com/taibuivan/schedula/internal/platform/metrics"
	"github.com/taibuivan/schedula/internal/platform/ratelimit"
	redisstore "github.com/taibuivan/schedula/internal/platform/redis"
	"github.com/taibuivan/schedula/internal/platform/sec"
	"github.com/taibuivan/schedula/internal/users/auth"
)

// startupTimeout bounds connecting to every dependency.
const startupTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cleanup sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe wires every dependency and blocks until SIGINT/SIGTERM.
//
// # Startup Sequence
//
//  1. Configuration and logger.
//  2. Database (migrations applied) and Redis.
//  3. Token issuer, limiter, metrics and the optional AMQP publisher.
//  4. HTTP server and sweeper, stopped together on shutdown.
func runServe(parent context.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancelStartup := context.WithTimeout(ctx, startupTimeout)
	defer cancelStartup()

	// ── Storage ───────────────────────────────────────────────────────────
	store, err := openStorage(startupCtx, cfg, log, true)
	if err != nil {
		return err
	}
	defer store.close()

	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error("redis_close_failed", slog.Any("error", err))
		}
	}()

	// ── Auth core ─────────────────────────────────────────────────────────
	issuer, err := sec.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}

	credentials, err := auth.NewCredentialVerifier(store.users, cfg.BcryptCost)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewSlidingWindow(rdb, ratelimit.Options{
		Limit:  cfg.LoginRateLimit,
		Window: cfg.LoginRateWindow,
		Prefix: cfg.RateLimitPrefix,
	})
	log.Info("login_rate_limit_configured", slog.String("limit", limiter.String()))

	registry := metrics.NewRegistry()
	authMetrics := metrics.NewAuthMetrics(registry)

	deps := auth.ServiceDependencies{
		Users:        store.users,
		Tokens:       store.tokens,
		Limiter:      limiter,
		Credentials:  credentials,
		Fingerprints: auth.NewFingerprintManager(),
		Issuer:       issuer,
		Metrics:      authMetrics,
		Logger:       log,
	}

	if cfg.AMQPURL != "" {
		publisher, err := broker.Dial(cfg.AMQPURL, log)
		if err != nil {
			return err
		}
		defer func() { _ = publisher.Close() }()
		deps.Events = publisher
	} else {
		log.Info("security_events_disabled")
	}

	service := auth.NewService(deps)

	// ── HTTP ──────────────────────────────────────────────────────────────
	liveness, readiness := api.NewHealthHandlers([]api.Check{
		store.check,
		{Name: "redis", Run: func(ctx context.Context) error { return redisstore.Ping(ctx, rdb) }},
	}, log)

	server := api.NewServer(ctx, cfg, log, api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Metrics:   metrics.Handler(registry),
		Auth:      auth.NewHandler(service, auth.HandlerOptions{SecureCookies: cfg.IsProduction()}),
	})

	go auth.NewSweeper(store.tokens, cfg.CleanupInterval, authMetrics, log).Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown_signal_received")
	case err := <-serverErr:
		log.Error("server_failed", slog.Any("error", err))
		return err
	}

	log.Info("server_shutting_down", slog.Duration("timeout", constants.ShutdownTimeout))
	if err := server.Shutdown(constants.ShutdownTimeout); err != nil {
		return err
	}

	log.Info("server_stopped")
	return nil
}
