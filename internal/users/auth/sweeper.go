// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/schedula/internal/platform/metrics"
)

// Sweeper periodically deletes revoked and expired refresh tokens.
type Sweeper struct {
	tokens   RefreshTokenRepository
	interval time.Duration
	metrics  *metrics.AuthMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper builds a sweeper. A non-positive interval falls back to
// [DefaultCleanupInterval].
func NewSweeper(tokens RefreshTokenRepository, interval time.Duration, authMetrics *metrics.AuthMetrics, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		tokens:   tokens,
		interval: interval,
		metrics:  authMetrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled. Failures are logged and
// the loop continues.
func (sweeper *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()

	sweeper.logger.Info("sweeper_started", slog.Duration("interval", sweeper.interval))

	for {
		select {
		case <-ctx.Done():
			sweeper.logger.Info("sweeper_stopped")
			return
		case <-ticker.C:
			_, _ = sweeper.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of rows deleted.
func (sweeper *Sweeper) RunOnce(ctx context.Context) (deleted int64, err error) {
	timer := sweeper.metrics.Start(metrics.OpSweep)
	defer func() { timer.Stop(outcomeOf(err)) }()

	deleted, err = sweeper.tokens.DeleteStale(ctx, sweeper.now().UTC())
	if err != nil {
		sweeper.logger.ErrorContext(ctx, "sweeper_run_failed", slog.String("error", err.Error()))
		return 0, fmt.Errorf("auth_sweeper_delete_failed: %w", err)
	}

	sweeper.metrics.Swept(deleted)
	sweeper.logger.InfoContext(ctx, "sweeper_run_finished", slog.Int64("deleted", deleted))
	return deleted, nil
}
