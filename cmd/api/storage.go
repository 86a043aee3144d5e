// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taibuivan/schedula/internal/api"
	"github.com/taibuivan/schedula/internal/platform/config"
	"github.com/taibuivan/schedula/internal/platform/migration"
	"github.com/taibuivan/schedula/internal/platform/postgres"
	"github.com/taibuivan/schedula/internal/platform/sqlite"
	"github.com/taibuivan/schedula/internal/users/auth"
)

// storage is the relational backend selected by DATABASE_DRIVER.
type storage struct {
	users  auth.UserRepository
	tokens auth.RefreshTokenRepository
	check  api.Check
	close  func()
}

// openStorage connects to the configured database. With migrate set, the
// Postgres schema is brought up to date first; the SQLite schema is always
// created if missing.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger, migrate bool) (*storage, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		store := auth.NewSQLStore(db)
		if err := store.Init(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &storage{
			users:  store.Users(),
			tokens: store.RefreshTokens(),
			check:  api.Check{Name: "sqlite", Run: store.Ping},
			close:  func() { _ = db.Close() },
		}, nil

	case config.DriverPostgres:
		if migrate {
			if err := migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		return &storage{
			users:  auth.NewPostgresUserRepository(pool),
			tokens: auth.NewPostgresRefreshTokenRepository(pool),
			check: api.Check{Name: "postgres", Run: func(ctx context.Context) error {
				return postgres.Ping(ctx, pool)
			}},
			close: pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}
