// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command api is the entry point for the Schedula authentication service.
//
// # Commands
//
//   - serve (default): run the HTTP API and the cleanup sweeper.
//   - migrate up|down|version: manage the Postgres schema.
//   - sweep: delete revoked and expired refresh tokens once.
//   - seed-user: create an account with a bcrypt-hashed password.
//   - version: print build information.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/taibuivan/schedula/internal/platform/config"
	"github.com/taibuivan/schedula/internal/platform/constants"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "schedula-auth",
		Short:         "Schedula authentication and session service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		sweepCmd(),
		seedUserCmd(),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", constants.AppName, constants.AppVersion)
		},
	}
}

// bootstrap loads the configuration and builds the JSON logger.
func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Debug("debug_logging_enabled")
	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("database_driver", cfg.DatabaseDriver),
	)
	return cfg, log, nil
}
