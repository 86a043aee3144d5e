// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/taibuivan/schedula/internal/platform/apperr"
	"github.com/taibuivan/schedula/internal/platform/config"
	"github.com/taibuivan/schedula/internal/platform/migration"
	"github.com/taibuivan/schedula/internal/platform/sec"
	"github.com/taibuivan/schedula/internal/platform/validate"
	"github.com/taibuivan/schedula/internal/users/auth"
	"github.com/taibuivan/schedula/pkg/uuid"
)

var errPostgresOnly = errors.New("this migrate command requires DATABASE_DRIVER=postgres")

// # Migrations

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			if cfg.DatabaseDriver == config.DriverSQLite {
				store, err := openStorage(cmd.Context(), cfg, log, true)
				if err != nil {
					return err
				}
				store.close()
				return nil
			}
			return migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				parsed, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("steps must be a number: %w", err)
				}
				steps = parsed
			}

			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			if cfg.DatabaseDriver != config.DriverPostgres {
				return errPostgresOnly
			}
			return migration.RunDown(cfg.DatabaseURL, cfg.MigrationPath, steps, log)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			if cfg.DatabaseDriver != config.DriverPostgres {
				return errPostgresOnly
			}
			version, dirty, err := migration.Version(cfg.DatabaseURL, cfg.MigrationPath, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		},
	})

	return cmd
}

// # Maintenance

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete revoked and expired refresh tokens once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}

			store, err := openStorage(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer store.close()

			deleted, err := auth.NewSweeper(store.tokens, cfg.CleanupInterval, nil, log).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d refresh tokens\n", deleted)
			return nil
		},
	}
}

type seedOptions struct {
	email      string
	password   string
	role       string
	customerID string
	employeeID string
}

func seedUserCmd() *cobra.Command {
	var options seedOptions

	cmd := &cobra.Command{
		Use:   "seed-user",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := sec.ParseRole(options.role)

			validator := &validate.Validator{}
			validator.Required(auth.FieldEmail, options.email).
				Email(auth.FieldEmail, options.email).
				Required(auth.FieldPassword, options.password).
				MinLen(auth.FieldPassword, options.password, 8).
				Custom(auth.FieldPassword, len(options.password) > auth.MaxPasswordBytes, "Maximum 72 bytes").
				OneOf(auth.FieldRole, string(role), string(sec.RoleCustomer), string(sec.RoleEmployee), string(sec.RoleAdmin))
			if err := validator.Err(); err != nil {
				return fmt.Errorf("%w: %+v", err, apperr.As(err).Details)
			}

			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}

			store, err := openStorage(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer store.close()

			credentials, err := auth.NewCredentialVerifier(store.users, cfg.BcryptCost)
			if err != nil {
				return err
			}
			hash, err := credentials.Hash(options.password)
			if err != nil {
				return err
			}

			user := &auth.User{
				ID:           uuid.New(),
				Email:        auth.NormalizeEmail(options.email),
				PasswordHash: hash,
				Role:         role,
				CustomerID:   options.customerID,
				EmployeeID:   options.employeeID,
			}
			if err := store.users.Create(cmd.Context(), user); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Email, user.ID)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.email, "email", "test@example.com", "Account email")
	flags.StringVar(&options.password, "password", "", "Account password")
	flags.StringVar(&options.role, "role", string(sec.RoleCustomer), "CUSTOMER, EMPLOYEE or ADMIN")
	flags.StringVar(&options.customerID, "customer-id", "", "Linked customer profile")
	flags.StringVar(&options.employeeID, "employee-id", "", "Linked employee profile")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
