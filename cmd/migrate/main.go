package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/liamcoop/rulebook/internal/config"
	"github.com/liamcoop/rulebook/internal/logger"
)

type migrateOptions struct {
	DatabaseURL    string `env:"DATABASE_URL"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"migrations"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"INFO"`
}

func newRootCommand() *cobra.Command {
	opts := &migrateOptions{}

	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the catalog and firing-log schema to PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Flags win over the environment
	envOpts := migrateOptions{}
	if err := config.ParseEnv(&envOpts); err != nil {
		logger.Warn("ignoring migrate environment", "error", err)
	}
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database", envOpts.DatabaseURL, "database URL (default $DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.MigrationsPath, "path", envOpts.MigrationsPath, "path to migrations directory")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", envOpts.LogLevel, "log level (TRACE, DEBUG, INFO, WARN, ERROR)")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(opts.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		return nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrate(opts, func(m *migrate.Migrate) error {
					logger.Info("running migrations up")
					err := m.Up()
					if errors.Is(err, migrate.ErrNoChange) {
						logger.Info("no migrations to run, database is up to date")
						return nil
					}
					if err != nil {
						return fmt.Errorf("failed to run migrations: %w", err)
					}
					logger.Info("migrations completed")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrate(opts, func(m *migrate.Migrate) error {
					logger.Info("rolling back migrations")
					if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
						return fmt.Errorf("failed to roll back migrations: %w", err)
					}
					logger.Info("rollback completed")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrate(opts, func(m *migrate.Migrate) error {
					version, dirty, err := m.Version()
					if err != nil {
						return fmt.Errorf("failed to get version: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %v)\n", version, dirty)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version number %q: %w", args[0], err)
				}
				return withMigrate(opts, func(m *migrate.Migrate) error {
					if err := m.Force(version); err != nil {
						return fmt.Errorf("failed to force version: %w", err)
					}
					logger.Info("forced schema version", "version", version)
					return nil
				})
			},
		},
	)

	return cmd
}

func withMigrate(opts *migrateOptions, fn func(*migrate.Migrate) error) error {
	if opts.DatabaseURL == "" {
		return errors.New("database URL is required: use --database or DATABASE_URL")
	}

	logger.Info("connecting to database", "migrations", opts.MigrationsPath)
	m, err := migrate.New("file://"+opts.MigrationsPath, opts.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	return fn(m)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}
