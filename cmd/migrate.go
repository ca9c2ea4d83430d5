package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/kozaktomas/facegraph/internal/database/mariadb"
	"github.com/kozaktomas/facegraph/internal/database/postgres"
	"github.com/kozaktomas/facegraph/internal/logging"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply the embedded schema migrations to the configured database.

The serve command migrates on startup as well; this command is meant for
deployments that run migrations as a separate step.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("status", false, "Only list applied migrations")
}

// migrator is the part of a connection pool the migrate command needs.
type migrator interface {
	Migrate(ctx context.Context, logger *log.Logger) ([]string, error)
	MigrationsApplied(ctx context.Context) ([]string, error)
	Close() error
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var pool migrator
	switch cfg.Database.Driver {
	case "postgres":
		pool, err = postgres.NewPool(ctx, &cfg.Database)
	case "mariadb":
		pool, err = mariadb.NewPool(ctx, &cfg.Database)
	default:
		fmt.Printf("Driver %q has no schema, nothing to migrate\n", cfg.Database.Driver)
		return nil
	}
	if err != nil {
		return err
	}
	defer pool.Close()

	if mustGetBool(cmd, "status") {
		applied, err := pool.MigrationsApplied(ctx)
		if err != nil {
			return fmt.Errorf("listing %s migrations: %w", cfg.Database.Driver, err)
		}
		for _, name := range applied {
			fmt.Println(name)
		}
		fmt.Printf("\nTotal: %d migrations applied\n", len(applied))
		return nil
	}

	applied, err := pool.Migrate(ctx, logging.With(logger, "cmd", "migrate"))
	if err != nil {
		return fmt.Errorf("migrating %s: %w", cfg.Database.Driver, err)
	}
	if len(applied) == 0 {
		fmt.Println("Database is up to date")
		return nil
	}
	fmt.Printf("Applied %d migrations\n", len(applied))
	return nil
}
