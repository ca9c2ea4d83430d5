package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/kozaktomas/facegraph/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func (p *Pool) ensureMigrationsTable(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

// Migrate applies the pending embedded migrations, each in its own transaction, and returns
// the versions it applied. A nil logger discards progress.
func (p *Pool) Migrate(ctx context.Context, logger *log.Logger) ([]string, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if err := p.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := p.MigrationsApplied(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := database.PendingMigrations(migrationsFS, "migrations", applied)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		logger.Debug("schema up to date", "driver", "postgres", "applied", len(applied))
		return nil, nil
	}

	var done []string
	for _, m := range pending {
		start := time.Now()
		if err := p.applyMigration(ctx, m); err != nil {
			logger.Error("migration failed", "driver", "postgres", "version", m.Version, "err", err)
			return done, err
		}
		logger.Info("migration applied", "driver", "postgres", "version", m.Version, "took", time.Since(start))
		done = append(done, m.Version)
	}
	return done, nil
}

// applyMigration runs one file and records it atomically. PostgreSQL DDL is transactional.
func (p *Pool) applyMigration(ctx context.Context, m database.Migration) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("execute migration %s: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Version, err)
	}
	return nil
}

// MigrationsApplied lists the recorded migration versions in order.
func (p *Pool) MigrationsApplied(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	versions := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration versions: %w", err)
	}
	return versions, nil
}
