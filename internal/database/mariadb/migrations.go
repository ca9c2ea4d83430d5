package mariadb

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kozaktomas/facegraph/internal/database"
	"github.com/kozaktomas/facegraph/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// splitStatements splits a migration file into single statements.
// The driver runs without multiStatements, and DDL commits implicitly anyway.
func splitStatements(content string) []string {
	var out []string
	for _, stmt := range strings.Split(content, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func (p *Pool) ensureMigrationsTable(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(191) NOT NULL PRIMARY KEY,
			applied_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
		) ENGINE=InnoDB
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

// Migrate applies the pending embedded migrations and returns the versions it applied.
// MariaDB cannot roll back DDL, so every statement is written to be re-runnable and a
// version is recorded only after all of its statements ran. A nil logger discards progress.
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
		logger.Debug("schema up to date", "driver", "mariadb", "applied", len(applied))
		return nil, nil
	}

	var done []string
	for _, m := range pending {
		start := time.Now()
		stmts := splitStatements(m.SQL)
		for i, stmt := range stmts {
			if _, err := p.db.ExecContext(ctx, stmt); err != nil {
				logger.Error("migration failed", "driver", "mariadb", "version", m.Version, "statement", i+1, "err", err)
				return done, fmt.Errorf("execute migration %s statement %d: %w", m.Version, i+1, err)
			}
		}
		if _, err := p.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			return done, fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		logger.Info("migration applied", "driver", "mariadb", "version", m.Version,
			"statements", len(stmts), "took", time.Since(start))
		done = append(done, m.Version)
	}
	return done, nil
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
