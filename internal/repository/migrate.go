package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// RunMigrations applies command (up, down, status, redo) to the audit database.
func RunMigrations(ctx context.Context, dsn string, command string, logger *zap.Logger) error {
	migrationCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("sql open: %w", err)
	}
	defer func() { _ = db.Close() }()

	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	logger.Info("starting migrations", zap.String("command", command))

	switch command {
	case "up":
		results, err := provider.Up(migrationCtx)
		for _, r := range results {
			logMigration(logger, r)
		}
		if err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
	case "down":
		r, err := provider.Down(migrationCtx)
		if err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
		logMigration(logger, r)
	case "redo":
		r, err := provider.Down(migrationCtx)
		if err != nil {
			return fmt.Errorf("goose redo (down): %w", err)
		}
		logMigration(logger, r)
		if r, err = provider.UpByOne(migrationCtx); err != nil {
			return fmt.Errorf("goose redo (up): %w", err)
		}
		logMigration(logger, r)
	case "status":
		statuses, err := provider.Status(migrationCtx)
		if err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
		for _, s := range statuses {
			logger.Info("migration",
				zap.Int64("version", s.Source.Version),
				zap.String("path", s.Source.Path),
				zap.String("state", string(s.State)),
			)
		}
	default:
		return fmt.Errorf("unknown migration command %q (up|down|status|redo)", command)
	}

	return nil
}

func logMigration(logger *zap.Logger, r *goose.MigrationResult) {
	if r == nil || r.Source == nil {
		return
	}
	logger.Info("migration applied",
		zap.Int64("version", r.Source.Version),
		zap.String("direction", r.Direction),
		zap.Duration("took", r.Duration),
		zap.Error(r.Error),
	)
}
