package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/flowboard/internal/adapter/postgres"
	"github.com/Strob0t/flowboard/internal/adapter/sqlite"
	"github.com/Strob0t/flowboard/internal/config"
	"github.com/Strob0t/flowboard/internal/port/database"
)

// openStore connects the configured storage backend and applies pending
// migrations. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (database.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("sqlite opened", "path", cfg.SQLite.Path)
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected")

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")
		return postgres.NewStore(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// migrationVersion reports the schema version of the configured backend.
func migrationVersion(ctx context.Context, cfg *config.Config, store database.Store) (int64, error) {
	if s, ok := store.(*sqlite.Store); ok {
		return s.MigrationVersion(ctx)
	}
	return postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
}
