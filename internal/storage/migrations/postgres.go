package migrations

import (
	"context"
	"fmt"

	"click-datastreams/internal/logger"
	"click-datastreams/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded PostgreSQL schema (wallet
// classifications, archive progress). Every file is idempotent.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	log := logger.GetLogger().WithComponent("migrations")

	files, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := pool.Exec(ctx, f.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.name, err)
		}
		log.WithField("file", f.name).Info("Applied postgres migration")
	}
	return nil
}
