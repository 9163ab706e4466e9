// Command migrate applies the embedded ClickHouse and Postgres migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"click-datastreams/internal/config"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/storage/migrations"
	pgstore "click-datastreams/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("DATASTREAMS_CONFIG"), "Path to YAML config file")
	only := flag.String("only", "", "Restrict to one database: clickhouse or postgres")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger().WithComponent("migrate")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if cfg.ClickHouse.Enabled && *only != "postgres" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			log.WithError(err).Error("ClickHouse migrations failed")
			os.Exit(1)
		}
		_ = conn.Close()
	}

	if cfg.Postgres.Enabled && *only != "clickhouse" {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN, 2)
		if err != nil {
			log.WithError(err).Error("Postgres connection failed")
			os.Exit(1)
		}
		err = migrations.RunPostgresMigrations(ctx, pool)
		pool.Close()
		if err != nil {
			log.WithError(err).Error("Postgres migrations failed")
			os.Exit(1)
		}
	}
	log.Info("Migrations complete")
}
