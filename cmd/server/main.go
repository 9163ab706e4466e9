// Command server is the stateless read gateway: candles, token metrics and
// trades from ClickHouse, wallet classifications from Postgres, and a
// websocket stream of the derived bus topics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/config"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
	"click-datastreams/internal/server"
	chstore "click-datastreams/internal/storage/clickhouse"
	"click-datastreams/internal/storage/memory"
	pgstore "click-datastreams/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("DATASTREAMS_CONFIG"), "Path to YAML config file")
	useMemory := flag.Bool("use-memory", false, "Serve from empty in-memory stores (local development)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.GetLogger().Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger().WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *useMemory); err != nil {
		log.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
	log.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, useMemory bool) error {
	stores := server.Stores{}
	checks := map[string]server.Check{}

	switch {
	case useMemory:
		stores.Candles = memory.NewCandleStore()
		stores.Metrics = memory.NewTokenMetricsStore()
		stores.Trades = memory.NewTradeStore()
		stores.Classifications = memory.NewClassificationStore()
	default:
		if cfg.ClickHouse.Enabled {
			conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
			if err != nil {
				return fmt.Errorf("clickhouse: %w", err)
			}
			defer conn.Close()
			stores.Candles = chstore.NewCandleStore(conn)
			stores.Metrics = chstore.NewTokenMetricsStore(conn)
			stores.Trades = chstore.NewTradeStore(conn)
			checks["clickhouse"] = conn.Ping
		}
		if cfg.Postgres.Enabled {
			pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer pool.Close()
			stores.Classifications = pgstore.NewClassificationStore(pool)
			checks["postgres"] = pool.Ping
		}
	}

	opts := server.Options{StaleAfter: cfg.Server.StaleAfter, Checks: checks}
	if !useMemory && len(cfg.Bus.Brokers) > 0 {
		kb, err := bus.NewKafkaBus(bus.KafkaConfig{Brokers: cfg.Bus.Brokers})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer kb.Close()
		opts.Bus = kb
	}

	srv := server.New(stores, opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, cfg.Server.HTTPAddr) })
	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr) })
	}
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string) error {
	r := chi.NewRouter()
	r.Handle("/metrics", observability.Handler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
