// Command processor runs the stream processor: it consumes the raw bus topics,
// maintains per-token state and candles, publishes the derived streams and
// sinks rows to the columnar store.
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

	"click-datastreams/internal/archive"
	"click-datastreams/internal/bus"
	"click-datastreams/internal/candle"
	"click-datastreams/internal/classification"
	"click-datastreams/internal/config"
	"click-datastreams/internal/ingestion"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
	"click-datastreams/internal/processor"
	"click-datastreams/internal/publisher"
	"click-datastreams/internal/replay"
	"click-datastreams/internal/server"
	"click-datastreams/internal/state"
	"click-datastreams/internal/storage"
	chstore "click-datastreams/internal/storage/clickhouse"
	"click-datastreams/internal/storage/memory"
	pgstore "click-datastreams/internal/storage/postgres"
)

// stores holds every store the processor writes to.
type stores struct {
	sink            storage.Stores
	deadLetters     ingestion.DeadLetterStore
	classifications storage.ClassificationStore
	archiveProgress storage.ArchiveProgressStore
	checks          map[string]server.Check
	close           func()
}

func main() {
	configPath := flag.String("config", os.Getenv("DATASTREAMS_CONFIG"), "Path to YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use the in-memory bus and stores")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *useMemory {
		cfg.Bus.Driver = "memory"
		cfg.ClickHouse.Enabled = false
		cfg.Postgres.Enabled = false
		cfg.Archive.Enabled = false
	}

	if err := logger.GetLogger().Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger().WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Error("Processor exited with error")
		os.Exit(1)
	}
	log.Info("Processor stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.GetLogger().WithComponent("main")

	b, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	dead := ingestion.NewDeadLetterWriter(ingestion.DeadLetterOptions{
		Producer:   b,
		Store:      st.deadLetters,
		Topic:      cfg.Bus.DeadLetterTopic,
		RatePerSec: cfg.Bus.DeadLetterRate,
	})

	pub := publisher.New(b, dead, publisher.Options{
		BufferSize:      cfg.Publisher.BufferSize,
		PublishTimeout:  cfg.Publisher.PublishTimeout,
		BatchSize:       cfg.Publisher.BatchSize,
		BatchTimeout:    cfg.Publisher.BatchTimeout,
		MaxRetries:      cfg.Pipeline.MaxRetries,
		RetryBackoff:    cfg.Pipeline.RetryBackoff(),
		RetryMaxBackoff: cfg.Pipeline.RetryMaxBackoff(),
	})

	sink := storage.NewSink(st.sink, storage.SinkOptions{
		BatchSize:       cfg.Pipeline.BatchSize,
		FlushInterval:   cfg.Pipeline.BatchTimeout(),
		MaxRetries:      cfg.Pipeline.MaxRetries,
		RetryBackoff:    cfg.Pipeline.RetryBackoff(),
		RetryMaxBackoff: cfg.Pipeline.RetryMaxBackoff(),
		DeadLetters:     dead,
	})

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		uploader, err := archive.NewS3Uploader(ctx, archive.S3Options{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			PathStyle:       cfg.Archive.PathStyle,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		archiver = archive.New(uploader, st.archiveProgress, archive.Options{
			Prefix:        cfg.Archive.Prefix,
			FlushInterval: cfg.Archive.FlushInterval,
			MaxRows:       cfg.Archive.MaxRows,
		})
	}

	replayer, err := replay.NewRunner(replay.Options{Bus: b, Lookback: cfg.Bus.ReplayLookback})
	if err != nil {
		return err
	}

	opts := processor.Options{
		Bus:         b,
		Adapter:     ingestion.NewAdapter(ingestion.AdapterOptions{StaleAfter: cfg.Processor.StaleAfter}),
		Publisher:   pub,
		Sink:        sink,
		DeadLetters: dead,
		Replayer:    replayer,
		Seed:        st.sink.Candles,

		GroupID:       cfg.Bus.GroupID,
		ConsumerCount: cfg.Pipeline.ConsumerCount,

		Shards:      cfg.Processor.Shards,
		ShardBuffer: cfg.Processor.ShardBuffer,
		SlotLag:     cfg.Processor.SlotLagWindow,
		DedupSize:   cfg.Dedup.WindowSize,
		DedupTTL:    cfg.Dedup.WindowTTL,
		State: state.Options{
			ConcentrationThreshold: cfg.Risk.ConcentrationThreshold,
			DevHoldingThreshold:    cfg.Risk.DevHoldingThreshold,
			LowLiquidity:           cfg.Risk.LowLiquidity,
			ActiveVolumeMultiplier: cfg.Processor.ActiveVolumeMultiplier,
		},
		Candles: candle.Options{
			Timeframes: cfg.TimeframeSet(),
			Grace:      cfg.Processor.CandleGrace,
		},

		TickInterval:     cfg.Processor.TickInterval,
		MetricsInterval:  cfg.Processor.MetricsPublishInterval,
		FailureThreshold: cfg.Processor.ShardFailureThreshold,
		RetryBackoff:     cfg.Pipeline.RetryBackoff(),
		RetryMaxBackoff:  cfg.Pipeline.RetryMaxBackoff(),
	}
	if archiver != nil {
		opts.Archive = archiver
	}
	proc := processor.New(opts)

	st.checks["shards"] = func(context.Context) error {
		for _, h := range proc.Health() {
			if h.Status == processor.StatusHalted {
				return fmt.Errorf("shard %d halted: %s", h.Shard, h.Reason)
			}
		}
		return nil
	}

	// Output stages outlive the processor so that its shutdown drain lands.
	outCtx, stopOutputs := context.WithCancel(context.Background())
	defer stopOutputs()
	outputs, outCtx := errgroup.WithContext(outCtx)
	outputs.Go(func() error { pub.Run(outCtx); return nil })
	outputs.Go(func() error { sink.Run(outCtx); return nil })
	outputs.Go(func() error { dead.Run(outCtx); return nil })
	if archiver != nil {
		outputs.Go(func() error { archiver.Run(outCtx); return nil })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error { return serveOps(gctx, cfg.Server.MetricsAddr, st.checks) })
	if cfg.Classification.Enabled {
		c := cfg.Classification
		job := classification.NewJob(proc, st.classifications, classification.NewClassifier(classification.Config{
			SniperSlots:       c.SniperSlots,
			BundlerMinWallets: c.BundlerMinWallets,
			FreshWindowMs:     c.FreshWindow.Milliseconds(),
			WhaleShare:        c.WhaleShare,
			KOLWallets:        c.KOLWallets,
		}), classification.JobOptions{Interval: c.Interval, MaxRetries: cfg.Pipeline.MaxRetries})
		g.Go(func() error { return job.Run(gctx) })
	}

	log.WithFields(logger.Fields{
		"shards":     cfg.Processor.Shards,
		"bus":        cfg.Bus.Driver,
		"clickhouse": cfg.ClickHouse.Enabled,
		"postgres":   cfg.Postgres.Enabled,
		"archive":    cfg.Archive.Enabled,
	}).Info("Processor starting")

	runErr := g.Wait()
	stopOutputs()
	_ = outputs.Wait()
	return runErr
}

func openBus(cfg *config.Config) (bus.Bus, error) {
	switch cfg.Bus.Driver {
	case "memory":
		return bus.NewMemoryBus(100_000), nil
	case "kafka", "":
		return bus.NewKafkaBus(bus.KafkaConfig{
			Brokers:      cfg.Bus.Brokers,
			BatchSize:    cfg.Publisher.BatchSize,
			BatchTimeout: cfg.Publisher.BatchTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{checks: make(map[string]server.Check)}
	var closers []func()
	st.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.ClickHouse.Enabled {
		conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		trades := chstore.NewTradeStore(conn)
		st.sink = storage.Stores{
			Trades:    trades,
			Transfers: trades,
			Candles:   chstore.NewCandleStore(conn),
			Metrics:   chstore.NewTokenMetricsStore(conn),
		}
		st.deadLetters = chstore.NewDeadLetterStore(conn)
		st.checks["clickhouse"] = conn.Ping
	} else {
		trades := memory.NewTradeStore()
		st.sink = storage.Stores{
			Trades:    trades,
			Transfers: trades,
			Candles:   memory.NewCandleStore(),
			Metrics:   memory.NewTokenMetricsStore(),
		}
	}

	if cfg.Postgres.Enabled {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		st.classifications = pgstore.NewClassificationStore(pool)
		st.archiveProgress = pgstore.NewArchiveProgressStore(pool)
		st.checks["postgres"] = pool.Ping
	} else {
		st.classifications = memory.NewClassificationStore()
		st.archiveProgress = memory.NewArchiveProgressStore()
	}
	return st, nil
}

// serveOps exposes /metrics and /health until ctx is cancelled.
func serveOps(ctx context.Context, addr string, checks map[string]server.Check) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	r := chi.NewRouter()
	r.Handle("/metrics", observability.Handler())
	r.Get("/health", server.HealthHandler(checks))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.GetLogger().WithComponent("main").WithField("addr", addr).Info("Ops server listening")
		errCh <- srv.ListenAndServe()
	}()
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
