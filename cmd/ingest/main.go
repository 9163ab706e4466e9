// Command ingest relays the Hyperliquid trades feed onto hyperliquid.fills.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/config"
	"click-datastreams/internal/hyperliquid"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("DATASTREAMS_CONFIG"), "Path to YAML config file")
	coins := flag.String("coins", "", "Comma-separated coins, overrides hyperliquid.coins")
	metricsAddr := flag.String("metrics-addr", ":9091", "Prometheus metrics HTTP address (empty to disable)")
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

	coinList := cfg.Hyperliquid.Coins
	if *coins != "" {
		coinList = nil
		for _, c := range strings.Split(*coins, ",") {
			if c = strings.TrimSpace(c); c != "" {
				coinList = append(coinList, strings.ToUpper(c))
			}
		}
	}

	kb, err := bus.NewKafkaBus(bus.KafkaConfig{Brokers: cfg.Bus.Brokers})
	if err != nil {
		log.WithError(err).Error("Failed to open bus")
		os.Exit(1)
	}
	defer kb.Close()

	opts := hyperliquid.DefaultOptions()
	if cfg.Hyperliquid.WSURL != "" {
		opts.URL = cfg.Hyperliquid.WSURL
	}
	opts.Coins = coinList
	relay, err := hyperliquid.NewRelay(kb, opts)
	if err != nil {
		log.WithError(err).Error("Failed to create relay")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	if *metricsAddr != "" {
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				<-gctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdown)
			}()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	log.WithFields(logger.Fields{"coins": coinList, "url": opts.URL}).Info("Hyperliquid relay starting")
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Relay exited with error")
		os.Exit(1)
	}
	log.WithField("fills", relay.Relayed()).Info("Relay stopped")
}
