// Command replay reads the recent bus backlog the way the processor does on
// startup and prints what it would apply, optionally for one token.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/config"
	"click-datastreams/internal/domain"
	"click-datastreams/internal/ingestion"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/replay"
)

type eventLine struct {
	Topic    string       `json:"topic"`
	Offset   int64        `json:"offset"`
	Kind     string       `json:"kind"`
	Token    string       `json:"token"`
	Time     int64        `json:"time"`
	Event    domain.Event `json:"event"`
	Received string       `json:"received"`
}

func main() {
	configPath := flag.String("config", os.Getenv("DATASTREAMS_CONFIG"), "Path to YAML config file")
	lookback := flag.Duration("lookback", 0, "How far back to read (defaults to bus.replay_lookback)")
	token := flag.String("token", "", "Only print events of this token")
	printEvents := flag.Bool("events", false, "Print every decoded event as a JSON line")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger().WithComponent("replay")

	if *lookback <= 0 {
		*lookback = cfg.Bus.ReplayLookback
	}

	kb, err := bus.NewKafkaBus(bus.KafkaConfig{Brokers: cfg.Bus.Brokers})
	if err != nil {
		log.WithError(err).Error("Failed to open bus")
		os.Exit(1)
	}
	defer kb.Close()

	runner, err := replay.NewRunner(replay.Options{Bus: kb, Lookback: *lookback})
	if err != nil {
		log.WithError(err).Error("Failed to create replay runner")
		os.Exit(1)
	}
	adapter := ingestion.NewAdapter(ingestion.AdapterOptions{StaleAfter: cfg.Processor.StaleAfter})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	perTopic := make(map[string]int)
	failures := make(map[string]int)
	enc := json.NewEncoder(os.Stdout)

	n, err := runner.Replay(ctx, func(msg bus.Message) error {
		perTopic[msg.Topic]++
		env, err := adapter.Decode(msg)
		if err != nil {
			failures[string(ingestion.KindOf(err))]++
			return nil
		}
		if *token != "" && env.Event.TokenKey() != *token {
			return nil
		}
		if *printEvents {
			return enc.Encode(eventLine{
				Topic:    msg.Topic,
				Offset:   msg.Offset,
				Kind:     string(env.Event.Kind()),
				Token:    env.Event.TokenKey(),
				Time:     env.Event.EventTime(),
				Event:    env.Event,
				Received: msg.Time.UTC().Format(time.RFC3339Nano),
			})
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("Replay failed")
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "replayed %d messages from the last %s\n", n, lookback.String())
	printCounts("per topic", perTopic)
	printCounts("decode failures", failures)
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(os.Stderr, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(os.Stderr, "  %-40s %d\n", k, counts[k])
	}
}
