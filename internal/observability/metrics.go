// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsConsumed     *prometheus.CounterVec
	EventsDeadLettered *prometheus.CounterVec
	DeadLettersDropped prometheus.Counter
	DuplicatesDropped  prometheus.Counter
	ReorderBufferSize  *prometheus.GaugeVec
	HighestSlotSeen    prometheus.Gauge

	// State metrics
	InvariantViolations *prometheus.CounterVec
	StalePriceSkipped   prometheus.Counter
	TokensTracked       *prometheus.GaugeVec
	StageChanges        *prometheus.CounterVec

	// Candle metrics
	LateEventsDropped *prometheus.CounterVec
	CandlesFinalized  *prometheus.CounterVec
	CandlesAmended    *prometheus.CounterVec

	// Publisher metrics
	PublishLatency   prometheus.Histogram
	PublishRetries   prometheus.Counter
	PublishTimeouts  prometheus.Counter
	PublishFailures  *prometheus.CounterVec
	OutboundBuffered prometheus.Gauge

	// Store metrics
	StoreFlushRows     *prometheus.CounterVec
	StoreFlushDuration *prometheus.HistogramVec
	StoreFlushErrors   *prometheus.CounterVec
	StoreRowsRejected  *prometheus.CounterVec
	DBQueryDuration    *prometheus.HistogramVec
	DBQueryErrors      *prometheus.CounterVec

	// Classification and archive metrics
	ClassificationRuns  *prometheus.CounterVec
	WalletsClassified   prometheus.Counter
	ArchiveFilesWritten *prometheus.CounterVec

	// Health metrics
	ShardHealthy           *prometheus.GaugeVec
	LastEventProcessed     prometheus.Gauge
	EventProcessingLatency *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "datastreams"
	}

	return &Metrics{
		EventsConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_consumed_total",
			Help:      "Total number of bus messages consumed by topic",
		}, []string{"topic"}),
		EventsDeadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_dead_lettered_total",
			Help:      "Total number of events routed to dead-letter by error kind",
		}, []string{"topic", "error_kind"}),
		DeadLettersDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "dead_letters_dropped_total",
			Help:      "Dead-letter records dropped by the rate limiter or a failed write",
		}),
		DuplicatesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "duplicates_suppressed_total",
			Help:      "Total number of events suppressed as duplicates",
		}),
		ReorderBufferSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "reorder_buffer_events",
			Help:      "Events held in the slot reorder buffer per shard",
		}, []string{"shard"}),
		HighestSlotSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		InvariantViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "invariant_violations_total",
			Help:      "Events discarded because applying them would violate a state invariant",
		}, []string{"event_type", "reason"}),
		StalePriceSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "stale_price_updates_skipped_total",
			Help:      "Trades applied behind the last applied order key whose price update was skipped",
		}),
		TokensTracked: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "tokens_tracked",
			Help:      "Number of token states held per shard",
		}, []string{"shard"}),
		StageChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "stage_changes_total",
			Help:      "Discovery stage transitions by target stage",
		}, []string{"stage"}),

		LateEventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candle",
			Name:      "late_events_dropped_total",
			Help:      "Trades older than the grace period of their bucket",
		}, []string{"timeframe"}),
		CandlesFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candle",
			Name:      "finalized_total",
			Help:      "Candles finalized by timeframe",
		}, []string{"timeframe"}),
		CandlesAmended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candle",
			Name:      "amended_total",
			Help:      "Provisional candles amended by a late trade",
		}, []string{"timeframe"}),

		PublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "event_to_publish_latency_seconds",
			Help:      "Latency from event receipt to bus publication",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}),
		PublishRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "retries_total",
			Help:      "Total number of publish retries",
		}),
		PublishTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "buffer_timeouts_total",
			Help:      "Publish attempts that timed out waiting for outbound buffer space",
		}),
		PublishFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "failures_total",
			Help:      "Messages dead-lettered after exhausting retries",
		}, []string{"topic"}),
		OutboundBuffered: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "outbound_buffered",
			Help:      "Messages waiting in the outbound buffer",
		}),

		StoreFlushRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "flush_rows_total",
			Help:      "Rows flushed to the columnar store by table",
		}, []string{"table"}),
		StoreFlushDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "flush_duration_seconds",
			Help:      "Columnar store batch flush duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table"}),
		StoreFlushErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "flush_errors_total",
			Help:      "Failed columnar store flush attempts by table",
		}, []string{"table"}),
		StoreRowsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rows_rejected_total",
			Help:      "Rows dead-lettered by the sink, by table and reason",
		}, []string{"table", "reason"}),
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		ClassificationRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classification",
			Name:      "runs_total",
			Help:      "Wallet classification runs by status",
		}, []string{"status"}),
		WalletsClassified: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classification",
			Name:      "wallets_classified_total",
			Help:      "Wallet classifications written",
		}),
		ArchiveFilesWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "files_written_total",
			Help:      "Parquet files uploaded to cold storage by timeframe",
		}, []string{"timeframe"}),

		ShardHealthy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "shard_healthy",
			Help:      "1 when the shard worker is running, 0 when halted",
		}, []string{"shard"}),
		LastEventProcessed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_event_processed_timestamp",
			Help:      "Unix timestamp of the last processed event",
		}),
		EventProcessingLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "event_processing_latency_seconds",
			Help:      "Shard event processing latency in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}, []string{"event_type"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordConsumed increments the consumed counter for a topic.
func RecordConsumed(topic string) {
	DefaultMetrics.EventsConsumed.WithLabelValues(topic).Inc()
}

// RecordDeadLetter records an event routed to dead-letter.
func RecordDeadLetter(topic, kind string) {
	DefaultMetrics.EventsDeadLettered.WithLabelValues(topic, kind).Inc()
}

// RecordDeadLetterDropped records a dead-letter record that was not written.
func RecordDeadLetterDropped() {
	DefaultMetrics.DeadLettersDropped.Inc()
}

// RecordDuplicate increments the duplicate counter.
func RecordDuplicate() {
	DefaultMetrics.DuplicatesDropped.Inc()
}

// RecordInvariantViolation records a discarded semantically invalid event.
func RecordInvariantViolation(eventType, reason string) {
	DefaultMetrics.InvariantViolations.WithLabelValues(eventType, reason).Inc()
}

// RecordStalePriceSkipped records a trade whose price update was skipped.
func RecordStalePriceSkipped() {
	DefaultMetrics.StalePriceSkipped.Inc()
}

// RecordStageChange records a discovery stage transition.
func RecordStageChange(stage string) {
	DefaultMetrics.StageChanges.WithLabelValues(stage).Inc()
}

// RecordLateDrop records a trade dropped for arriving after the grace period.
func RecordLateDrop(timeframe string) {
	DefaultMetrics.LateEventsDropped.WithLabelValues(timeframe).Inc()
}

// RecordCandleFinalized records a finalized candle.
func RecordCandleFinalized(timeframe string) {
	DefaultMetrics.CandlesFinalized.WithLabelValues(timeframe).Inc()
}

// RecordCandleAmended records an amendment to a provisional candle.
func RecordCandleAmended(timeframe string) {
	DefaultMetrics.CandlesAmended.WithLabelValues(timeframe).Inc()
}

// RecordPublishLatency observes event-to-publish latency.
func RecordPublishLatency(d time.Duration) {
	DefaultMetrics.PublishLatency.Observe(d.Seconds())
}

// RecordPublishRetry increments the publish retry counter.
func RecordPublishRetry() {
	DefaultMetrics.PublishRetries.Inc()
}

// RecordPublishTimeout increments the buffer-timeout counter.
func RecordPublishTimeout() {
	DefaultMetrics.PublishTimeouts.Inc()
}

// RecordPublishFailure records a message dead-lettered after exhausting retries.
func RecordPublishFailure(topic string) {
	DefaultMetrics.PublishFailures.WithLabelValues(topic).Inc()
}

// RecordStoreFlush records a columnar store flush.
func RecordStoreFlush(table string, rows int, d time.Duration, err error) {
	DefaultMetrics.StoreFlushDuration.WithLabelValues(table).Observe(d.Seconds())
	if err != nil {
		DefaultMetrics.StoreFlushErrors.WithLabelValues(table).Inc()
		return
	}
	DefaultMetrics.StoreFlushRows.WithLabelValues(table).Add(float64(rows))
}

// RecordStoreRejected records rows the sink gave up on.
func RecordStoreRejected(table, reason string, rows int) {
	DefaultMetrics.StoreRowsRejected.WithLabelValues(table, reason).Add(float64(rows))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordClassificationRun records a classification job run.
func RecordClassificationRun(status string, wallets int) {
	DefaultMetrics.ClassificationRuns.WithLabelValues(status).Inc()
	DefaultMetrics.WalletsClassified.Add(float64(wallets))
}

// RecordArchiveFile records an uploaded parquet file.
func RecordArchiveFile(timeframe string) {
	DefaultMetrics.ArchiveFilesWritten.WithLabelValues(timeframe).Inc()
}

// SetShardHealthy updates the per-shard health gauge.
func SetShardHealthy(shard string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	DefaultMetrics.ShardHealthy.WithLabelValues(shard).Set(v)
}

// UpdateHighestSlot updates the highest slot seen gauge.
func UpdateHighestSlot(slot int64) {
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// RecordEventProcessed observes shard processing latency and bumps the liveness gauge.
func RecordEventProcessed(eventType string, d time.Duration) {
	DefaultMetrics.EventProcessingLatency.WithLabelValues(eventType).Observe(d.Seconds())
	DefaultMetrics.LastEventProcessed.SetToCurrentTime()
}
