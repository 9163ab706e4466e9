package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
)

// Dead-letter error kinds written by the sink.
const (
	ErrorKindStoreWriteFailed = "StoreWriteFailed"
	ErrorKindSinkOverflow     = "SinkOverflow"
)

// ErrSinkFull is recorded on rows rejected because a table queue is at
// capacity.
var ErrSinkFull = errors.New("storage: sink queue full")

// DeadLetterSink receives rows the sink could not write.
type DeadLetterSink interface {
	Write(dl domain.DeadLetter)
}

// Stores groups the tables the sink writes to. Nil stores are skipped.
type Stores struct {
	Trades    TradeStore
	Transfers TransferStore
	Candles   CandleStore
	Metrics   TokenMetricsStore
}

// SinkOptions configures a Sink.
type SinkOptions struct {
	BatchSize       int           // rows per table that trigger a flush
	FlushInterval   time.Duration // upper bound between flushes
	MaxPending      int           // queued rows per table; defaults to 4 batches
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	DeadLetters     DeadLetterSink // optional
}

// Sink batches rows per table and writes them to the store.
// Add methods never block on I/O. Rows beyond MaxPending and rows that
// still fail after MaxRetries are dead-lettered.
type Sink struct {
	stores Stores
	opts   SinkOptions

	mu        sync.Mutex
	trades    []domain.Trade
	transfers []domain.Transfer
	candles   []domain.Candle
	metrics   []domain.TokenMetrics

	full chan struct{}
	log  *logger.Entry
}

// NewSink creates a Sink. Call Run to start the flush loop.
func NewSink(stores Stores, opts SinkOptions) *Sink {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = 4 * opts.BatchSize
	}
	if opts.MaxPending < opts.BatchSize {
		opts.MaxPending = opts.BatchSize
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.RetryMaxBackoff < opts.RetryBackoff {
		opts.RetryMaxBackoff = opts.RetryBackoff
	}
	return &Sink{
		stores: stores,
		opts:   opts,
		full:   make(chan struct{}, 1),
		log:    logger.GetLogger().WithComponent("store_sink"),
	}
}

func (s *Sink) signal(n int) {
	if n < s.opts.BatchSize {
		return
	}
	select {
	case s.full <- struct{}{}:
	default:
	}
}

// enqueue appends rows to q up to MaxPending and dead-letters the rest.
func enqueue[T any](s *Sink, q *[]T, table string, rows []T) {
	s.mu.Lock()
	room := s.opts.MaxPending - len(*q)
	if room < 0 {
		room = 0
	}
	accepted, overflow := rows, []T(nil)
	if len(rows) > room {
		accepted, overflow = rows[:room], rows[room:]
	}
	*q = append(*q, accepted...)
	n := len(*q)
	s.mu.Unlock()

	if len(overflow) > 0 {
		observability.RecordStoreRejected(table, ErrorKindSinkOverflow, len(overflow))
		s.log.WithFields(logger.Fields{"table": table, "rows": len(overflow)}).Warn("Sink queue full, dead-lettering rows")
		deadLetterRows(s, table, ErrorKindSinkOverflow, ErrSinkFull, overflow)
	}
	s.signal(n)
}

func deadLetterRows[T any](s *Sink, table, kind string, err error, rows []T) {
	if s.opts.DeadLetters == nil {
		return
	}
	received := time.Now().UnixMilli()
	for _, row := range rows {
		excerpt := ""
		if data, mErr := json.Marshal(row); mErr == nil {
			if len(data) > maxExcerpt {
				data = data[:maxExcerpt]
			}
			excerpt = string(data)
		}
		s.opts.DeadLetters.Write(domain.DeadLetter{
			SourceTopic: "store." + table,
			ErrorKind:   kind,
			Error:       err.Error(),
			Excerpt:     excerpt,
			ReceivedAt:  received,
		})
	}
}

const maxExcerpt = 512

// AddTrade queues a trade row.
func (s *Sink) AddTrade(t domain.Trade) {
	if s.stores.Trades == nil {
		return
	}
	enqueue(s, &s.trades, "trades", []domain.Trade{t})
}

// AddTransfer queues a transfer row.
func (s *Sink) AddTransfer(t domain.Transfer) {
	if s.stores.Transfers == nil {
		return
	}
	enqueue(s, &s.transfers, "transfers", []domain.Transfer{t})
}

// AddCandles queues candle rows.
func (s *Sink) AddCandles(cs ...domain.Candle) {
	if s.stores.Candles == nil || len(cs) == 0 {
		return
	}
	enqueue(s, &s.candles, "candles", cs)
}

// AddMetrics queues token metrics snapshots.
func (s *Sink) AddMetrics(ms ...domain.TokenMetrics) {
	if s.stores.Metrics == nil || len(ms) == 0 {
		return
	}
	enqueue(s, &s.metrics, "token_metrics", ms)
}

// Pending returns the number of queued rows across all tables.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades) + len(s.transfers) + len(s.candles) + len(s.metrics)
}

// Run flushes on every interval or full batch until ctx is done, then
// performs a final flush.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.Flush(final); err != nil {
				s.log.WithError(err).Error("final flush failed")
			}
			cancel()
			return
		case <-ticker.C:
		case <-s.full:
		}
		if err := s.Flush(ctx); err != nil {
			s.log.WithError(err).Warn("flush failed")
		}
	}
}

// Flush writes everything queued. Rows of a table that still fail after
// retries are dead-lettered.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	trades, transfers, candles, metrics := s.trades, s.transfers, s.candles, s.metrics
	s.trades, s.transfers, s.candles, s.metrics = nil, nil, nil, nil
	s.mu.Unlock()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(flushTable(ctx, s, "trades", trades, s.insertTrades))
	keep(flushTable(ctx, s, "transfers", transfers, s.insertTransfers))
	keep(flushTable(ctx, s, "candles", candles, s.upsertCandles))
	keep(flushTable(ctx, s, "token_metrics", metrics, s.insertMetrics))
	return firstErr
}

func (s *Sink) insertTrades(ctx context.Context, rows []domain.Trade) error {
	return s.stores.Trades.InsertTrades(ctx, rows)
}

func (s *Sink) insertTransfers(ctx context.Context, rows []domain.Transfer) error {
	return s.stores.Transfers.InsertTransfers(ctx, rows)
}

func (s *Sink) upsertCandles(ctx context.Context, rows []domain.Candle) error {
	return s.stores.Candles.UpsertCandles(ctx, rows)
}

func (s *Sink) insertMetrics(ctx context.Context, rows []domain.TokenMetrics) error {
	return s.stores.Metrics.InsertMetrics(ctx, rows)
}

func flushTable[T any](ctx context.Context, s *Sink, table string, rows []T, op func(context.Context, []T) error) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.write(ctx, table, len(rows), func(ctx context.Context) error { return op(ctx, rows) })
	if err != nil {
		observability.RecordStoreRejected(table, ErrorKindStoreWriteFailed, len(rows))
		deadLetterRows(s, table, ErrorKindStoreWriteFailed, err, rows)
	}
	return err
}

func (s *Sink) write(ctx context.Context, table string, rows int, op func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.RetryBackoff
	eb.MaxInterval = s.opts.RetryMaxBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.opts.MaxRetries)), ctx)

	start := time.Now()
	err := backoff.RetryNotify(func() error { return op(ctx) }, policy, func(err error, wait time.Duration) {
		s.log.WithError(err).WithFields(logger.Fields{"table": table, "retry_in": wait.String()}).Warn("store write failed, retrying")
	})
	observability.RecordStoreFlush(table, rows, time.Since(start), err)
	if err != nil {
		s.log.WithError(err).WithFields(logger.Fields{"table": table, "rows": rows}).Error("dead-lettering rows after retries")
		return err
	}
	logger.LogDataFlow(s.log, "sink", table, rows, table)
	return nil
}
