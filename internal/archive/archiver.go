// Package archive uploads finalized candles to object storage as parquet
// files partitioned by timeframe and date.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
	"click-datastreams/internal/storage"
)

// Options configures an Archiver.
type Options struct {
	Prefix        string
	FlushInterval time.Duration
	MaxRows       int // rows per partition that trigger an early flush
	Compression   string
	MaxRetries    int
	NewID         func() string
}

func (o *Options) withDefaults() {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Minute
	}
	if o.MaxRows <= 0 {
		o.MaxRows = 50000
	}
	if o.Compression == "" {
		o.Compression = "snappy"
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}

type partition struct {
	timeframe string
	date      string
}

// Archiver buffers finalized candles and writes one parquet object per
// (timeframe, date) partition on every flush.
type Archiver struct {
	uploader Uploader
	progress storage.ArchiveProgressStore
	opts     Options

	mu     sync.Mutex
	buffer map[partition][]domain.Candle
	full   chan struct{}

	log *logger.Entry
}

// New creates an Archiver. progress may be nil.
func New(uploader Uploader, progress storage.ArchiveProgressStore, opts Options) *Archiver {
	opts.withDefaults()
	return &Archiver{
		uploader: uploader,
		progress: progress,
		opts:     opts,
		buffer:   make(map[partition][]domain.Candle),
		full:     make(chan struct{}, 1),
		log:      logger.GetLogger().WithComponent("archive"),
	}
}

// Add buffers candles. Only finalized candles are archived. Add never blocks
// on I/O.
func (a *Archiver) Add(cs ...domain.Candle) {
	a.mu.Lock()
	trigger := false
	for _, c := range cs {
		if c.Status != domain.CandleFinalized {
			continue
		}
		p := partition{
			timeframe: c.Timeframe,
			date:      time.UnixMilli(c.BucketStart).UTC().Format("2006-01-02"),
		}
		a.buffer[p] = append(a.buffer[p], c)
		if len(a.buffer[p]) >= a.opts.MaxRows {
			trigger = true
		}
	}
	a.mu.Unlock()

	if trigger {
		select {
		case a.full <- struct{}{}:
		default:
		}
	}
}

// Buffered returns the number of candles waiting for upload.
func (a *Archiver) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, cs := range a.buffer {
		n += len(cs)
	}
	return n
}

// Run flushes on every interval and whenever a partition fills up. On
// cancellation it flushes once more with a bounded context.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			a.Flush(shutdown, "shutdown")
			cancel()
			return
		case <-ticker.C:
			a.Flush(ctx, "interval")
		case <-a.full:
			a.Flush(ctx, "max_rows")
		}
	}
}

// Flush uploads every buffered partition. Partitions that fail to upload are
// put back for the next flush.
func (a *Archiver) Flush(ctx context.Context, reason string) {
	a.mu.Lock()
	pending := a.buffer
	a.buffer = make(map[partition][]domain.Candle)
	a.mu.Unlock()

	keys := make([]partition, 0, len(pending))
	for p := range pending {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].timeframe != keys[j].timeframe {
			return keys[i].timeframe < keys[j].timeframe
		}
		return keys[i].date < keys[j].date
	})

	for _, p := range keys {
		candles := pending[p]
		if err := a.write(ctx, p, candles, reason); err != nil {
			a.log.WithError(err).WithFields(logger.Fields{
				"timeframe": p.timeframe,
				"date":      p.date,
				"rows":      len(candles),
			}).Error("Failed to archive candles")
			a.requeue(p, candles)
		}
	}
}

func (a *Archiver) requeue(p partition, candles []domain.Candle) {
	a.mu.Lock()
	a.buffer[p] = append(candles, a.buffer[p]...)
	a.mu.Unlock()
}

func (a *Archiver) write(ctx context.Context, p partition, candles []domain.Candle, reason string) error {
	prog, err := a.loadProgress(ctx, p.timeframe)
	if err != nil {
		return err
	}

	// Buckets older than the last archived one were written before a restart.
	rows := candles[:0:0]
	var newest int64
	for _, c := range candles {
		if prog != nil && c.BucketStart < prog.LastBucketStart {
			continue
		}
		rows = append(rows, c)
		if c.BucketStart > newest {
			newest = c.BucketStart
		}
	}
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].BucketStart != rows[j].BucketStart {
			return rows[i].BucketStart < rows[j].BucketStart
		}
		return rows[i].Token < rows[j].Token
	})

	data, err := encodeParquet(rows, a.opts.Compression)
	if err != nil {
		return err
	}
	key := a.objectKey(p)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(a.opts.MaxRetries)), ctx)
	upload := func() error {
		attempt, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		return a.uploader.Upload(attempt, key, data)
	}
	if err := backoff.Retry(upload, policy); err != nil {
		return err
	}
	observability.RecordArchiveFile(p.timeframe)

	if a.progress != nil {
		next := storage.ArchiveProgress{Timeframe: p.timeframe, LastObjectKey: key, LastBucketStart: newest, Files: 1}
		if prog != nil {
			next.Files = prog.Files + 1
			if prog.LastBucketStart > newest {
				next.LastBucketStart = prog.LastBucketStart
			}
		}
		if err := a.progress.SetProgress(ctx, &next); err != nil {
			a.log.WithError(err).WithField("timeframe", p.timeframe).Warn("Failed to save archive progress")
		}
	}

	a.log.WithFields(logger.Fields{
		"key":    key,
		"rows":   len(rows),
		"bytes":  len(data),
		"reason": reason,
	}).Info("Candles archived")
	return nil
}

func (a *Archiver) loadProgress(ctx context.Context, timeframe string) (*storage.ArchiveProgress, error) {
	if a.progress == nil {
		return nil, nil
	}
	prog, err := a.progress.GetProgress(ctx, timeframe)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load archive progress: %w", err)
	}
	return prog, nil
}

// objectKey is <prefix>/ohlcv/timeframe=<tf>/date=<YYYY-MM-DD>/<id>.parquet.
func (a *Archiver) objectKey(p partition) string {
	return path.Join(
		a.opts.Prefix,
		"ohlcv",
		"timeframe="+p.timeframe,
		"date="+p.date,
		a.opts.NewID()+".parquet",
	)
}
