package ingestion

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/domain"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
)

// MaxExcerptBytes bounds the raw payload copied into a dead-letter record.
const MaxExcerptBytes = 512

// DeadLetterRecord builds the failure record for msg.
func DeadLetterRecord(msg bus.Message, err error, receivedAt time.Time) domain.DeadLetter {
	return domain.DeadLetter{
		SourceTopic: msg.Topic,
		ErrorKind:   string(KindOf(err)),
		Error:       err.Error(),
		Excerpt:     excerpt(msg.Value),
		Partition:   msg.Partition,
		Sequence:    msg.Offset,
		ReceivedAt:  receivedAt.UnixMilli(),
	}
}

// excerpt truncates b to MaxExcerptBytes without splitting a UTF-8 rune.
func excerpt(b []byte) string {
	if len(b) <= MaxExcerptBytes {
		return string(b)
	}
	cut := MaxExcerptBytes
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut])
}

// DeadLetterStore persists dead-letter records.
type DeadLetterStore interface {
	InsertDeadLetters(ctx context.Context, records []domain.DeadLetter) error
}

// DeadLetterWriter ships dead-letter records to the dead-letter topic and an
// optional store. Writes are fire-and-forget: Write never blocks, and records
// beyond the rate limit or buffer are dropped and counted.
type DeadLetterWriter struct {
	producer bus.Producer
	store    DeadLetterStore
	topic    string
	limiter  *rate.Limiter
	ch       chan domain.DeadLetter
	log      *logger.Entry
}

// DeadLetterOptions configures a DeadLetterWriter.
type DeadLetterOptions struct {
	Producer   bus.Producer
	Store      DeadLetterStore
	Topic      string
	RatePerSec float64
	BufferSize int
}

// NewDeadLetterWriter creates a writer. Call Run to start shipping.
func NewDeadLetterWriter(opts DeadLetterOptions) *DeadLetterWriter {
	ratePerSec := opts.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 1000
	}
	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &DeadLetterWriter{
		producer: opts.Producer,
		store:    opts.Store,
		topic:    opts.Topic,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1),
		ch:       make(chan domain.DeadLetter, bufferSize),
		log:      logger.GetLogger().WithComponent("dead_letter"),
	}
}

// Write enqueues a record without blocking.
func (w *DeadLetterWriter) Write(dl domain.DeadLetter) {
	observability.RecordDeadLetter(dl.SourceTopic, dl.ErrorKind)
	if !w.limiter.Allow() {
		observability.RecordDeadLetterDropped()
		return
	}
	select {
	case w.ch <- dl:
	default:
		observability.RecordDeadLetterDropped()
	}
}

// Run ships queued records until ctx is done, then drains what is left.
func (w *DeadLetterWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case dl := <-w.ch:
			w.ship(ctx, dl)
		}
	}
}

func (w *DeadLetterWriter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case dl := <-w.ch:
			w.ship(ctx, dl)
		default:
			return
		}
	}
}

func (w *DeadLetterWriter) ship(ctx context.Context, dl domain.DeadLetter) {
	if w.producer != nil && w.topic != "" {
		data, err := json.Marshal(dl)
		if err == nil {
			err = w.producer.Publish(ctx, bus.Message{
				Topic: w.topic,
				Key:   []byte(dl.SourceTopic),
				Value: data,
			})
		}
		if err != nil {
			observability.RecordDeadLetterDropped()
			w.log.WithError(err).WithField("source_topic", dl.SourceTopic).Warn("failed to publish dead letter")
		}
	}
	if w.store != nil {
		if err := w.store.InsertDeadLetters(ctx, []domain.DeadLetter{dl}); err != nil {
			w.log.WithError(err).WithField("source_topic", dl.SourceTopic).Warn("failed to store dead letter")
		}
	}
}
