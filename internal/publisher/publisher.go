// Package publisher batches derived messages onto the bus.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/domain"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
)

// ErrBufferFull is returned when the outbound buffer stays full for longer
// than the publish timeout.
var ErrBufferFull = errors.New("publisher: outbound buffer full")

// ErrClosed is returned by Publish after Run has returned.
var ErrClosed = errors.New("publisher: closed")

// ErrorKindPublishFailed marks dead letters for messages that exhausted retries.
const ErrorKindPublishFailed = "PublishFailed"

// DeadLetterSink receives messages that could not be published.
type DeadLetterSink interface {
	Write(dl domain.DeadLetter)
}

// Options configures a Publisher.
type Options struct {
	BufferSize      int
	PublishTimeout  time.Duration // how long Publish waits for buffer space
	BatchSize       int
	BatchTimeout    time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	AttemptTimeout  time.Duration // deadline of a single send
}

func (o *Options) withDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 10000
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 50 * time.Millisecond
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 2 * time.Millisecond
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 100 * time.Millisecond
	}
	if o.RetryMaxBackoff < o.RetryBackoff {
		o.RetryMaxBackoff = o.RetryBackoff
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 5 * time.Second
	}
}

type pending struct {
	msg      bus.Message
	enqueued time.Time
}

// Publisher owns a bounded outbound buffer drained by Run.
type Publisher struct {
	producer bus.Producer
	dead     DeadLetterSink
	opts     Options
	buf      chan pending
	done     chan struct{}
	log      *logger.Entry
}

// New creates a Publisher. dead may be nil.
func New(producer bus.Producer, dead DeadLetterSink, opts Options) *Publisher {
	opts.withDefaults()
	return &Publisher{
		producer: producer,
		dead:     dead,
		opts:     opts,
		buf:      make(chan pending, opts.BufferSize),
		done:     make(chan struct{}),
		log:      logger.GetLogger().WithComponent("publisher"),
	}
}

// Publish enqueues msgs. While the buffer is full it waits up to the
// publish timeout per attempt and retries with backoff up to MaxRetries.
// When retries run out the message and every message after it are
// dead-lettered and the error (ErrBufferFull, ErrClosed or the context
// error) is returned.
func (p *Publisher) Publish(ctx context.Context, msgs ...bus.Message) error {
	now := time.Now()
	for i, m := range msgs {
		if err := p.enqueue(ctx, pending{msg: m, enqueued: now}); err != nil {
			p.log.WithError(err).WithField("messages", len(msgs)-i).Warn("outbound buffer unavailable, dead-lettering")
			p.deadLetter(msgs[i:], err)
			return err
		}
	}
	observability.DefaultMetrics.OutboundBuffered.Set(float64(len(p.buf)))
	return nil
}

func (p *Publisher) enqueue(ctx context.Context, item pending) error {
	select {
	case <-p.done:
		return ErrClosed
	case p.buf <- item:
		return nil
	default:
	}

	attempt := func() error {
		timer := time.NewTimer(p.opts.PublishTimeout)
		defer timer.Stop()
		select {
		case p.buf <- item:
			return nil
		case <-timer.C:
			observability.RecordPublishTimeout()
			return fmt.Errorf("%w: %s", ErrBufferFull, item.msg.Topic)
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case <-p.done:
			return backoff.Permanent(ErrClosed)
		}
	}
	notify := func(err error, wait time.Duration) {
		observability.RecordPublishRetry()
		p.log.WithError(err).WithField("retry_in", wait.String()).Debug("outbound buffer full, retrying")
	}
	return backoff.RetryNotify(attempt, p.retryPolicy(ctx), notify)
}

func (p *Publisher) retryPolicy(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.opts.RetryBackoff
	eb.MaxInterval = p.opts.RetryMaxBackoff
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.opts.MaxRetries)), ctx)
}

func (p *Publisher) deadLetter(msgs []bus.Message, err error) {
	received := time.Now().UnixMilli()
	for _, m := range msgs {
		observability.RecordPublishFailure(m.Topic)
		if p.dead != nil {
			p.dead.Write(domain.DeadLetter{
				SourceTopic: m.Topic,
				ErrorKind:   ErrorKindPublishFailed,
				Error:       err.Error(),
				Excerpt:     truncate(m.Value, 512),
				ReceivedAt:  received,
			})
		}
	}
}

// Buffered returns the number of queued messages.
func (p *Publisher) Buffered() int {
	return len(p.buf)
}

// Run flushes batches until ctx is cancelled, then drains the buffer.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)

	batch := make([]pending, 0, p.opts.BatchSize)
	timer := time.NewTimer(p.opts.BatchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain(batch)
			return
		case item := <-p.buf:
			batch = append(batch, item)
			if len(batch) >= p.opts.BatchSize {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-timer.C:
			if len(batch) > 0 {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(p.opts.BatchTimeout)
		}
	}
}

// drain flushes everything still queued with a bounded shutdown context.
func (p *Publisher) drain(batch []pending) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case item := <-p.buf:
			batch = append(batch, item)
			if len(batch) >= p.opts.BatchSize {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				p.flush(ctx, batch)
			}
			return
		}
	}
}

// flush sends one batch, retrying with exponential backoff. Messages that
// still fail are dead-lettered.
func (p *Publisher) flush(ctx context.Context, batch []pending) {
	msgs := make([]bus.Message, len(batch))
	for i, item := range batch {
		msgs[i] = item.msg
	}

	send := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.opts.AttemptTimeout)
		defer cancel()
		err := p.producer.Publish(attemptCtx, msgs...)
		if errors.Is(err, bus.ErrQueueClosed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		observability.RecordPublishRetry()
		p.log.WithError(err).WithField("retry_in", wait.String()).Debug("publish failed, retrying")
	}

	if err := backoff.RetryNotify(send, p.retryPolicy(ctx), notify); err != nil {
		p.log.WithError(err).WithField("messages", len(msgs)).Error("publish failed after retries")
		p.deadLetter(msgs, err)
		return
	}

	sent := time.Now()
	for _, item := range batch {
		observability.RecordPublishLatency(sent.Sub(item.enqueued))
	}
	observability.DefaultMetrics.OutboundBuffered.Set(float64(len(p.buf)))
	logger.LogDataFlow(p.log, "publisher", "bus", len(msgs), "derived")
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
