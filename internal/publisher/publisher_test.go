package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/domain"
)

type flakyProducer struct {
	mu       sync.Mutex
	failures int // remaining failing calls, -1 fails forever
	calls    int
	sent     []bus.Message
}

func (p *flakyProducer) Publish(_ context.Context, msgs ...bus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures != 0 {
		if p.failures > 0 {
			p.failures--
		}
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msgs...)
	return nil
}

func (p *flakyProducer) Close() error { return nil }

func (p *flakyProducer) snapshot() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, len(p.sent)
}

type recordingSink struct {
	mu      sync.Mutex
	letters []domain.DeadLetter
}

func (s *recordingSink) Write(dl domain.DeadLetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.letters)
}

func msg(topic, value string) bus.Message {
	return bus.Message{Topic: topic, Key: []byte("X"), Value: []byte(value)}
}

func TestPublisher_DeliversBatches(t *testing.T) {
	b := bus.NewMemoryBus(100)
	p := New(b, nil, Options{BatchSize: 2, BatchTimeout: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.NoError(t, p.Publish(ctx, msg("t", "1"), msg("t", "2"), msg("t", "3")))
	require.Eventually(t, func() bool {
		return len(b.Messages("t")) == 3
	}, time.Second, 5*time.Millisecond)

	got := b.Messages("t")
	assert.Equal(t, "1", string(got[0].Value))
	assert.Equal(t, "3", string(got[2].Value))
}

func TestPublisher_BufferFullAfterTimeout(t *testing.T) {
	p := New(&flakyProducer{}, nil, Options{BufferSize: 1, PublishTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, msg("t", "1")))

	start := time.Now()
	err := p.Publish(ctx, msg("t", "2"))
	require.ErrorIs(t, err, ErrBufferFull)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 1, p.Buffered())
}

func TestPublisher_BufferFullDeadLettersRemainder(t *testing.T) {
	sink := &recordingSink{}
	p := New(&flakyProducer{}, sink, Options{
		BufferSize:      1,
		PublishTimeout:  time.Millisecond,
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
		RetryMaxBackoff: time.Millisecond,
	})

	err := p.Publish(context.Background(), msg("t", "1"), msg("t", "2"), msg("t", "3"))
	require.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, 1, p.Buffered())

	require.Equal(t, 2, sink.count(), "every message that did not fit is dead-lettered")
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "2", sink.letters[0].Excerpt)
	assert.Equal(t, "3", sink.letters[1].Excerpt)
	assert.Equal(t, ErrorKindPublishFailed, sink.letters[0].ErrorKind)
	assert.Contains(t, sink.letters[0].Error, "outbound buffer full")
}

func TestPublisher_BufferFullRetriesUntilSpaceFrees(t *testing.T) {
	b := bus.NewMemoryBus(100)
	sink := &recordingSink{}
	p := New(b, sink, Options{
		BufferSize:      1,
		PublishTimeout:  2 * time.Millisecond,
		BatchSize:       1,
		BatchTimeout:    time.Millisecond,
		MaxRetries:      100,
		RetryBackoff:    2 * time.Millisecond,
		RetryMaxBackoff: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Run(ctx)
	}()

	require.NoError(t, p.Publish(ctx, msg("t", "1"), msg("t", "2"), msg("t", "3")))
	require.Eventually(t, func() bool {
		return len(b.Messages("t")) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestPublisher_RetriesThenSucceeds(t *testing.T) {
	prod := &flakyProducer{failures: 2}
	sink := &recordingSink{}
	p := New(prod, sink, Options{
		BatchSize:       10,
		BatchTimeout:    time.Millisecond,
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
		RetryMaxBackoff: 2 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.NoError(t, p.Publish(ctx, msg("t", "1")))
	require.Eventually(t, func() bool {
		_, sent := prod.snapshot()
		return sent == 1
	}, time.Second, 5*time.Millisecond)

	calls, _ := prod.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, sink.count())
}

func TestPublisher_DeadLettersAfterMaxRetries(t *testing.T) {
	prod := &flakyProducer{failures: -1}
	sink := &recordingSink{}
	p := New(prod, sink, Options{
		BatchSize:       10,
		BatchTimeout:    time.Millisecond,
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
		RetryMaxBackoff: 2 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.NoError(t, p.Publish(ctx, msg(bus.TopicTokenMetrics, `{"token":"X"}`)))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	calls, _ := prod.snapshot()
	assert.Equal(t, 3, calls, "one attempt plus two retries")

	sink.mu.Lock()
	dl := sink.letters[0]
	sink.mu.Unlock()
	assert.Equal(t, bus.TopicTokenMetrics, dl.SourceTopic)
	assert.Equal(t, ErrorKindPublishFailed, dl.ErrorKind)
	assert.Equal(t, `{"token":"X"}`, dl.Excerpt)
}

func TestPublisher_DrainsOnShutdown(t *testing.T) {
	b := bus.NewMemoryBus(100)
	p := New(b, nil, Options{BatchSize: 2, BatchTimeout: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Publish(ctx, msg("t", "1"), msg("t", "2"), msg("t", "3")))
	cancel()
	p.Run(ctx)

	assert.Len(t, b.Messages("t"), 3)
	assert.ErrorIs(t, p.Publish(context.Background(), msg("t", "4")), ErrClosed)
}

func TestEncodeCandle(t *testing.T) {
	c := domain.Candle{
		Token: "X", Timeframe: "1m", BucketStart: 60000, BucketEnd: 120000,
		Open: decimal.NewFromInt(2), High: decimal.NewFromInt(5), Low: decimal.NewFromInt(2), Close: decimal.NewFromInt(3),
		Volume: decimal.RequireFromString("10.5"), TradeCount: 3, Status: domain.CandleFinalized, Version: 7,
	}
	m, err := EncodeCandle(c)
	require.NoError(t, err)
	assert.Equal(t, "solana.market_ohlcv.1m", m.Topic)
	assert.Equal(t, "X", string(m.Key))
	assert.Contains(t, string(m.Value), `"status":"finalized"`)
	assert.Contains(t, string(m.Value), `"volume":"10.5"`)

	sc, err := EncodeStageChange(domain.StageChange{Token: "X", From: domain.StageNew, To: domain.StageActive})
	require.NoError(t, err)
	assert.Equal(t, "solana.discovery.active", sc.Topic)
}
