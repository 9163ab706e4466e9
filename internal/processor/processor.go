// Package processor is the stream processor: it consumes raw topics, routes
// decoded events to token-sharded workers and publishes the derived streams.
package processor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/candle"
	"click-datastreams/internal/domain"
	"click-datastreams/internal/ingestion"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
	"click-datastreams/internal/state"
)

// Publisher accepts derived messages for the bus.
type Publisher interface {
	Publish(ctx context.Context, msgs ...bus.Message) error
}

// Sink buffers rows for the columnar store.
type Sink interface {
	AddTrade(t domain.Trade)
	AddTransfer(t domain.Transfer)
	AddCandles(cs ...domain.Candle)
	AddMetrics(ms ...domain.TokenMetrics)
}

// CandleArchive receives finalized candles for cold storage.
type CandleArchive interface {
	Add(cs ...domain.Candle)
}

// DeadLetterSink receives records for messages that could not be processed.
type DeadLetterSink interface {
	Write(dl domain.DeadLetter)
}

// Replayer feeds recent bus history to fn before live consumption starts.
type Replayer interface {
	Replay(ctx context.Context, fn func(bus.Message) error) (int, error)
}

// CandleSource returns candles left unfinalized by a previous run.
type CandleSource interface {
	GetUnfinalized(ctx context.Context, since int64) ([]domain.Candle, error)
}

// Options configures a Processor.
type Options struct {
	Bus         bus.Bus
	Adapter     *ingestion.Adapter
	Publisher   Publisher
	Sink        Sink
	Archive     CandleArchive  // optional
	DeadLetters DeadLetterSink // optional
	Replayer    Replayer       // optional
	Seed        CandleSource   // optional

	Topics        []string // defaults to bus.ConsumedTopics
	GroupID       string
	ConsumerCount int

	Shards      int
	ShardBuffer int
	SlotLag     int64
	DedupSize   int
	DedupTTL    time.Duration
	State       state.Options
	Candles     candle.Options

	TickInterval     time.Duration
	MetricsInterval  time.Duration
	FailureThreshold int // consecutive publish failures before a shard reports degraded
	RetryBackoff     time.Duration
	RetryMaxBackoff  time.Duration

	Now func() time.Time
}

func (o *Options) withDefaults() {
	if len(o.Topics) == 0 {
		o.Topics = bus.ConsumedTopics
	}
	if o.GroupID == "" {
		o.GroupID = "datastreams"
	}
	if o.ConsumerCount <= 0 {
		o.ConsumerCount = 1
	}
	if o.Shards <= 0 {
		o.Shards = 1
	}
	if o.ShardBuffer <= 0 {
		o.ShardBuffer = 1024
	}
	if o.DedupSize <= 0 {
		o.DedupSize = 100_000
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 15 * time.Minute
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.MetricsInterval < 0 {
		o.MetricsInterval = 0
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 100
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 100 * time.Millisecond
	}
	if o.RetryMaxBackoff < o.RetryBackoff {
		o.RetryMaxBackoff = 10 * o.RetryBackoff
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Adapter == nil {
		o.Adapter = ingestion.NewAdapter(ingestion.AdapterOptions{Now: o.Now})
	}
}

// Processor routes events to shards by token. Every token is owned by
// exactly one shard, so state for a token has a single writer.
type Processor struct {
	opts   Options
	shards []*shard

	mu      sync.RWMutex // guards closed against concurrent sends
	closed  bool
	started atomic.Bool

	highestSlot atomic.Int64
	log         *logger.Entry
}

// New creates a Processor. Call Run, or Start and Stop, to operate it.
func New(opts Options) *Processor {
	opts.withDefaults()
	p := &Processor{
		opts: opts,
		log:  logger.GetLogger().WithComponent("processor"),
	}
	for i := 0; i < opts.Shards; i++ {
		p.shards = append(p.shards, newShard(i, &p.opts))
	}
	return p
}

// ShardFor returns the shard index owning token: FNV-1a(token) mod N.
func ShardFor(token string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return int(h.Sum32() % uint32(n))
}

// Start launches the shard workers.
func (p *Processor) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, s := range p.shards {
		go s.run(context.Background())
	}
	p.log.WithField("shards", len(p.shards)).Info("Shards started")
}

// Stop drains every shard, flushing open candles to the sink, and waits for
// the workers to exit. Submit and Tick fail after Stop.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started.Load()
	now := p.opts.Now().UnixMilli()
	for _, s := range p.shards {
		if started {
			s.in <- op{kind: opDrain, now: now}
		}
		close(s.in)
	}
	p.mu.Unlock()

	if started {
		for _, s := range p.shards {
			<-s.stopped
		}
	}
	p.log.Info("Processor stopped")
}

// Run starts the shards, seeds unfinalized candles, replays the bus backlog
// and then consumes live traffic until ctx is cancelled. It drains the
// shards before returning.
func (p *Processor) Run(ctx context.Context) error {
	p.Start()
	defer p.Stop()

	if err := p.seed(ctx); err != nil {
		p.log.WithError(err).Warn("Candle seed failed, starting with empty buckets")
	}
	if err := p.replay(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.log.WithError(err).Warn("Replay incomplete, continuing with live traffic")
	}

	type reader struct {
		topic    string
		consumer bus.Consumer
	}
	var readers []reader
	for _, topic := range p.opts.Topics {
		for i := 0; i < p.opts.ConsumerCount; i++ {
			c, err := p.opts.Bus.Consumer(topic, p.opts.GroupID)
			if err != nil {
				for _, r := range readers {
					r.consumer.Close()
				}
				return fmt.Errorf("open consumer for %s: %w", topic, err)
			}
			readers = append(readers, reader{topic: topic, consumer: c})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range readers {
		r := r
		g.Go(func() error {
			return p.consume(gctx, r.topic, r.consumer)
		})
	}
	g.Go(func() error {
		return p.tickLoop(gctx)
	})

	p.log.WithFields(logger.Fields{
		"topics":         len(p.opts.Topics),
		"consumer_count": p.opts.ConsumerCount,
		"group":          p.opts.GroupID,
	}).Info("Consuming live traffic")

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (p *Processor) seed(ctx context.Context) error {
	if p.opts.Seed == nil {
		return nil
	}
	var longest time.Duration
	tfs := p.opts.Candles.Timeframes
	if len(tfs) == 0 {
		tfs = domain.AllTimeframes
	}
	for _, tf := range tfs {
		if tf.Duration > longest {
			longest = tf.Duration
		}
	}
	now := p.opts.Now()
	candles, err := p.opts.Seed.GetUnfinalized(ctx, now.Add(-longest).UnixMilli())
	if err != nil {
		return err
	}
	for _, c := range candles {
		if err := p.send(ctx, c.Token, op{kind: opSeed, candle: c, now: now.UnixMilli()}); err != nil {
			return err
		}
	}
	p.log.WithField("candles", len(candles)).Info("Seeded unfinalized candles")
	return nil
}

// replay rebuilds dedup windows, token state and open candles from the bus
// backlog. Nothing is published or stored while replaying.
func (p *Processor) replay(ctx context.Context) error {
	if p.opts.Replayer == nil {
		return nil
	}
	start := time.Now()
	if err := p.broadcast(ctx, opReplayBegin, false); err != nil {
		return err
	}
	n, err := p.opts.Replayer.Replay(ctx, func(msg bus.Message) error {
		return p.handle(ctx, msg, true)
	})
	if endErr := p.broadcast(ctx, opReplayEnd, true); endErr != nil && err == nil {
		err = endErr
	}
	p.log.WithFields(logger.Fields{
		"messages": n,
		"duration": time.Since(start).String(),
	}).Info("Replay finished")
	return err
}

func (p *Processor) consume(ctx context.Context, topic string, c bus.Consumer) error {
	defer c.Close()
	log := p.log.WithField("topic", topic)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.opts.RetryBackoff
	bo.MaxInterval = p.opts.RetryMaxBackoff
	bo.MaxElapsedTime = 0

	for {
		msg, err := c.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrQueueClosed) {
				return nil
			}
			wait := bo.NextBackOff()
			log.WithError(err).WithField("retry_in", wait.String()).Warn("Fetch failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		observability.RecordConsumed(topic)

		if err := p.handle(ctx, msg, false); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("offset", msg.Offset).Warn("Commit failed")
		}
	}
}

// handle decodes msg and routes it to its shard. Decode failures and events
// for halted shards are dead-lettered, except during replay where the
// original delivery already did so.
func (p *Processor) handle(ctx context.Context, msg bus.Message, replay bool) error {
	env, err := p.opts.Adapter.Decode(msg)
	if err != nil {
		if !replay {
			p.deadLetter(ingestion.DeadLetterRecord(msg, err, p.opts.Now()))
		}
		return nil
	}

	if !domain.IsHyperliquid(env.Event.TokenKey()) {
		p.trackSlot(env.Event.OrderKey().Slot)
	}

	err = p.Submit(ctx, env)
	if errors.Is(err, ErrShardHalted) {
		if !replay {
			dl := ingestion.DeadLetterRecord(msg, err, p.opts.Now())
			dl.ErrorKind = ErrorKindShardHalted
			p.deadLetter(dl)
		}
		return nil
	}
	return err
}

func (p *Processor) deadLetter(dl domain.DeadLetter) {
	if p.opts.DeadLetters != nil {
		p.opts.DeadLetters.Write(dl)
		return
	}
	observability.RecordDeadLetter(dl.SourceTopic, dl.ErrorKind)
}

func (p *Processor) trackSlot(slot int64) {
	for {
		cur := p.highestSlot.Load()
		if slot <= cur {
			return
		}
		if p.highestSlot.CompareAndSwap(cur, slot) {
			observability.UpdateHighestSlot(slot)
			return
		}
	}
}

// Submit routes env to the shard owning its token. It blocks while the
// shard's input is full.
func (p *Processor) Submit(ctx context.Context, env domain.Envelope) error {
	return p.send(ctx, env.Event.TokenKey(), op{kind: opEvent, env: env, now: p.opts.Now().UnixMilli()})
}

func (p *Processor) send(ctx context.Context, token string, o op) error {
	s := p.shards[ShardFor(token, len(p.shards))]
	if s.health.halted() {
		return ErrShardHalted
	}
	return p.enqueue(ctx, s, o)
}

func (p *Processor) enqueue(ctx context.Context, s *shard, o op) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return bus.ErrQueueClosed
	}
	select {
	case s.in <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcast sends one op of kind to every shard. With wait set it blocks
// until every shard has handled it.
func (p *Processor) broadcast(ctx context.Context, kind opKind, wait bool) error {
	now := p.opts.Now().UnixMilli()
	var dones []chan struct{}
	for _, s := range p.shards {
		o := op{kind: kind, now: now}
		if wait {
			o.done = make(chan struct{})
			dones = append(dones, o.done)
		}
		if err := p.enqueue(ctx, s, o); err != nil {
			return err
		}
	}
	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Tick releases reorder buffers, finalizes candles past their grace period
// and publishes changed token metrics. It returns once every shard has
// handled the tick.
func (p *Processor) Tick(ctx context.Context) error {
	return p.broadcast(ctx, opTick, true)
}

func (p *Processor) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

// Activity collects a read-only snapshot of every tracked Solana token from
// all healthy shards. Halted shards contribute nothing.
func (p *Processor) Activity(ctx context.Context) ([]domain.TokenActivity, error) {
	var replies []chan []domain.TokenActivity
	for _, s := range p.shards {
		if s.health.halted() {
			continue
		}
		reply := make(chan []domain.TokenActivity, 1)
		if err := p.enqueue(ctx, s, op{kind: opActivity, reply: reply}); err != nil {
			return nil, err
		}
		replies = append(replies, reply)
	}

	var out []domain.TokenActivity
	for _, reply := range replies {
		select {
		case acts := <-reply:
			out = append(out, acts...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// Health returns the status of every shard.
func (p *Processor) Health() []ShardHealth {
	out := make([]ShardHealth, len(p.shards))
	for i, s := range p.shards {
		out[i] = s.health.snapshot(s.id)
	}
	return out
}

// Healthy reports whether no shard is halted.
func (p *Processor) Healthy() bool {
	for _, s := range p.shards {
		if s.health.halted() {
			return false
		}
	}
	return true
}
