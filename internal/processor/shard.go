package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/candle"
	"click-datastreams/internal/dedup"
	"click-datastreams/internal/domain"
	"click-datastreams/internal/ingestion"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
	"click-datastreams/internal/publisher"
	"click-datastreams/internal/state"
)

type opKind int

const (
	opEvent opKind = iota
	opTick
	opSeed
	opActivity
	opReplayBegin
	opReplayEnd
	opDrain
)

// op is one unit of work for a shard. Shards handle ops strictly in
// channel order, which is what makes replay begin/end markers and tick
// barriers work.
type op struct {
	kind   opKind
	env    domain.Envelope
	now    int64
	candle domain.Candle
	reply  chan []domain.TokenActivity
	done   chan struct{}
}

// Health status values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusHalted   = "halted"
)

// ShardHealth is the reported state of one shard.
type ShardHealth struct {
	Shard  int       `json:"shard"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since"`
	Tokens int       `json:"tokens"`
}

type health struct {
	mu        sync.Mutex
	status    string
	reason    string
	since     time.Time
	failures  int
	threshold int
	tokens    int
}

func (h *health) snapshot(id int) ShardHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ShardHealth{Shard: id, Status: h.status, Reason: h.reason, Since: h.since, Tokens: h.tokens}
}

func (h *health) set(status, reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusHalted || (h.status == status && h.reason == reason) {
		return false
	}
	h.status = status
	h.reason = reason
	h.since = time.Now()
	return true
}

func (h *health) halted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status == StatusHalted
}

// publishFailed counts a consecutive publish failure and reports whether the
// shard just crossed the degradation threshold.
func (h *health) publishFailed() bool {
	h.mu.Lock()
	h.failures++
	crossed := h.failures == h.threshold
	h.mu.Unlock()
	return crossed
}

func (h *health) publishOK() bool {
	h.mu.Lock()
	recovered := h.failures >= h.threshold && h.status == StatusDegraded
	h.failures = 0
	h.mu.Unlock()
	return recovered
}

func (h *health) setTokens(n int) {
	h.mu.Lock()
	h.tokens = n
	h.mu.Unlock()
}

// shard owns every token that hashes to it. Only its goroutine touches the
// dedup window, reorder buffer, updater and aggregator.
type shard struct {
	id      int
	label   string
	in      chan op
	stopped chan struct{}

	dedup   *dedup.Window
	reorder *ingestion.ReorderBuffer
	updater *state.Updater
	candles *candle.Aggregator

	pub     Publisher
	sink    Sink
	archive CandleArchive

	metricsEvery int64
	lastMetrics  int64
	replaying    bool

	health *health
	log    *logger.Entry
}

func newShard(id int, opts *Options) *shard {
	label := strconv.Itoa(id)
	s := &shard{
		id:           id,
		label:        label,
		in:           make(chan op, opts.ShardBuffer),
		stopped:      make(chan struct{}),
		dedup:        dedup.NewWindow(opts.DedupSize, opts.DedupTTL),
		reorder:      ingestion.NewReorderBuffer(opts.SlotLag),
		updater:      state.NewUpdater(opts.State),
		candles:      candle.New(opts.Candles),
		pub:          opts.Publisher,
		sink:         opts.Sink,
		archive:      opts.Archive,
		metricsEvery: opts.MetricsInterval.Milliseconds(),
		health:       &health{status: StatusHealthy, since: time.Now(), threshold: opts.FailureThreshold},
		log:          logger.GetLogger().WithComponent("shard").WithField("shard", id),
	}
	observability.SetShardHealthy(label, true)
	return s
}

// run handles ops until the input channel is closed. A halted shard keeps
// draining its channel so that senders never block on it.
func (s *shard) run(ctx context.Context) {
	defer close(s.stopped)
	for o := range s.in {
		if s.health.halted() {
			s.release(o)
			continue
		}
		if err := s.handle(ctx, o); err != nil {
			s.halt(err)
		}
		s.release(o)
	}
}

func (s *shard) release(o op) {
	if o.reply != nil {
		close(o.reply)
	}
	if o.done != nil {
		close(o.done)
	}
}

func (s *shard) halt(err error) {
	if s.health.set(StatusHalted, err.Error()) {
		observability.SetShardHealthy(s.label, false)
		s.log.WithError(err).Error("Shard halted")
	}
}

func (s *shard) handle(ctx context.Context, o op) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FatalError{Shard: s.id, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch o.kind {
	case opEvent:
		return s.onEvent(ctx, o.env, o.now)
	case opTick:
		return s.onTick(ctx, o.now)
	case opSeed:
		s.candles.Seed(o.candle, o.now)
	case opActivity:
		o.reply <- s.updater.Activity()
	case opReplayBegin:
		s.replaying = true
	case opReplayEnd:
		err := s.applyAll(ctx, s.reorder.FlushAll(), o.now)
		s.replaying = false
		return err
	case opDrain:
		return s.onDrain(o.now)
	}
	return nil
}

func (s *shard) onEvent(ctx context.Context, env domain.Envelope, now int64) error {
	if s.dedup.CheckEvent(env.Event) {
		observability.RecordDuplicate()
		return nil
	}
	return s.applyAll(ctx, s.reorder.Add(env), now)
}

func (s *shard) applyAll(ctx context.Context, envs []domain.Envelope, now int64) error {
	for _, env := range envs {
		if err := s.apply(ctx, env, now); err != nil {
			return err
		}
	}
	s.health.setTokens(s.updater.Len())
	return nil
}

// apply runs one ordered event through state and candles and publishes the
// results. In replay mode state and candles are rebuilt and nothing is
// published or stored.
func (s *shard) apply(ctx context.Context, env domain.Envelope, now int64) error {
	start := time.Now()
	ev := env.Event

	delta, err := s.updater.Apply(ev)
	if err != nil {
		if Classify(err) != ClassSemantic {
			return &FatalError{Shard: s.id, Err: err}
		}
		reason := "unknown"
		var ie *state.InvariantError
		if errors.As(err, &ie) {
			reason = ie.Reason
		}
		observability.RecordInvariantViolation(string(ev.Kind()), reason)
		s.log.WithError(err).WithFields(logger.Fields{
			"topic":    env.Topic,
			"sequence": env.Sequence,
		}).Debug("Discarded event")
		return nil
	}

	if s.replaying {
		if tr, ok := ev.(*domain.Trade); ok {
			s.candles.Rebuild(tr, env.WrittenAt, now)
		}
		return nil
	}

	var msgs []bus.Message
	switch e := ev.(type) {
	case *domain.Trade:
		s.sink.AddTrade(*e)
		for _, c := range s.candles.Add(e, now) {
			if m, ok := s.encoded(publisher.EncodeCandle(c)); ok {
				msgs = append(msgs, m)
			}
		}
	case *domain.Transfer:
		s.sink.AddTransfer(*e)
	}
	if delta.Trade != nil {
		if m, ok := s.encoded(publisher.EncodeEnrichedTrade(*delta.Trade)); ok {
			msgs = append(msgs, m)
		}
	}
	for _, change := range delta.StageChanges {
		observability.RecordStageChange(string(change.To))
		if m, ok := s.encoded(publisher.EncodeStageChange(change)); ok {
			msgs = append(msgs, m)
		}
	}
	s.publish(ctx, msgs)

	observability.RecordEventProcessed(string(ev.Kind()), time.Since(start))
	return nil
}

func (s *shard) onTick(ctx context.Context, now int64) error {
	if err := s.applyAll(ctx, s.reorder.Tick(), now); err != nil {
		return err
	}

	if finalized := s.candles.Finalize(now); len(finalized) > 0 {
		s.sink.AddCandles(finalized...)
		if s.archive != nil {
			s.archive.Add(finalized...)
		}
		msgs := make([]bus.Message, 0, len(finalized))
		for _, c := range finalized {
			if m, ok := s.encoded(publisher.EncodeCandle(c)); ok {
				msgs = append(msgs, m)
			}
		}
		s.publish(ctx, msgs)
	}

	if now-s.lastMetrics >= s.metricsEvery {
		s.lastMetrics = now
		snaps := s.updater.DirtySnapshots(now)
		if len(snaps) > 0 {
			s.sink.AddMetrics(snaps...)
			msgs := make([]bus.Message, 0, len(snaps))
			for _, snap := range snaps {
				if m, ok := s.encoded(publisher.EncodeTokenMetrics(snap)); ok {
					msgs = append(msgs, m)
				}
			}
			s.publish(ctx, msgs)
		}
	}
	return nil
}

// onDrain releases buffered events and hands every live candle to the store
// as an unfinalized row so the next start can resume it.
func (s *shard) onDrain(now int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.replaying = false
	if err := s.applyAll(ctx, s.reorder.FlushAll(), now); err != nil {
		return err
	}
	if open := s.candles.Drain(); len(open) > 0 {
		s.sink.AddCandles(open...)
	}
	if snaps := s.updater.DirtySnapshots(now); len(snaps) > 0 {
		s.sink.AddMetrics(snaps...)
	}
	s.log.WithField("tokens", s.updater.Len()).Info("Shard drained")
	return nil
}

func (s *shard) encoded(m bus.Message, err error) (bus.Message, bool) {
	if err != nil {
		s.log.WithError(err).Warn("Failed to encode message")
		return bus.Message{}, false
	}
	return m, true
}

func (s *shard) publish(ctx context.Context, msgs []bus.Message) {
	if len(msgs) == 0 {
		return
	}
	if err := s.pub.Publish(ctx, msgs...); err != nil {
		if s.health.publishFailed() {
			s.health.set(StatusDegraded, "publish: "+err.Error())
			observability.SetShardHealthy(s.label, false)
		}
		s.log.WithError(err).WithField("messages", len(msgs)).Warn("Failed to publish derived messages")
		return
	}
	if s.health.publishOK() {
		s.health.set(StatusHealthy, "")
		observability.SetShardHealthy(s.label, true)
	}
}
