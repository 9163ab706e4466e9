// Package candle builds OHLCV candles from trades for every configured
// timeframe. An Aggregator is owned by one shard worker.
package candle

import (
	"sort"
	"time"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/observability"
)

// Options configures an Aggregator.
type Options struct {
	Timeframes []domain.Timeframe // defaults to domain.AllTimeframes
	Grace      time.Duration      // amend window after bucket end
}

// bucket is one candle plus the keys of the trades that set open and close.
type bucket struct {
	candle  domain.Candle
	openAt  tradeRef
	closeAt tradeRef

	seededAt int64 // version of the stored row this bucket resumed, 0 if built here
}

// tradeRef orders trades by event time, then by on-chain position.
type tradeRef struct {
	ts  int64
	key domain.OrderKey
}

func (r tradeRef) before(o tradeRef) bool {
	if r.ts != o.ts {
		return r.ts < o.ts
	}
	return r.key.Compare(o.key) < 0
}

// series holds the live buckets of one timeframe, grouped by bucket start so
// that finalization touches whole groups.
type series struct {
	tf      domain.Timeframe
	buckets map[int64]map[string]*bucket
}

// Aggregator maintains open and provisional candles.
type Aggregator struct {
	series []*series
	grace  int64
	now    int64 // ms, highest clock seen
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	tfs := opts.Timeframes
	if len(tfs) == 0 {
		tfs = domain.AllTimeframes
	}
	a := &Aggregator{grace: opts.Grace.Milliseconds()}
	for _, tf := range tfs {
		a.series = append(a.series, &series{tf: tf, buckets: make(map[int64]map[string]*bucket)})
	}
	return a
}

// Add folds a trade into the bucket of every timeframe and returns the
// updated candles. Buckets whose grace period has passed as of now are not
// amended; the trade is dropped for that timeframe.
func (a *Aggregator) Add(t *domain.Trade, now int64) []domain.Candle {
	return a.add(t, now, 0, false)
}

// Rebuild folds a trade read back from the bus backlog. Nothing is returned
// or counted. A bucket resumed by Seed already holds every trade written to
// the bus before its stored version, so those trades are skipped for it.
func (a *Aggregator) Rebuild(t *domain.Trade, writtenAt, now int64) {
	a.add(t, now, writtenAt, true)
}

func (a *Aggregator) add(t *domain.Trade, now, writtenAt int64, rebuild bool) []domain.Candle {
	a.tick(now)
	ref := tradeRef{ts: t.Timestamp, key: t.OrderKey()}

	var out []domain.Candle
	if !rebuild {
		out = make([]domain.Candle, 0, len(a.series))
	}
	for _, s := range a.series {
		start := s.tf.BucketStart(t.Timestamp)
		end := start + s.tf.Millis()
		if end+a.grace <= a.now {
			if !rebuild {
				observability.RecordLateDrop(s.tf.Name)
			}
			continue
		}

		group, ok := s.buckets[start]
		if !ok {
			group = make(map[string]*bucket)
			s.buckets[start] = group
		}
		b, ok := group[t.Token]
		if !ok {
			b = &bucket{
				candle: domain.Candle{
					Token:       t.Token,
					Timeframe:   s.tf.Name,
					BucketStart: start,
					BucketEnd:   end,
					Open:        t.Price,
					High:        t.Price,
					Low:         t.Price,
					Close:       t.Price,
				},
				openAt:  ref,
				closeAt: ref,
			}
			group[t.Token] = b
		} else {
			if rebuild && b.seededAt > 0 && writtenAt <= b.seededAt {
				continue
			}
			b.apply(t, ref)
			if !rebuild && end <= a.now {
				observability.RecordCandleAmended(s.tf.Name)
			}
		}
		b.candle.Volume = b.candle.Volume.Add(t.Value())
		b.candle.BaseVolume = b.candle.BaseVolume.Add(t.TokenAmount)
		b.candle.TradeCount++
		b.bump(a.now)
		b.candle.Status = a.status(end)
		if !rebuild {
			out = append(out, b.candle)
		}
	}
	return out
}

func (b *bucket) apply(t *domain.Trade, ref tradeRef) {
	c := &b.candle
	if ref.before(b.openAt) {
		c.Open = t.Price
		b.openAt = ref
	}
	if b.closeAt.before(ref) {
		c.Close = t.Price
		b.closeAt = ref
	}
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
}

// bump advances the version. Versions follow the clock so that a rebuilt
// candle supersedes rows written before a restart.
func (b *bucket) bump(now int64) {
	next := b.candle.Version + 1
	if v := uint64(now); now > 0 && v > next {
		next = v
	}
	b.candle.Version = next
}

func (a *Aggregator) status(end int64) domain.CandleStatus {
	switch {
	case a.now < end:
		return domain.CandleOpen
	case a.now < end+a.grace:
		return domain.CandleProvisional
	}
	return domain.CandleFinalized
}

func (a *Aggregator) tick(now int64) {
	if now > a.now {
		a.now = now
	}
}

// Finalize returns the candles whose grace period ended as of now and
// forgets them. Results are sorted by token, timeframe and bucket start.
func (a *Aggregator) Finalize(now int64) []domain.Candle {
	a.tick(now)
	var out []domain.Candle
	for _, s := range a.series {
		for start, group := range s.buckets {
			if start+s.tf.Millis()+a.grace > a.now {
				continue
			}
			for _, b := range group {
				b.candle.Status = domain.CandleFinalized
				out = append(out, b.candle)
				observability.RecordCandleFinalized(s.tf.Name)
			}
			delete(s.buckets, start)
		}
	}
	a.sortCandles(out)
	return out
}

// Seed restores an unfinalized candle read back from the store, typically
// the provisional rows written at the previous shutdown. Finalized candles,
// unknown timeframes and buckets already live are ignored. The trades that set
// open and close are unknown, so later trades in the bucket always move close.
func (a *Aggregator) Seed(c domain.Candle, now int64) bool {
	a.tick(now)
	if c.Status == domain.CandleFinalized {
		return false
	}
	for _, s := range a.series {
		if s.tf.Name != c.Timeframe {
			continue
		}
		group, ok := s.buckets[c.BucketStart]
		if !ok {
			group = make(map[string]*bucket)
			s.buckets[c.BucketStart] = group
		}
		if _, ok := group[c.Token]; ok {
			return false
		}
		ref := tradeRef{ts: c.BucketStart}
		b := &bucket{candle: c, openAt: ref, closeAt: ref, seededAt: int64(c.Version)}
		b.bump(a.now)
		b.candle.Status = a.status(c.BucketEnd)
		group[c.Token] = b
		return true
	}
	return false
}

// Snapshot returns copies of all live candles with their current status.
func (a *Aggregator) Snapshot() []domain.Candle {
	var out []domain.Candle
	for _, s := range a.series {
		for _, group := range s.buckets {
			for _, b := range group {
				c := b.candle
				c.Status = a.status(c.BucketEnd)
				out = append(out, c)
			}
		}
	}
	a.sortCandles(out)
	return out
}

// Drain returns every live candle as provisional (or open) and empties the
// aggregator. Used on shutdown.
func (a *Aggregator) Drain() []domain.Candle {
	out := a.Snapshot()
	for _, s := range a.series {
		s.buckets = make(map[int64]map[string]*bucket)
	}
	return out
}

// Len returns the number of live buckets.
func (a *Aggregator) Len() int {
	n := 0
	for _, s := range a.series {
		for _, group := range s.buckets {
			n += len(group)
		}
	}
	return n
}

func (a *Aggregator) sortCandles(cs []domain.Candle) {
	rank := make(map[string]int, len(a.series))
	for i, s := range a.series {
		rank[s.tf.Name] = i
	}
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Token != cs[j].Token {
			return cs[i].Token < cs[j].Token
		}
		if cs[i].Timeframe != cs[j].Timeframe {
			return rank[cs[i].Timeframe] < rank[cs[j].Timeframe]
		}
		return cs[i].BucketStart < cs[j].BucketStart
	})
}
