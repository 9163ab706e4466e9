package state

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"click-datastreams/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type windowSpec struct {
	name string
	ms   int64
}

var windowSpecs = [...]windowSpec{
	{domain.Window5m, (5 * time.Minute).Milliseconds()},
	{domain.Window1h, time.Hour.Milliseconds()},
	{domain.Window6h, (6 * time.Hour).Milliseconds()},
	{domain.Window24h, (24 * time.Hour).Milliseconds()},
}

// longest window index; points older than it are discarded.
const longest = 3

type point struct {
	ts    int64
	price decimal.Decimal
	value decimal.Decimal
	buy   bool
}

type windowSums struct {
	head   int // index of the first point inside the window
	volume decimal.Decimal
	buy    decimal.Decimal
	sell   decimal.Decimal
	count  int
}

// rollingWindows keeps trades sorted by timestamp with running sums for each
// window. Sums are exact decimals, so eviction never drifts.
type rollingWindows struct {
	points []point
	sums   [len(windowSpecs)]windowSums
	now    int64 // latest eviction time
}

// add inserts a trade. A trade older than a window's cutoff is placed before
// that window's head and not counted in it.
func (w *rollingWindows) add(p point) {
	idx := len(w.points)
	if idx > 0 && w.points[idx-1].ts > p.ts {
		idx = sort.Search(len(w.points), func(i int) bool { return w.points[i].ts > p.ts })
	}
	if idx == len(w.points) {
		w.points = append(w.points, p)
	} else {
		w.points = append(w.points, point{})
		copy(w.points[idx+1:], w.points[idx:])
		w.points[idx] = p
	}

	for i, spec := range windowSpecs {
		s := &w.sums[i]
		if p.ts <= w.now-spec.ms {
			s.head++
			continue
		}
		s.volume = s.volume.Add(p.value)
		if p.buy {
			s.buy = s.buy.Add(p.value)
		} else {
			s.sell = s.sell.Add(p.value)
		}
		s.count++
	}

	if p.ts > w.now {
		w.advance(p.ts)
	}
}

// advance evicts points that fell out of each window as of now.
func (w *rollingWindows) advance(now int64) {
	if now < w.now {
		return
	}
	w.now = now

	for i, spec := range windowSpecs {
		s := &w.sums[i]
		cutoff := now - spec.ms
		for s.head < len(w.points) && w.points[s.head].ts <= cutoff {
			p := w.points[s.head]
			s.volume = s.volume.Sub(p.value)
			if p.buy {
				s.buy = s.buy.Sub(p.value)
			} else {
				s.sell = s.sell.Sub(p.value)
			}
			s.count--
			s.head++
		}
	}

	// Compact once half the slice is outside the longest window.
	drop := w.sums[longest].head
	if drop > 0 && drop*2 >= len(w.points) {
		w.points = append(w.points[:0:0], w.points[drop:]...)
		for i := range w.sums {
			w.sums[i].head -= drop
		}
	}
}

// stats returns the window statistics keyed by window name.
func (w *rollingWindows) stats() map[string]domain.WindowStats {
	out := make(map[string]domain.WindowStats, len(windowSpecs))
	for i, spec := range windowSpecs {
		s := w.sums[i]
		ws := domain.WindowStats{
			Volume:     s.volume,
			BuyVolume:  s.buy,
			SellVolume: s.sell,
			TradeCount: s.count,
		}
		if s.count > 0 {
			first := w.points[s.head].price
			last := w.points[len(w.points)-1].price
			if first.IsPositive() {
				ws.PriceChangePct = last.Sub(first).Div(first).Mul(hundred)
			}
		}
		out[spec.name] = ws
	}
	return out
}

// volume returns the volume of window i.
func (w *rollingWindows) volume(i int) decimal.Decimal {
	return w.sums[i].volume
}
