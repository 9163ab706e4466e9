package domain

import (
	"fmt"
	"time"
)

// Timeframe is a candle bucket duration, named the way topics name it ("1m", "4h").
type Timeframe struct {
	Name     string
	Duration time.Duration
}

// Supported candle timeframes, shortest first.
var (
	Timeframe1s  = Timeframe{"1s", time.Second}
	Timeframe5s  = Timeframe{"5s", 5 * time.Second}
	Timeframe15s = Timeframe{"15s", 15 * time.Second}
	Timeframe30s = Timeframe{"30s", 30 * time.Second}
	Timeframe1m  = Timeframe{"1m", time.Minute}
	Timeframe3m  = Timeframe{"3m", 3 * time.Minute}
	Timeframe5m  = Timeframe{"5m", 5 * time.Minute}
	Timeframe15m = Timeframe{"15m", 15 * time.Minute}
	Timeframe30m = Timeframe{"30m", 30 * time.Minute}
	Timeframe1h  = Timeframe{"1h", time.Hour}
	Timeframe4h  = Timeframe{"4h", 4 * time.Hour}
	Timeframe12h = Timeframe{"12h", 12 * time.Hour}
	Timeframe1d  = Timeframe{"1d", 24 * time.Hour}
	Timeframe1w  = Timeframe{"1w", 7 * 24 * time.Hour}
)

// AllTimeframes lists the 14 supported timeframes.
var AllTimeframes = []Timeframe{
	Timeframe1s, Timeframe5s, Timeframe15s, Timeframe30s,
	Timeframe1m, Timeframe3m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe4h, Timeframe12h,
	Timeframe1d, Timeframe1w,
}

// ParseTimeframe resolves a timeframe by name.
func ParseTimeframe(name string) (Timeframe, error) {
	for _, tf := range AllTimeframes {
		if tf.Name == name {
			return tf, nil
		}
	}
	return Timeframe{}, fmt.Errorf("unknown timeframe %q", name)
}

// ParseTimeframes resolves a list of names. An empty list returns AllTimeframes.
func ParseTimeframes(names []string) ([]Timeframe, error) {
	if len(names) == 0 {
		return AllTimeframes, nil
	}
	out := make([]Timeframe, 0, len(names))
	for _, n := range names {
		tf, err := ParseTimeframe(n)
		if err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}

// Millis returns the bucket duration in milliseconds.
func (tf Timeframe) Millis() int64 {
	return tf.Duration.Milliseconds()
}

// weekAnchorMs moves weekly buckets from the epoch's Thursday to Monday
// 1970-01-05 00:00 UTC, so 1w candles follow ISO weeks.
const weekAnchorMs = 4 * 24 * 60 * 60 * 1000

// BucketStart returns floor(ts / duration) * duration, with weekly buckets
// starting on Monday 00:00 UTC.
// A timestamp equal to a bucket end belongs to the next bucket.
func (tf Timeframe) BucketStart(tsMs int64) int64 {
	d := tf.Millis()
	var anchor int64
	if tf.Duration == Timeframe1w.Duration {
		anchor = weekAnchorMs
	}
	shifted := tsMs - anchor
	start := (shifted / d) * d
	if shifted < 0 && shifted%d != 0 {
		start -= d
	}
	return start + anchor
}

// RetentionDays is the store TTL for candles of this timeframe.
// Shorter timeframes expire sooner.
func (tf Timeframe) RetentionDays() int {
	switch {
	case tf.Duration < time.Minute:
		return 2
	case tf.Duration < time.Hour:
		return 30
	case tf.Duration < 24*time.Hour:
		return 365
	default:
		return 3650
	}
}

func (tf Timeframe) String() string {
	return tf.Name
}
