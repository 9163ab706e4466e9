package domain

import "github.com/shopspring/decimal"

// CandleStatus is the lifecycle state of a candle bucket.
type CandleStatus string

const (
	// CandleOpen: bucket end has not passed yet.
	CandleOpen CandleStatus = "open"
	// CandleProvisional: bucket end passed, still amendable within the grace period.
	CandleProvisional CandleStatus = "provisional"
	// CandleFinalized: immutable, eligible for archival.
	CandleFinalized CandleStatus = "finalized"
)

// Candle is an OHLCV bucket for (token, timeframe, bucket start).
// Open is the price of the earliest trade by event timestamp, Close the latest.
type Candle struct {
	Token       string
	Timeframe   string
	BucketStart int64 // ms, inclusive
	BucketEnd   int64 // ms, exclusive
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal // quote volume
	BaseVolume  decimal.Decimal // token volume
	TradeCount  int
	Status      CandleStatus
	Version     uint64 // bumped on every amendment; store keeps the highest
}

// Consistent reports whether high >= open,close >= low.
func (c *Candle) Consistent() bool {
	return c.High.GreaterThanOrEqual(c.Open) &&
		c.High.GreaterThanOrEqual(c.Close) &&
		c.Low.LessThanOrEqual(c.Open) &&
		c.Low.LessThanOrEqual(c.Close)
}
