package publisher

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/domain"
)

// CandleMessage is the wire form of a candle on solana.market_ohlcv.<tf>.
type CandleMessage struct {
	Token       string              `json:"token"`
	Timeframe   string              `json:"timeframe"`
	BucketStart int64               `json:"bucket_start"`
	BucketEnd   int64               `json:"bucket_end"`
	Open        decimal.Decimal     `json:"open"`
	High        decimal.Decimal     `json:"high"`
	Low         decimal.Decimal     `json:"low"`
	Close       decimal.Decimal     `json:"close"`
	Volume      decimal.Decimal     `json:"volume"`
	BaseVolume  decimal.Decimal     `json:"base_volume"`
	TradeCount  int                 `json:"trade_count"`
	Status      domain.CandleStatus `json:"status"`
	Version     uint64              `json:"version"`
}

// EnrichedTradeMessage is the wire form of an enriched trade.
type EnrichedTradeMessage struct {
	Signature     string                `json:"signature"`
	Hop           int                   `json:"hop"`
	Token         string                `json:"token"`
	Pool          string                `json:"pool,omitempty"`
	Side          string                `json:"side"`
	TokenAmount   decimal.Decimal       `json:"token_amount"`
	QuoteAmount   decimal.Decimal       `json:"quote_amount"`
	Price         decimal.Decimal       `json:"price"`
	Wallet        string                `json:"wallet"`
	Slot          int64                 `json:"slot"`
	Timestamp     int64                 `json:"timestamp"`
	Venue         string                `json:"venue,omitempty"`
	MarketCap     decimal.Decimal       `json:"market_cap"`
	HolderCount   int                   `json:"holder_count"`
	WalletBalance decimal.Decimal       `json:"wallet_balance"`
	Stage         domain.DiscoveryStage `json:"stage"`
}

// CandleToMessage converts a candle to its wire form.
func CandleToMessage(c domain.Candle) CandleMessage {
	return CandleMessage{
		Token:       c.Token,
		Timeframe:   c.Timeframe,
		BucketStart: c.BucketStart,
		BucketEnd:   c.BucketEnd,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		BaseVolume:  c.BaseVolume,
		TradeCount:  c.TradeCount,
		Status:      c.Status,
		Version:     c.Version,
	}
}

// Candle returns the domain candle.
func (m CandleMessage) Candle() domain.Candle {
	return domain.Candle{
		Token:       m.Token,
		Timeframe:   m.Timeframe,
		BucketStart: m.BucketStart,
		BucketEnd:   m.BucketEnd,
		Open:        m.Open,
		High:        m.High,
		Low:         m.Low,
		Close:       m.Close,
		Volume:      m.Volume,
		BaseVolume:  m.BaseVolume,
		TradeCount:  m.TradeCount,
		Status:      m.Status,
		Version:     m.Version,
	}
}

// EncodeCandle builds the bus message for a candle.
func EncodeCandle(c domain.Candle) (bus.Message, error) {
	return encode(bus.OHLCVTopic(c.Timeframe), c.Token, CandleToMessage(c))
}

// EncodeEnrichedTrade builds the bus message for an enriched trade.
func EncodeEnrichedTrade(t domain.EnrichedTrade) (bus.Message, error) {
	return encode(bus.TopicEnrichedTrades, t.Token, EnrichedTradeMessage{
		Signature:     t.Signature,
		Hop:           t.Hop,
		Token:         t.Token,
		Pool:          t.Pool,
		Side:          t.Side,
		TokenAmount:   t.TokenAmount,
		QuoteAmount:   t.QuoteAmount,
		Price:         t.Price,
		Wallet:        t.Wallet,
		Slot:          t.Slot,
		Timestamp:     t.Timestamp,
		Venue:         t.Venue,
		MarketCap:     t.MarketCap,
		HolderCount:   t.HolderCount,
		WalletBalance: t.WalletBalance,
		Stage:         t.Stage,
	})
}

// EncodeTokenMetrics builds the bus message for a metrics snapshot.
func EncodeTokenMetrics(m domain.TokenMetrics) (bus.Message, error) {
	return encode(bus.TopicTokenMetrics, m.Token, m)
}

// EncodeStageChange builds the bus message for a discovery stage change.
func EncodeStageChange(c domain.StageChange) (bus.Message, error) {
	return encode(bus.DiscoveryTopic(string(c.To)), c.Token, c)
}

func encode(topic, key string, v interface{}) (bus.Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return bus.Message{}, fmt.Errorf("encode %s: %w", topic, err)
	}
	return bus.Message{Topic: topic, Key: []byte(key), Value: data}, nil
}
