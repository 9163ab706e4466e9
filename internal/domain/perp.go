package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// HyperliquidTokenPrefix namespaces Hyperliquid coins in the token key space.
const HyperliquidTokenPrefix = "hl:"

// HyperliquidToken returns the token key for a Hyperliquid coin.
func HyperliquidToken(coin string) string {
	return HyperliquidTokenPrefix + coin
}

// IsHyperliquid reports whether token is a Hyperliquid coin key.
func IsHyperliquid(token string) bool {
	return strings.HasPrefix(token, HyperliquidTokenPrefix)
}

// Funding is a Hyperliquid funding-rate update (hyperliquid.funding).
type Funding struct {
	Coin      string
	Rate      decimal.Decimal
	Premium   decimal.Decimal
	Sequence  int64
	Timestamp int64 // ms
}

func (f *Funding) Kind() EventKind  { return EventKindFunding }
func (f *Funding) TokenKey() string { return HyperliquidToken(f.Coin) }
func (f *Funding) EventTime() int64 { return f.Timestamp }

// OrderKey identifies a funding update by coin and funding time.
func (f *Funding) OrderKey() OrderKey {
	return OrderKey{Slot: f.Sequence, Signature: "funding:" + f.Coin + ":" + strconv.FormatInt(f.Timestamp, 10)}
}

// Liquidation is a Hyperliquid forced close (hyperliquid.liquidations).
type Liquidation struct {
	Coin      string
	User      string
	Side      string
	Size      decimal.Decimal
	Price     decimal.Decimal
	Hash      string
	Sequence  int64
	Timestamp int64 // ms
}

func (l *Liquidation) Kind() EventKind  { return EventKindLiquidation }
func (l *Liquidation) TokenKey() string { return HyperliquidToken(l.Coin) }
func (l *Liquidation) EventTime() int64 { return l.Timestamp }

func (l *Liquidation) OrderKey() OrderKey {
	return OrderKey{Slot: l.Sequence, Signature: l.Hash}
}

// Notional returns size * price.
func (l *Liquidation) Notional() decimal.Decimal {
	return l.Size.Mul(l.Price)
}
