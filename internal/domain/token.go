package domain

import "github.com/shopspring/decimal"

// TokenInfo is a token creation / metadata event from solana.tokens.v2.
type TokenInfo struct {
	Mint         string
	Creator      string
	Name         string
	Symbol       string
	Decimals     int
	Supply       decimal.Decimal // declared total supply
	BondingCurve bool            // launched on a bonding curve
	Slot         int64           // creation slot
	Signature    string
	Timestamp    int64 // ms
}

func (t *TokenInfo) Kind() EventKind  { return EventKindToken }
func (t *TokenInfo) TokenKey() string { return t.Mint }
func (t *TokenInfo) EventTime() int64 { return t.Timestamp }

func (t *TokenInfo) OrderKey() OrderKey {
	return OrderKey{Slot: t.Slot, Signature: t.Signature}
}

// PoolEvent announces a pool for a token (solana.pools.v1_0_0).
// A pool created for a bonding-curve token marks its graduation.
type PoolEvent struct {
	Pool       string
	Token      string
	QuoteMint  string
	Venue      string
	Graduation bool
	Slot       int64
	Signature  string
	Hop        int
	Timestamp  int64 // ms
}

func (p *PoolEvent) Kind() EventKind  { return EventKindPool }
func (p *PoolEvent) TokenKey() string { return p.Token }
func (p *PoolEvent) EventTime() int64 { return p.Timestamp }

func (p *PoolEvent) OrderKey() OrderKey {
	return OrderKey{Slot: p.Slot, Signature: p.Signature, Hop: p.Hop}
}

// LiquidityEvent represents a liquidity add/remove (solana.liquidity_events.v1).
type LiquidityEvent struct {
	Pool           string
	Token          string
	Signature      string
	Hop            int
	Slot           int64
	Timestamp      int64  // ms
	Type           string // "add" | "remove"
	AmountToken    decimal.Decimal
	AmountQuote    decimal.Decimal
	LiquidityAfter decimal.NullDecimal // quote-side pool liquidity after event, if reported
}

// Liquidity event type constants
const (
	LiquidityAdd    = "add"
	LiquidityRemove = "remove"
)

func (l *LiquidityEvent) Kind() EventKind  { return EventKindLiquidity }
func (l *LiquidityEvent) TokenKey() string { return l.Token }
func (l *LiquidityEvent) EventTime() int64 { return l.Timestamp }

func (l *LiquidityEvent) OrderKey() OrderKey {
	return OrderKey{Slot: l.Slot, Signature: l.Signature, Hop: l.Hop}
}
