package domain

import "github.com/shopspring/decimal"

// Trade is an immutable swap fact.
// Deduplicated by (signature, hop); a multi-hop transaction yields one Trade per hop.
type Trade struct {
	Signature   string          // transaction signature (or venue trade id)
	Hop         int             // index of the swap within the transaction
	Token       string          // token mint address (or "hl:<coin>" for Hyperliquid)
	Pool        string          // pool / market address, may be empty
	Side        string          // "buy" | "sell"
	TokenAmount decimal.Decimal // base token amount
	QuoteAmount decimal.Decimal // quote amount (SOL/USDC/USD)
	Price       decimal.Decimal // quote per token
	Wallet      string          // trader wallet
	Slot        int64           // Solana slot, or venue sequence
	Timestamp   int64           // Unix timestamp in milliseconds
	Venue       string          // source venue, e.g. "pumpfun", "raydium", "hyperliquid"
}

// Trade side constants
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

func (t *Trade) Kind() EventKind  { return EventKindTrade }
func (t *Trade) TokenKey() string { return t.Token }
func (t *Trade) EventTime() int64 { return t.Timestamp }

func (t *Trade) OrderKey() OrderKey {
	return OrderKey{Slot: t.Slot, Signature: t.Signature, Hop: t.Hop}
}

// Value returns the quote value of the trade.
func (t *Trade) Value() decimal.Decimal {
	return t.QuoteAmount
}

// EnrichedTrade is the outbound form of a trade, with token context attached.
type EnrichedTrade struct {
	Trade
	MarketCap     decimal.Decimal `json:"market_cap"`
	HolderCount   int             `json:"holder_count"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	Stage         DiscoveryStage  `json:"stage"`
}
