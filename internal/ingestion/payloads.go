package ingestion

import "github.com/shopspring/decimal"

// Wire formats of the consumed topics. Every payload carries an explicit
// version; an absent version means the topic's current version.

type envelopeHeader struct {
	Version int `json:"version"`
}

type tradePayload struct {
	Signature    string              `json:"signature"`
	Hop          int                 `json:"hop"`
	TokenAddress string              `json:"token_address"`
	PoolAddress  string              `json:"pool_address"`
	Side         string              `json:"side"`
	TokenAmount  decimal.NullDecimal `json:"token_amount"`
	QuoteAmount  decimal.NullDecimal `json:"quote_amount"`
	Price        decimal.NullDecimal `json:"price"`
	Wallet       string              `json:"wallet"`
	Slot         *int64              `json:"slot"`
	Timestamp    *int64              `json:"timestamp"`
	Venue        string              `json:"venue"`
}

type transferPayload struct {
	Signature    string              `json:"signature"`
	Hop          int                 `json:"hop"`
	TokenAddress string              `json:"token_address"`
	From         string              `json:"from"`
	To           string              `json:"to"`
	Amount       decimal.NullDecimal `json:"amount"`
	Type         string              `json:"type"`
	Slot         *int64              `json:"slot"`
	Timestamp    *int64              `json:"timestamp"`
}

type tokenPayload struct {
	TokenAddress string              `json:"token_address"`
	Creator      string              `json:"creator"`
	Name         string              `json:"name"`
	Symbol       string              `json:"symbol"`
	Decimals     int                 `json:"decimals"`
	Supply       decimal.NullDecimal `json:"supply"`
	BondingCurve bool                `json:"bonding_curve"`
	Slot         *int64              `json:"slot"`
	Signature    string              `json:"signature"`
	Timestamp    *int64              `json:"timestamp"`
}

type poolPayload struct {
	PoolAddress  string `json:"pool_address"`
	TokenAddress string `json:"token_address"`
	QuoteMint    string `json:"quote_mint"`
	Venue        string `json:"venue"`
	Graduation   bool   `json:"graduation"`
	Slot         *int64 `json:"slot"`
	Signature    string `json:"signature"`
	Hop          int    `json:"hop"`
	Timestamp    *int64 `json:"timestamp"`
}

type liquidityPayload struct {
	PoolAddress    string              `json:"pool_address"`
	TokenAddress   string              `json:"token_address"`
	Signature      string              `json:"signature"`
	Hop            int                 `json:"hop"`
	Slot           *int64              `json:"slot"`
	Timestamp      *int64              `json:"timestamp"`
	Type           string              `json:"type"`
	AmountToken    decimal.NullDecimal `json:"amount_token"`
	AmountQuote    decimal.NullDecimal `json:"amount_quote"`
	LiquidityAfter decimal.NullDecimal `json:"liquidity_after"`
}

// hlFillPayload mirrors a Hyperliquid WsTrade as relayed onto hyperliquid.fills.
type hlFillPayload struct {
	Coin  string              `json:"coin"`
	Side  string              `json:"side"` // "B" taker bought, "A" taker sold
	Px    decimal.NullDecimal `json:"px"`
	Sz    decimal.NullDecimal `json:"sz"`
	Time  *int64              `json:"time"`
	Hash  string              `json:"hash"`
	Tid   *int64              `json:"tid"`
	Users []string            `json:"users"` // [buyer, seller]
}

type hlFundingPayload struct {
	Coin        string              `json:"coin"`
	FundingRate decimal.NullDecimal `json:"funding_rate"`
	Premium     decimal.NullDecimal `json:"premium"`
	Time        *int64              `json:"time"`
}

type hlLiquidationPayload struct {
	Coin  string              `json:"coin"`
	User  string              `json:"user"`
	Side  string              `json:"side"`
	Size  decimal.NullDecimal `json:"size"`
	Price decimal.NullDecimal `json:"price"`
	Hash  string              `json:"hash"`
	Time  *int64              `json:"time"`
}
