package domain

import "github.com/shopspring/decimal"

// Rolling window names used in token metrics.
const (
	Window5m  = "5m"
	Window1h  = "1h"
	Window6h  = "6h"
	Window24h = "24h"
)

// WindowNames lists rolling windows shortest first.
var WindowNames = []string{Window5m, Window1h, Window6h, Window24h}

// WindowStats aggregates trades inside one rolling window.
type WindowStats struct {
	Volume         decimal.Decimal `json:"volume"`
	BuyVolume      decimal.Decimal `json:"buy_volume"`
	SellVolume     decimal.Decimal `json:"sell_volume"`
	TradeCount     int             `json:"trade_count"`
	PriceChangePct decimal.Decimal `json:"price_change_pct"`
}

// DiscoveryStage is the lifecycle stage of a token as published on solana.discovery.*.
type DiscoveryStage string

const (
	StageNew          DiscoveryStage = "new"
	StageBondingCurve DiscoveryStage = "bonding_curve"
	StageActive       DiscoveryStage = "active"
	StageGraduated    DiscoveryStage = "graduated"
)

// RiskFlag is a bitset of token risk indicators.
type RiskFlag uint32

const (
	RiskHolderConcentration RiskFlag = 1 << iota // top-10 holders own more than the threshold
	RiskDevHolding                               // creator holds more than the threshold
	RiskLowLiquidity                             // pool liquidity below threshold
	RiskMintAfterLaunch                          // supply minted after the first trade
)

// Has reports whether f contains flag.
func (f RiskFlag) Has(flag RiskFlag) bool {
	return f&flag != 0
}

// Names returns the flag names set in f.
func (f RiskFlag) Names() []string {
	var out []string
	if f.Has(RiskHolderConcentration) {
		out = append(out, "holder_concentration")
	}
	if f.Has(RiskDevHolding) {
		out = append(out, "dev_holding")
	}
	if f.Has(RiskLowLiquidity) {
		out = append(out, "low_liquidity")
	}
	if f.Has(RiskMintAfterLaunch) {
		out = append(out, "mint_after_launch")
	}
	return out
}

// TokenState is the authoritative per-token aggregate, owned by one shard worker.
// Updated incrementally; never rewritten wholesale.
type TokenState struct {
	Token        string
	Creator      string
	Decimals     int
	CreationSlot int64
	BondingCurve bool

	DeclaredSupply decimal.Decimal
	Minted         decimal.Decimal
	Burned         decimal.Decimal

	Price     decimal.Decimal
	MarketCap decimal.Decimal
	Liquidity decimal.Decimal
	Pool      string

	Windows map[string]WindowStats

	HolderCount  int
	Top10Share   decimal.Decimal // fraction of supply held by top 10 wallets
	CreatorShare decimal.Decimal
	RiskFlags    RiskFlag
	Stage        DiscoveryStage

	FundingRate        decimal.Decimal
	LiquidatedNotional decimal.Decimal

	TotalVolume decimal.Decimal
	TradeCount  int64

	LastKey     OrderKey // last applied (slot, signature, hop)
	FirstSeenAt int64    // ms
	FirstTrade  int64    // ms, zero until the first trade
	UpdatedAt   int64    // ms, event time of the last applied event
}

// NewTokenState creates state for a first-seen token.
func NewTokenState(token string, seenAt int64) *TokenState {
	return &TokenState{
		Token:       token,
		Windows:     make(map[string]WindowStats, len(WindowNames)),
		Stage:       StageNew,
		FirstSeenAt: seenAt,
	}
}

// Supply returns the circulating supply: minted minus burned when mints were
// observed, otherwise declared supply minus burned.
func (s *TokenState) Supply() decimal.Decimal {
	if s.Minted.IsPositive() {
		return s.Minted.Sub(s.Burned)
	}
	return s.DeclaredSupply.Sub(s.Burned)
}

// TokenMetrics is the published snapshot of a TokenState (solana.token_metrics.v2).
type TokenMetrics struct {
	Token              string                 `json:"token"`
	Price              decimal.Decimal        `json:"price"`
	Supply             decimal.Decimal        `json:"supply"`
	MarketCap          decimal.Decimal        `json:"market_cap"`
	Liquidity          decimal.Decimal        `json:"liquidity"`
	Windows            map[string]WindowStats `json:"windows"`
	HolderCount        int                    `json:"holder_count"`
	Top10Share         decimal.Decimal        `json:"top10_share"`
	RiskFlags          []string               `json:"risk_flags"`
	Stage              DiscoveryStage         `json:"stage"`
	FundingRate        decimal.Decimal        `json:"funding_rate"`
	LiquidatedNotional decimal.Decimal        `json:"liquidated_notional"`
	TotalVolume        decimal.Decimal        `json:"total_volume"`
	TradeCount         int64                  `json:"trade_count"`
	UpdatedAt          int64                  `json:"updated_at"`
}

// Snapshot copies the state into an immutable TokenMetrics value.
func (s *TokenState) Snapshot() TokenMetrics {
	windows := make(map[string]WindowStats, len(s.Windows))
	for k, v := range s.Windows {
		windows[k] = v
	}
	return TokenMetrics{
		Token:              s.Token,
		Price:              s.Price,
		Supply:             s.Supply(),
		MarketCap:          s.MarketCap,
		Liquidity:          s.Liquidity,
		Windows:            windows,
		HolderCount:        s.HolderCount,
		Top10Share:         s.Top10Share,
		RiskFlags:          s.RiskFlags.Names(),
		Stage:              s.Stage,
		FundingRate:        s.FundingRate,
		LiquidatedNotional: s.LiquidatedNotional,
		TotalVolume:        s.TotalVolume,
		TradeCount:         s.TradeCount,
		UpdatedAt:          s.UpdatedAt,
	}
}

// StageChange is published on solana.discovery.<stage>.
type StageChange struct {
	Token     string         `json:"token"`
	From      DiscoveryStage `json:"from"`
	To        DiscoveryStage `json:"to"`
	Slot      int64          `json:"slot"`
	Signature string         `json:"signature"`
	Timestamp int64          `json:"timestamp"`
}
