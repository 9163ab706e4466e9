package classification

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/domain"
)

const (
	creator = "Creator1111"
	funder  = "Funder22222"
)

func flagsByWallet(cs []domain.WalletClassification) map[string]domain.WalletFlag {
	out := make(map[string]domain.WalletFlag, len(cs))
	for _, c := range cs {
		out[c.Wallet] = c.Flags
	}
	return out
}

func TestClassify_Rules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KOLWallets = []string{"kol"}
	c := NewClassifier(cfg)

	act := domain.TokenActivity{
		Token:        "X",
		Creator:      creator,
		CreationSlot: 100,
		FirstTradeAt: 5000,
		Supply:       decimal.NewFromInt(1000),
		Holders: []domain.HolderBalance{
			{Token: "X", Wallet: "whale", Balance: decimal.NewFromInt(10)},
			{Token: "X", Wallet: "minnow", Balance: decimal.NewFromInt(9)},
		},
		Wallets: []domain.WalletActivity{
			{Wallet: "sniper", FirstSeenAt: 5000, FirstBuySlot: 102, FirstBuyAt: 5000},
			{Wallet: "late", FirstSeenAt: 9000, FirstBuySlot: 103, FirstBuyAt: 9000},
			{Wallet: "insider", FirstSeenAt: 1000, FirstInbound: true, FundedBy: creator, FundedAt: 1000},
			{Wallet: "b1", FirstSeenAt: 1, FirstInbound: true, FundedBy: funder, FundedAt: 1, FirstBuySlot: 200, FirstBuyAt: 90_000_000},
			{Wallet: "b2", FirstSeenAt: 1, FirstInbound: true, FundedBy: funder, FundedAt: 1, FirstBuySlot: 200, FirstBuyAt: 90_000_000},
			{Wallet: "b3", FirstSeenAt: 1, FirstInbound: true, FundedBy: funder, FundedAt: 1, FirstBuySlot: 200, FirstBuyAt: 90_000_000},
			{Wallet: "pair1", FundedBy: "other", FundedAt: 1, FirstBuySlot: 300, FirstBuyAt: 1},
			{Wallet: "pair2", FundedBy: "other", FundedAt: 1, FirstBuySlot: 300, FirstBuyAt: 1},
			{Wallet: "fresh", FirstSeenAt: 10_000, FirstInbound: true, FundedBy: "x", FundedAt: 10_000, FirstBuySlot: 400, FirstBuyAt: 20_000},
			{Wallet: "kol", FirstSeenAt: 1, FirstBuySlot: 500, FirstBuyAt: 1},
		},
	}

	got := flagsByWallet(c.Classify(act, 42))

	assert.Equal(t, domain.WalletDev, got[creator])
	assert.Equal(t, domain.WalletSniper, got["sniper"])
	assert.NotContains(t, got, "late")
	assert.Equal(t, domain.WalletInsider, got["insider"])
	for _, w := range []string{"b1", "b2", "b3"} {
		assert.True(t, got[w].Has(domain.WalletBundler), w)
		assert.False(t, got[w].Has(domain.WalletFresh), "%s bought more than a day after first activity", w)
	}
	assert.NotContains(t, got, "pair1", "two wallets are below the bundler minimum")
	assert.Equal(t, domain.WalletFresh, got["fresh"])
	assert.Equal(t, domain.WalletKOL, got["kol"])
	assert.Equal(t, domain.WalletWhale, got["whale"])
	assert.NotContains(t, got, "minnow")
}

func TestClassify_InsiderRequiresFundingBeforeFirstTrade(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	act := domain.TokenActivity{
		Token:        "X",
		Creator:      creator,
		FirstTradeAt: 1000,
		Wallets: []domain.WalletActivity{
			{Wallet: "after", FundedBy: creator, FundedAt: 2000},
		},
	}
	got := flagsByWallet(c.Classify(act, 0))
	assert.NotContains(t, got, "after")
}

func TestClassify_ResultsSortedAndStamped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KOLWallets = []string{"b", "a"}
	c := NewClassifier(cfg)
	act := domain.TokenActivity{
		Token:   "X",
		Wallets: []domain.WalletActivity{{Wallet: "b"}, {Wallet: "a"}, {Wallet: "c"}},
	}

	got := c.Classify(act, 777)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Wallet)
	assert.Equal(t, "b", got[1].Wallet)
	assert.Equal(t, int64(777), got[0].EvaluatedAt)
	assert.Equal(t, "X", got[0].Token)
}

func TestClassify_ZeroSupplyHasNoWhales(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	act := domain.TokenActivity{
		Token:   "X",
		Holders: []domain.HolderBalance{{Wallet: "w", Balance: decimal.NewFromInt(5)}},
	}
	assert.Empty(t, c.Classify(act, 0))
}
