package state

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/dedup"
	"click-datastreams/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestUpdater() *Updater {
	return NewUpdater(DefaultOptions())
}

func mint(token, to string, amount int64, slot int64) *domain.Transfer {
	return &domain.Transfer{
		Signature: "mint" + to, Token: token, To: to, Amount: dec(amount),
		Type: domain.TransferTypeMint, Slot: slot, Timestamp: t0,
	}
}

func trade(token, sig string, slot int64, ts int64, price, quote int64, side string) *domain.Trade {
	return &domain.Trade{
		Signature: sig, Token: token, Side: side, Wallet: "W1",
		TokenAmount: dec(quote).Div(dec(price)), QuoteAmount: dec(quote), Price: dec(price),
		Slot: slot, Timestamp: ts,
	}
}

func TestUpdater_DuplicateTradeAppliedOnce(t *testing.T) {
	u := newTestUpdater()
	w := dedup.NewWindow(1000, time.Minute)

	tr := trade("X", "abc", 10, t0, 2, 100, domain.SideBuy)
	redelivered := *tr

	for _, ev := range []*domain.Trade{tr, &redelivered} {
		if w.CheckEvent(ev) {
			continue
		}
		_, err := u.Apply(ev)
		require.NoError(t, err)
	}

	s, ok := u.State("X")
	require.True(t, ok)
	assert.Equal(t, int64(1), s.TradeCount)
	assert.True(t, s.TotalVolume.Equal(dec(100)), "volume %s", s.TotalVolume)
}

func TestUpdater_TransferMovesBalance(t *testing.T) {
	u := newTestUpdater()
	_, err := u.Apply(mint("X", "A", 150, 1))
	require.NoError(t, err)

	_, err = u.Apply(&domain.Transfer{
		Signature: "t1", Token: "X", From: "A", To: "B", Amount: dec(100),
		Type: domain.TransferTypeTransfer, Slot: 2, Timestamp: t0 + 1000,
	})
	require.NoError(t, err)

	holders := u.Holders("X")
	require.Len(t, holders, 2)
	assert.Equal(t, "A", holders[0].Wallet)
	assert.True(t, holders[0].Balance.Equal(dec(50)))
	assert.Equal(t, "B", holders[1].Wallet)
	assert.True(t, holders[1].Balance.Equal(dec(100)))
}

func TestUpdater_SupplyMatchesBalances(t *testing.T) {
	u := newTestUpdater()
	events := []domain.Event{
		mint("X", "A", 500, 1),
		mint("X", "B", 300, 2),
		&domain.Transfer{Signature: "t1", Token: "X", From: "A", To: "C", Amount: dec(120), Type: domain.TransferTypeTransfer, Slot: 3},
		&domain.Transfer{Signature: "b1", Token: "X", From: "B", Amount: dec(300), Type: domain.TransferTypeBurn, Slot: 4},
	}
	for _, ev := range events {
		_, err := u.Apply(ev)
		require.NoError(t, err)
	}

	s, _ := u.State("X")
	assert.True(t, s.Supply().Equal(dec(500)), "supply %s", s.Supply())
	assert.True(t, u.tokens["X"].holders.total().Equal(s.Supply()))
	assert.Len(t, u.Holders("X"), 2, "burned-out wallet is no longer a holder")
}

func TestUpdater_RejectsNonPositivePrice(t *testing.T) {
	u := newTestUpdater()
	_, err := u.Apply(&domain.Trade{
		Signature: "abc", Token: "X", Side: domain.SideBuy,
		TokenAmount: dec(10), QuoteAmount: dec(100), Price: decimal.Zero, Slot: 10, Timestamp: t0,
	})

	require.ErrorIs(t, err, ErrInvariantViolation)
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ReasonNonPositivePrice, ie.Reason)
	assert.Equal(t, 0, u.Len())
}

func TestUpdater_RejectsOverdraftWithoutMutation(t *testing.T) {
	u := newTestUpdater()
	_, err := u.Apply(mint("X", "A", 150, 1))
	require.NoError(t, err)

	_, err = u.Apply(&domain.Transfer{
		Signature: "t1", Token: "X", From: "A", To: "B", Amount: dec(200),
		Type: domain.TransferTypeTransfer, Slot: 2,
	})
	require.ErrorIs(t, err, ErrInvariantViolation)

	holders := u.Holders("X")
	require.Len(t, holders, 1)
	assert.True(t, holders[0].Balance.Equal(dec(150)))
}

func TestUpdater_StaleTradeKeepsPrice(t *testing.T) {
	u := newTestUpdater()
	_, err := u.Apply(trade("X", "b", 10, t0+1000, 2, 100, domain.SideBuy))
	require.NoError(t, err)

	d, err := u.Apply(trade("X", "a", 5, t0, 1, 50, domain.SideSell))
	require.NoError(t, err)
	assert.True(t, d.StalePrice)
	require.NotNil(t, d.Trade)

	s, _ := u.State("X")
	assert.True(t, s.Price.Equal(dec(2)), "price %s", s.Price)
	assert.True(t, s.TotalVolume.Equal(dec(150)))
	assert.Equal(t, int64(10), s.LastKey.Slot)
}

func TestUpdater_FirstSeenEmitsNewStage(t *testing.T) {
	u := newTestUpdater()
	d, err := u.Apply(trade("X", "a", 1, t0, 1, 10, domain.SideBuy))
	require.NoError(t, err)
	require.Len(t, d.StageChanges, 1)
	assert.Equal(t, domain.StageNew, d.StageChanges[0].To)

	d, err = u.Apply(trade("X", "b", 2, t0, 1, 10, domain.SideBuy))
	require.NoError(t, err)
	assert.Empty(t, d.StageChanges)
}

func TestUpdater_VolumeSpikeMarksActive(t *testing.T) {
	u := newTestUpdater()
	_, err := u.Apply(trade("X", "a", 1, t0, 1, 10, domain.SideBuy))
	require.NoError(t, err)
	_, err = u.Apply(trade("X", "b", 2, t0+hourMs, 1, 10, domain.SideBuy))
	require.NoError(t, err)

	d, err := u.Apply(trade("X", "c", 3, t0+23*hourMs, 1, 1, domain.SideBuy))
	require.NoError(t, err)
	assert.Empty(t, d.StageChanges, "small trade is no spike")

	d, err = u.Apply(trade("X", "d", 4, t0+23*hourMs+1000, 1, 100, domain.SideBuy))
	require.NoError(t, err)
	require.Len(t, d.StageChanges, 1)
	assert.Equal(t, domain.StageNew, d.StageChanges[0].From)
	assert.Equal(t, domain.StageActive, d.StageChanges[0].To)
	assert.Equal(t, domain.StageActive, d.Trade.Stage)
}

func TestUpdater_NoSpikeWithoutHistory(t *testing.T) {
	u := newTestUpdater()
	_, err := u.Apply(trade("X", "a", 1, t0, 1, 1, domain.SideBuy))
	require.NoError(t, err)
	d, err := u.Apply(trade("X", "b", 2, t0+time.Minute.Milliseconds(), 1, 1000, domain.SideBuy))
	require.NoError(t, err)
	assert.Empty(t, d.StageChanges)
}

func TestUpdater_GraduationIsTerminal(t *testing.T) {
	u := newTestUpdater()
	d, err := u.Apply(&domain.TokenInfo{Mint: "X", Creator: "C", Supply: dec(1000), BondingCurve: true, Slot: 1, Signature: "c", Timestamp: t0})
	require.NoError(t, err)
	require.Len(t, d.StageChanges, 2)
	assert.Equal(t, domain.StageBondingCurve, d.StageChanges[1].To)

	d, err = u.Apply(&domain.PoolEvent{Pool: "P", Token: "X", Slot: 5, Signature: "p", Timestamp: t0 + 1000})
	require.NoError(t, err)
	require.Len(t, d.StageChanges, 1)
	assert.Equal(t, domain.StageBondingCurve, d.StageChanges[0].From)
	assert.Equal(t, domain.StageGraduated, d.StageChanges[0].To)

	_, err = u.Apply(trade("X", "a", 6, t0, 1, 10, domain.SideBuy))
	require.NoError(t, err)
	_, err = u.Apply(trade("X", "b", 7, t0+hourMs, 1, 10, domain.SideBuy))
	require.NoError(t, err)
	d, err = u.Apply(trade("X", "c", 8, t0+2*hourMs, 1, 10000, domain.SideBuy))
	require.NoError(t, err)
	assert.Empty(t, d.StageChanges)

	s, _ := u.State("X")
	assert.Equal(t, domain.StageGraduated, s.Stage)
}

func TestUpdater_HyperliquidHasNoDiscovery(t *testing.T) {
	u := newTestUpdater()
	d, err := u.Apply(&domain.Trade{
		Signature: "0xabc", Token: domain.HyperliquidToken("BTC"), Side: domain.SideBuy,
		TokenAmount: dec(1), QuoteAmount: dec(60000), Price: dec(60000), Slot: t0, Timestamp: t0,
	})
	require.NoError(t, err)
	assert.Empty(t, d.StageChanges)

	_, err = u.Apply(&domain.Funding{Coin: "BTC", Rate: decimal.RequireFromString("0.0001"), Timestamp: t0})
	require.NoError(t, err)
	_, err = u.Apply(&domain.Liquidation{Coin: "BTC", Size: dec(2), Price: dec(59000), Hash: "0xdef", Timestamp: t0})
	require.NoError(t, err)

	m, ok := u.Snapshot(domain.HyperliquidToken("BTC"), t0)
	require.True(t, ok)
	assert.True(t, m.FundingRate.Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, m.LiquidatedNotional.Equal(dec(118000)))
	assert.Empty(t, u.Activity())
}

func TestUpdater_RiskFlags(t *testing.T) {
	u := newTestUpdater()
	_, err := u.Apply(&domain.TokenInfo{Mint: "X", Creator: "C", Supply: dec(1000), Slot: 1, Signature: "c", Timestamp: t0})
	require.NoError(t, err)
	_, err = u.Apply(mint("X", "C", 600, 1))
	require.NoError(t, err)
	_, err = u.Apply(&domain.PoolEvent{Pool: "P", Token: "X", Slot: 2, Signature: "p", Timestamp: t0})
	require.NoError(t, err)

	m, ok := u.Snapshot("X", t0)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"holder_concentration", "dev_holding", "low_liquidity"}, m.RiskFlags)

	_, err = u.Apply(trade("X", "a", 3, t0, 1, 10, domain.SideBuy))
	require.NoError(t, err)
	_, err = u.Apply(mint("X", "D", 10, 4))
	require.NoError(t, err)
	m, _ = u.Snapshot("X", t0)
	assert.Contains(t, m.RiskFlags, "mint_after_launch")
}

func TestUpdater_ConcentrationSkipsPDAs(t *testing.T) {
	opts := DefaultOptions()
	opts.IsPDA = func(addr string) bool { return addr == "vault" }
	u := NewUpdater(opts)

	_, err := u.Apply(mint("X", "vault", 900, 1))
	require.NoError(t, err)
	_, err = u.Apply(mint("X", "A", 100, 2))
	require.NoError(t, err)

	m, _ := u.Snapshot("X", t0)
	assert.True(t, m.Top10Share.Equal(decimal.RequireFromString("0.1")), "top10 %s", m.Top10Share)
	assert.NotContains(t, m.RiskFlags, "holder_concentration")
	assert.Equal(t, 2, m.HolderCount)
}

func TestUpdater_WindowsInSnapshot(t *testing.T) {
	u := newTestUpdater()
	_, err := u.Apply(trade("X", "a", 1, t0, 1, 10, domain.SideBuy))
	require.NoError(t, err)
	_, err = u.Apply(trade("X", "b", 2, t0+10*time.Minute.Milliseconds(), 2, 30, domain.SideSell))
	require.NoError(t, err)

	m, _ := u.Snapshot("X", t0+10*time.Minute.Milliseconds())
	w5 := m.Windows[domain.Window5m]
	assert.True(t, w5.Volume.Equal(dec(30)))
	assert.True(t, w5.SellVolume.Equal(dec(30)))
	assert.Equal(t, 1, w5.TradeCount)

	w1h := m.Windows[domain.Window1h]
	assert.True(t, w1h.Volume.Equal(dec(40)))
	assert.True(t, w1h.BuyVolume.Equal(dec(10)))
	assert.True(t, w1h.PriceChangePct.Equal(dec(100)), "change %s", w1h.PriceChangePct)

	m, _ = u.Snapshot("X", t0+2*hourMs)
	assert.True(t, m.Windows[domain.Window1h].Volume.IsZero())
	assert.True(t, m.Windows[domain.Window24h].Volume.Equal(dec(40)))
}

func TestUpdater_DirtySnapshots(t *testing.T) {
	u := newTestUpdater()
	_, err := u.Apply(trade("Y", "a", 1, t0, 1, 10, domain.SideBuy))
	require.NoError(t, err)
	_, err = u.Apply(trade("X", "b", 1, t0, 1, 10, domain.SideBuy))
	require.NoError(t, err)

	snaps := u.DirtySnapshots(t0)
	require.Len(t, snaps, 2)
	assert.Equal(t, "X", snaps[0].Token)
	assert.Equal(t, "Y", snaps[1].Token)
	assert.Nil(t, u.DirtySnapshots(t0))
}

func TestUpdater_ActivityTracksFunding(t *testing.T) {
	u := newTestUpdater()
	_, err := u.Apply(&domain.TokenInfo{Mint: "X", Creator: "C", Supply: dec(1000), Slot: 100, Signature: "c", Timestamp: t0})
	require.NoError(t, err)
	_, err = u.Apply(mint("X", "C", 1000, 100))
	require.NoError(t, err)
	_, err = u.Apply(&domain.Transfer{Signature: "f", Token: "X", From: "C", To: "W1", Amount: dec(5), Type: domain.TransferTypeTransfer, Slot: 101, Timestamp: t0 + 1000})
	require.NoError(t, err)
	_, err = u.Apply(trade("X", "buy", 102, t0+2000, 1, 10, domain.SideBuy))
	require.NoError(t, err)

	act := u.Activity()
	require.Len(t, act, 1)
	assert.Equal(t, "C", act[0].Creator)
	assert.Equal(t, int64(100), act[0].CreationSlot)

	var w1 *domain.WalletActivity
	for i := range act[0].Wallets {
		if act[0].Wallets[i].Wallet == "W1" {
			w1 = &act[0].Wallets[i]
		}
	}
	require.NotNil(t, w1)
	assert.Equal(t, "C", w1.FundedBy)
	assert.True(t, w1.FirstInbound)
	assert.Equal(t, int64(102), w1.FirstBuySlot)
	assert.Equal(t, t0+2000, w1.FirstBuyAt)
}

func liquidity(sig, typ string, quote int64, after *int64) *domain.LiquidityEvent {
	l := &domain.LiquidityEvent{
		Pool: "P", Token: "X", Signature: sig, Slot: 1, Timestamp: t0,
		Type: typ, AmountQuote: dec(quote),
	}
	if after != nil {
		l.LiquidityAfter = decimal.NewNullDecimal(dec(*after))
	}
	return l
}

func TestUpdater_LiquidityAfterOverridesRunningTotal(t *testing.T) {
	u := newTestUpdater()
	zero := int64(0)
	reported := int64(500)

	_, err := u.Apply(liquidity("l1", domain.LiquidityAdd, 100, nil))
	require.NoError(t, err)
	s, _ := u.State("X")
	assert.True(t, s.Liquidity.Equal(dec(100)), "liquidity %s", s.Liquidity)

	_, err = u.Apply(liquidity("l2", domain.LiquidityAdd, 50, &reported))
	require.NoError(t, err)
	s, _ = u.State("X")
	assert.True(t, s.Liquidity.Equal(dec(500)), "liquidity %s", s.Liquidity)

	// A pool drained to exactly zero stays at zero rather than 500-30.
	_, err = u.Apply(liquidity("l3", domain.LiquidityRemove, 30, &zero))
	require.NoError(t, err)
	s, _ = u.State("X")
	assert.True(t, s.Liquidity.IsZero(), "liquidity %s", s.Liquidity)

	_, err = u.Apply(liquidity("l4", domain.LiquidityRemove, 1, nil))
	assert.Error(t, err)
}
