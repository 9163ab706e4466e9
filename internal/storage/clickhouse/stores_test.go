package clickhouse

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/storage"
)

func TestTradeStore_DecimalRoundTrip(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(conn)

	trade := domain.Trade{
		Signature:   "5h3kXvQ9sig",
		Hop:         1,
		Token:       "X",
		Pool:        "P",
		Side:        domain.SideBuy,
		TokenAmount: decimal.RequireFromString("123456789.123456789012345678"),
		QuoteAmount: decimal.RequireFromString("0.000000000000000001"),
		Price:       decimal.RequireFromString("0.000000008100000000"),
		Wallet:      "W",
		Slot:        250000000,
		Timestamp:   1735725600000,
		Venue:       "pumpfun",
	}
	require.NoError(t, store.InsertTrades(ctx, []domain.Trade{trade}))

	got, err := store.GetByToken(ctx, "X", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].TokenAmount.Equal(trade.TokenAmount), "token amount %s", got[0].TokenAmount)
	assert.True(t, got[0].QuoteAmount.Equal(trade.QuoteAmount), "quote amount %s", got[0].QuoteAmount)
	assert.True(t, got[0].Price.Equal(trade.Price), "price %s", got[0].Price)
	assert.Equal(t, 1, got[0].Hop)
	assert.Equal(t, trade.Slot, got[0].Slot)
}

func TestTradeStore_RedeliveryCollapses(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(conn)

	trade := domain.Trade{Signature: "sig", Token: "X", Side: domain.SideSell, Price: decimal.NewFromInt(1), Timestamp: 1000}
	require.NoError(t, store.InsertTrades(ctx, []domain.Trade{trade}))
	require.NoError(t, store.InsertTrades(ctx, []domain.Trade{trade}))

	got, err := store.GetByToken(ctx, "X", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, store.InsertTransfers(ctx, []domain.Transfer{{
		Signature: "sig", Token: "X", From: "A", To: "B", Amount: decimal.NewFromInt(5),
		Type: domain.TransferTypeTransfer, Slot: 1, Timestamp: 1000,
	}}))
}

func TestCandleStore_HighestVersionWins(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(conn)

	base := int64(1735725600000)
	provisional := domain.Candle{
		Token: "X", Timeframe: "1m", BucketStart: base, BucketEnd: base + 60000,
		Open: decimal.NewFromInt(2), High: decimal.NewFromInt(5), Low: decimal.NewFromInt(2), Close: decimal.NewFromInt(5),
		Volume: decimal.RequireFromString("7.5"), TradeCount: 2, Status: domain.CandleProvisional, Version: 1,
	}
	final := provisional
	final.Close = decimal.NewFromInt(3)
	final.TradeCount = 3
	final.Status = domain.CandleFinalized
	final.Version = 2

	require.NoError(t, store.UpsertCandles(ctx, []domain.Candle{final}))
	require.NoError(t, store.UpsertCandles(ctx, []domain.Candle{provisional}))

	got, err := store.GetRange(ctx, "X", "1m", base, base+60000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Version)
	assert.Equal(t, domain.CandleFinalized, got[0].Status)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(3)))
	assert.True(t, got[0].Volume.Equal(decimal.RequireFromString("7.5")))
	assert.Equal(t, 3, got[0].TradeCount)

	none, err := store.GetRange(ctx, "X", "1m", base+60000, base+120000)
	require.NoError(t, err)
	assert.Empty(t, none)

	open := provisional
	open.Token = "Y"
	require.NoError(t, store.UpsertCandles(ctx, []domain.Candle{open}))

	unfinalized, err := store.GetUnfinalized(ctx, base)
	require.NoError(t, err)
	require.Len(t, unfinalized, 1)
	assert.Equal(t, "Y", unfinalized[0].Token)
}

func TestTokenMetricsStore_GetLatest(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetricsStore(conn)

	_, err := store.GetLatest(ctx, "X")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	older := domain.TokenMetrics{Token: "X", Price: decimal.NewFromInt(1), UpdatedAt: 1000, Stage: domain.StageNew}
	newer := domain.TokenMetrics{
		Token: "X", Price: decimal.RequireFromString("1.25"), Supply: decimal.NewFromInt(1000000),
		HolderCount: 42, Top10Share: decimal.RequireFromString("0.61"),
		RiskFlags: []string{"holder_concentration"}, Stage: domain.StageActive, TradeCount: 9,
		Windows: map[string]domain.WindowStats{
			domain.Window5m: {Volume: decimal.RequireFromString("12.5"), TradeCount: 3},
		},
		UpdatedAt: 2000,
	}
	require.NoError(t, store.InsertMetrics(ctx, []domain.TokenMetrics{older, newer}))

	got, err := store.GetLatest(ctx, "X")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(newer.Price))
	assert.Equal(t, 42, got.HolderCount)
	assert.Equal(t, []string{"holder_concentration"}, got.RiskFlags)
	assert.Equal(t, domain.StageActive, got.Stage)
	assert.True(t, got.Windows[domain.Window5m].Volume.Equal(decimal.RequireFromString("12.5")))
}

func TestDeadLetterStore_Insert(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewDeadLetterStore(conn)

	require.NoError(t, store.InsertDeadLetters(ctx, []domain.DeadLetter{
		{SourceTopic: "solana.trades.v3", ErrorKind: "MissingRequiredField", Error: "token_address", Excerpt: "{}", Sequence: 7, ReceivedAt: 1000},
		{SourceTopic: "solana.trades.v3", ErrorKind: "MalformedPayload", Error: "bad json", Excerpt: "{", Sequence: 8, ReceivedAt: 1001},
	}))

	n, err := store.CountByKind(ctx, "MissingRequiredField")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}
