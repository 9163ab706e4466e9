package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/storage"
)

func TestClassificationStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewClassificationStore(pool)

	err := store.UpsertClassifications(ctx, []domain.WalletClassification{
		{Wallet: "W1", Token: "B", Flags: domain.WalletSniper | domain.WalletFresh, EvaluatedAt: 1000},
		{Wallet: "W1", Token: "A", Flags: domain.WalletWhale, EvaluatedAt: 1000},
		{Wallet: "W2", Token: "A", Flags: domain.WalletDev, EvaluatedAt: 1000},
	})
	require.NoError(t, err)

	byWallet, err := store.GetByWallet(ctx, "W1")
	require.NoError(t, err)
	require.Len(t, byWallet, 2)
	assert.Equal(t, "A", byWallet[0].Token)
	assert.Equal(t, domain.WalletSniper|domain.WalletFresh, byWallet[1].Flags)

	byToken, err := store.GetByToken(ctx, "A")
	require.NoError(t, err)
	require.Len(t, byToken, 2)
	assert.Equal(t, "W1", byToken[0].Wallet)
	assert.Equal(t, "W2", byToken[1].Wallet)
}

func TestClassificationStore_UpsertReplacesFlags(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewClassificationStore(pool)

	require.NoError(t, store.UpsertClassifications(ctx, []domain.WalletClassification{
		{Wallet: "W1", Token: "A", Flags: domain.WalletSniper, EvaluatedAt: 1000},
	}))
	require.NoError(t, store.UpsertClassifications(ctx, []domain.WalletClassification{
		{Wallet: "W1", Token: "A", Flags: domain.WalletWhale, EvaluatedAt: 2000},
	}))

	got, err := store.GetByWallet(ctx, "W1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.WalletWhale, got[0].Flags)
	assert.Equal(t, int64(2000), got[0].EvaluatedAt)
}

func TestClassificationStore_RejectsEmptyKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	err := NewClassificationStore(pool).UpsertClassifications(context.Background(), []domain.WalletClassification{
		{Wallet: "", Token: "A"},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
