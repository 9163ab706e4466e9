package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/storage"
)

func TestArchiveProgressStore_SetAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewArchiveProgressStore(pool)

	_, err := store.GetProgress(ctx, "1m")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first := &storage.ArchiveProgress{Timeframe: "1m", LastBucketStart: 60000, LastObjectKey: "ohlcv/a.parquet", Files: 1}
	require.NoError(t, store.SetProgress(ctx, first))

	second := &storage.ArchiveProgress{Timeframe: "1m", LastBucketStart: 120000, LastObjectKey: "ohlcv/b.parquet", Files: 2}
	require.NoError(t, store.SetProgress(ctx, second))

	got, err := store.GetProgress(ctx, "1m")
	require.NoError(t, err)
	assert.Equal(t, *second, *got)

	_, err = store.GetProgress(ctx, "1h")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestArchiveProgressStore_RejectsInvalid(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewArchiveProgressStore(pool)
	assert.ErrorIs(t, store.SetProgress(context.Background(), nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.SetProgress(context.Background(), &storage.ArchiveProgress{}), storage.ErrInvalidInput)
}
