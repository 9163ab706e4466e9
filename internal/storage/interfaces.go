package storage

import (
	"context"

	"click-datastreams/internal/domain"
)

// TradeStore provides access to the trades table.
type TradeStore interface {
	// InsertTrades appends trades. Redelivered rows collapse on (token, signature, hop).
	InsertTrades(ctx context.Context, trades []domain.Trade) error

	// GetByToken returns the latest trades of a token, newest first.
	GetByToken(ctx context.Context, token string, limit int) ([]domain.Trade, error)
}

// TransferStore provides access to the transfers table.
type TransferStore interface {
	// InsertTransfers appends transfers. Rows collapse on (token, signature, hop).
	InsertTransfers(ctx context.Context, transfers []domain.Transfer) error
}

// CandleStore provides access to the candles table.
type CandleStore interface {
	// UpsertCandles writes candles. For one (token, timeframe, bucket_start)
	// the row with the highest version wins.
	UpsertCandles(ctx context.Context, candles []domain.Candle) error

	// GetRange returns candles with bucket_start in [from, to), ascending.
	GetRange(ctx context.Context, token, timeframe string, from, to int64) ([]domain.Candle, error)
	// GetUnfinalized returns the latest version of every open or provisional
	// candle whose bucket ends at or after since.
	GetUnfinalized(ctx context.Context, since int64) ([]domain.Candle, error)
}

// TokenMetricsStore provides access to token_metrics snapshots.
type TokenMetricsStore interface {
	// InsertMetrics appends snapshots.
	InsertMetrics(ctx context.Context, metrics []domain.TokenMetrics) error

	// GetLatest returns the newest snapshot of a token. Returns ErrNotFound if none.
	GetLatest(ctx context.Context, token string) (*domain.TokenMetrics, error)
}

// DeadLetterStore persists dead-letter records.
type DeadLetterStore interface {
	InsertDeadLetters(ctx context.Context, records []domain.DeadLetter) error
}

// ClassificationStore provides access to wallet classifications.
type ClassificationStore interface {
	// UpsertClassifications replaces the flags of each (wallet, token).
	UpsertClassifications(ctx context.Context, cs []domain.WalletClassification) error

	// GetByWallet returns all classifications of a wallet ordered by token.
	GetByWallet(ctx context.Context, wallet string) ([]domain.WalletClassification, error)

	// GetByToken returns all classifications for a token ordered by wallet.
	GetByToken(ctx context.Context, token string) ([]domain.WalletClassification, error)
}
