package clickhouse

import (
	"context"
	"fmt"
	"time"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/observability"
	"click-datastreams/internal/storage"
)

// CandleStore implements storage.CandleStore using a ReplacingMergeTree
// keyed on (token, timeframe, bucket_start) with version as the row version.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

var _ storage.CandleStore = (*CandleStore)(nil)

// UpsertCandles writes candles. Each row carries its expiry, derived from
// the timeframe retention.
func (s *CandleStore) UpsertCandles(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			token, timeframe, bucket_start, bucket_end, open, high, low, close,
			volume, base_volume, trade_count, status, version, expires_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Token, c.Timeframe, c.BucketStart, c.BucketEnd,
			c.Open, c.High, c.Low, c.Close,
			c.Volume, c.BaseVolume, uint32(c.TradeCount), string(c.Status), c.Version,
			expiresAt(c),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func expiresAt(c domain.Candle) time.Time {
	days := 30
	if tf, err := domain.ParseTimeframe(c.Timeframe); err == nil {
		days = tf.RetentionDays()
	}
	return time.UnixMilli(c.BucketEnd).UTC().AddDate(0, 0, days)
}

// GetRange returns the highest version of each candle with bucket_start in [from, to).
func (s *CandleStore) GetRange(ctx context.Context, token, timeframe string, from, to int64) ([]domain.Candle, error) {
	query := `
		SELECT token, timeframe, bucket_start, bucket_end, open, high, low, close,
		       volume, base_volume, trade_count, status, version
		FROM candles FINAL
		WHERE token = ? AND timeframe = ? AND bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start ASC
	`

	start := time.Now()
	rows, err := s.conn.Query(ctx, query, token, timeframe, from, to)
	observability.RecordDBQuery("clickhouse", "candles_range", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query candles by range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetUnfinalized returns open and provisional candles ending at or after since.
func (s *CandleStore) GetUnfinalized(ctx context.Context, since int64) ([]domain.Candle, error) {
	query := `
		SELECT token, timeframe, bucket_start, bucket_end, open, high, low, close,
		       volume, base_volume, trade_count, status, version
		FROM candles FINAL
		WHERE status != 'finalized' AND bucket_end >= ?
		ORDER BY token, timeframe, bucket_start
	`

	start := time.Now()
	rows, err := s.conn.Query(ctx, query, since)
	observability.RecordDBQuery("clickhouse", "candles_unfinalized", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query unfinalized candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

func scanCandles(rows chRows) ([]domain.Candle, error) {
	var candles []domain.Candle

	for rows.Next() {
		var c domain.Candle
		var tradeCount uint32
		var status string

		err := rows.Scan(
			&c.Token, &c.Timeframe, &c.BucketStart, &c.BucketEnd,
			&c.Open, &c.High, &c.Low, &c.Close,
			&c.Volume, &c.BaseVolume, &tradeCount, &status, &c.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.TradeCount = int(tradeCount)
		c.Status = domain.CandleStatus(status)
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}
