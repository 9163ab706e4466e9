package clickhouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/observability"
	"click-datastreams/internal/storage"
)

// TokenMetricsStore implements storage.TokenMetricsStore using ClickHouse.
// Rolling windows are stored as a JSON column.
type TokenMetricsStore struct {
	conn *Conn
}

// NewTokenMetricsStore creates a new TokenMetricsStore.
func NewTokenMetricsStore(conn *Conn) *TokenMetricsStore {
	return &TokenMetricsStore{conn: conn}
}

var _ storage.TokenMetricsStore = (*TokenMetricsStore)(nil)

// InsertMetrics appends snapshots in one batch.
func (s *TokenMetricsStore) InsertMetrics(ctx context.Context, metrics []domain.TokenMetrics) error {
	if len(metrics) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO token_metrics (
			token, price, supply, market_cap, liquidity, holder_count, top10_share,
			risk_flags, stage, funding_rate, liquidated_notional, total_volume,
			trade_count, windows, updated_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, m := range metrics {
		windows, err := json.Marshal(m.Windows)
		if err != nil {
			return fmt.Errorf("encode windows for %s: %w", m.Token, err)
		}
		flags := m.RiskFlags
		if flags == nil {
			flags = []string{}
		}
		err = batch.Append(
			m.Token, m.Price, m.Supply, m.MarketCap, m.Liquidity,
			uint32(m.HolderCount), m.Top10Share, flags, string(m.Stage),
			m.FundingRate, m.LiquidatedNotional, m.TotalVolume,
			m.TradeCount, string(windows), m.UpdatedAt,
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

// GetLatest returns the newest snapshot of a token.
func (s *TokenMetricsStore) GetLatest(ctx context.Context, token string) (*domain.TokenMetrics, error) {
	query := `
		SELECT token, price, supply, market_cap, liquidity, holder_count, top10_share,
		       risk_flags, stage, funding_rate, liquidated_notional, total_volume,
		       trade_count, windows, updated_at
		FROM token_metrics
		WHERE token = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`

	start := time.Now()
	row := s.conn.QueryRow(ctx, query, token)

	var m domain.TokenMetrics
	var holderCount uint32
	var stage, windows string
	err := row.Scan(
		&m.Token, &m.Price, &m.Supply, &m.MarketCap, &m.Liquidity,
		&holderCount, &m.Top10Share, &m.RiskFlags, &stage,
		&m.FundingRate, &m.LiquidatedNotional, &m.TotalVolume,
		&m.TradeCount, &windows, &m.UpdatedAt,
	)
	observability.RecordDBQuery("clickhouse", "token_metrics_latest", time.Since(start).Seconds(), err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query latest token metrics: %w", err)
	}

	m.HolderCount = int(holderCount)
	m.Stage = domain.DiscoveryStage(stage)
	if err := json.Unmarshal([]byte(windows), &m.Windows); err != nil {
		return nil, fmt.Errorf("decode windows for %s: %w", token, err)
	}
	return &m, nil
}
