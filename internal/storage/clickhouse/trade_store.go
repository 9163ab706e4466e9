package clickhouse

import (
	"context"
	"fmt"
	"time"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/observability"
	"click-datastreams/internal/storage"
)

// TradeStore implements storage.TradeStore and storage.TransferStore using ClickHouse.
type TradeStore struct {
	conn *Conn
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(conn *Conn) *TradeStore {
	return &TradeStore{conn: conn}
}

// Compile-time interface checks.
var (
	_ storage.TradeStore    = (*TradeStore)(nil)
	_ storage.TransferStore = (*TradeStore)(nil)
)

// InsertTrades appends trades in one batch.
// Redelivered trades collapse on (token, signature, hop) at merge time.
func (s *TradeStore) InsertTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trades (
			token, signature, hop, pool, side, token_amount, quote_amount,
			price, wallet, slot, timestamp_ms, venue
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		err = batch.Append(
			t.Token, t.Signature, int32(t.Hop), t.Pool, t.Side,
			t.TokenAmount, t.QuoteAmount, t.Price,
			t.Wallet, t.Slot, t.Timestamp, t.Venue,
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

// GetByToken returns the latest trades of a token, newest first.
func (s *TradeStore) GetByToken(ctx context.Context, token string, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT token, signature, hop, pool, side, token_amount, quote_amount,
		       price, wallet, slot, timestamp_ms, venue
		FROM trades FINAL
		WHERE token = ?
		ORDER BY timestamp_ms DESC, slot DESC, signature DESC, hop DESC
		LIMIT ?
	`

	start := time.Now()
	rows, err := s.conn.Query(ctx, query, token, uint64(limit))
	observability.RecordDBQuery("clickhouse", "trades_by_token", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query trades by token: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// InsertTransfers appends transfers in one batch.
func (s *TradeStore) InsertTransfers(ctx context.Context, transfers []domain.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO transfers (
			token, signature, hop, from_wallet, to_wallet, amount, type, slot, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range transfers {
		err = batch.Append(
			t.Token, t.Signature, int32(t.Hop), t.From, t.To,
			t.Amount, string(t.Type), t.Slot, t.Timestamp,
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

func scanTrades(rows chRows) ([]domain.Trade, error) {
	var trades []domain.Trade

	for rows.Next() {
		var t domain.Trade
		var hop int32

		err := rows.Scan(
			&t.Token, &t.Signature, &hop, &t.Pool, &t.Side,
			&t.TokenAmount, &t.QuoteAmount, &t.Price,
			&t.Wallet, &t.Slot, &t.Timestamp, &t.Venue,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Hop = int(hop)
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}
