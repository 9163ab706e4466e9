package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore and
// storage.TransferStore. Rows collapse on (token, signature, hop) like the
// ReplacingMergeTree tables do.
type TradeStore struct {
	mu        sync.RWMutex
	trades    map[string]domain.Trade
	transfers map[string]domain.Transfer
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades:    make(map[string]domain.Trade),
		transfers: make(map[string]domain.Transfer),
	}
}

// Compile-time interface checks.
var (
	_ storage.TradeStore    = (*TradeStore)(nil)
	_ storage.TransferStore = (*TradeStore)(nil)
)

func rowKey(token, signature string, hop int) string {
	return fmt.Sprintf("%s|%s|%d", token, signature, hop)
}

// InsertTrades adds trades, replacing rows with the same key.
func (s *TradeStore) InsertTrades(_ context.Context, trades []domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trades {
		if t.Token == "" {
			return storage.ErrInvalidInput
		}
		s.trades[rowKey(t.Token, t.Signature, t.Hop)] = t
	}
	return nil
}

// GetByToken returns the latest trades of a token, newest first.
func (s *TradeStore) GetByToken(_ context.Context, token string, limit int) ([]domain.Trade, error) {
	s.mu.RLock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Token == token {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].OrderKey().Compare(out[j].OrderKey()) > 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertTransfers adds transfers, replacing rows with the same key.
func (s *TradeStore) InsertTransfers(_ context.Context, transfers []domain.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range transfers {
		if t.Token == "" {
			return storage.ErrInvalidInput
		}
		s.transfers[rowKey(t.Token, t.Signature, t.Hop)] = t
	}
	return nil
}

// TransferCount returns the number of stored transfers.
func (s *TradeStore) TransferCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transfers)
}
