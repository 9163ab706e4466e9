package memory

import (
	"context"
	"sync"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/storage"
)

// TokenMetricsStore is an in-memory implementation of storage.TokenMetricsStore.
// Only the newest snapshot per token is kept.
type TokenMetricsStore struct {
	mu     sync.RWMutex
	latest map[string]domain.TokenMetrics
}

// NewTokenMetricsStore creates a new in-memory token metrics store.
func NewTokenMetricsStore() *TokenMetricsStore {
	return &TokenMetricsStore{latest: make(map[string]domain.TokenMetrics)}
}

var _ storage.TokenMetricsStore = (*TokenMetricsStore)(nil)

// InsertMetrics stores snapshots, keeping the newest per token.
func (s *TokenMetricsStore) InsertMetrics(_ context.Context, metrics []domain.TokenMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metrics {
		if prev, ok := s.latest[m.Token]; ok && prev.UpdatedAt > m.UpdatedAt {
			continue
		}
		s.latest[m.Token] = m
	}
	return nil
}

// GetLatest returns the newest snapshot of a token.
func (s *TokenMetricsStore) GetLatest(_ context.Context, token string) (*domain.TokenMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.latest[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}
