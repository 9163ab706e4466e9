package memory

import (
	"context"
	"sort"
	"sync"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/storage"
)

type walletToken struct {
	wallet string
	token  string
}

// ClassificationStore is an in-memory implementation of storage.ClassificationStore.
type ClassificationStore struct {
	mu   sync.RWMutex
	data map[walletToken]domain.WalletClassification
}

// NewClassificationStore creates a new in-memory classification store.
func NewClassificationStore() *ClassificationStore {
	return &ClassificationStore{data: make(map[walletToken]domain.WalletClassification)}
}

var _ storage.ClassificationStore = (*ClassificationStore)(nil)

// UpsertClassifications replaces the flags of each (wallet, token).
func (s *ClassificationStore) UpsertClassifications(_ context.Context, cs []domain.WalletClassification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		if c.Wallet == "" || c.Token == "" {
			return storage.ErrInvalidInput
		}
		s.data[walletToken{c.Wallet, c.Token}] = c
	}
	return nil
}

// GetByWallet returns all classifications of a wallet ordered by token.
func (s *ClassificationStore) GetByWallet(_ context.Context, wallet string) ([]domain.WalletClassification, error) {
	s.mu.RLock()
	var out []domain.WalletClassification
	for k, c := range s.data {
		if k.wallet == wallet {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

// GetByToken returns all classifications for a token ordered by wallet.
func (s *ClassificationStore) GetByToken(_ context.Context, token string) ([]domain.WalletClassification, error) {
	s.mu.RLock()
	var out []domain.WalletClassification
	for k, c := range s.data {
		if k.token == token {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out, nil
}
