package memory

import (
	"context"
	"sync"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/storage"
)

// DeadLetterStore is an in-memory implementation of storage.DeadLetterStore.
type DeadLetterStore struct {
	mu      sync.RWMutex
	records []domain.DeadLetter
}

// NewDeadLetterStore creates a new in-memory dead-letter store.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{}
}

var _ storage.DeadLetterStore = (*DeadLetterStore)(nil)

// InsertDeadLetters appends records.
func (s *DeadLetterStore) InsertDeadLetters(_ context.Context, records []domain.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// Records returns a copy of the stored records.
func (s *DeadLetterStore) Records() []domain.DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DeadLetter, len(s.records))
	copy(out, s.records)
	return out
}
