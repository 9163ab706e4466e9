package memory

import (
	"context"
	"sync"

	"click-datastreams/internal/storage"
)

// ArchiveProgressStore is an in-memory implementation of storage.ArchiveProgressStore.
type ArchiveProgressStore struct {
	mu       sync.RWMutex
	progress map[string]storage.ArchiveProgress
}

// NewArchiveProgressStore creates a new in-memory archive progress store.
func NewArchiveProgressStore() *ArchiveProgressStore {
	return &ArchiveProgressStore{progress: make(map[string]storage.ArchiveProgress)}
}

var _ storage.ArchiveProgressStore = (*ArchiveProgressStore)(nil)

// GetProgress returns the progress of a timeframe.
func (s *ArchiveProgressStore) GetProgress(_ context.Context, timeframe string) (*storage.ArchiveProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[timeframe]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

// SetProgress saves the progress of a timeframe.
func (s *ArchiveProgressStore) SetProgress(_ context.Context, progress *storage.ArchiveProgress) error {
	if progress == nil || progress.Timeframe == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress[progress.Timeframe] = *progress
	return nil
}
