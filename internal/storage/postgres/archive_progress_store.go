package postgres

import (
	"context"

	"click-datastreams/internal/storage"
)

// ArchiveProgressStore is a PostgreSQL implementation of storage.ArchiveProgressStore.
// One row per timeframe in archive_progress.
type ArchiveProgressStore struct {
	pool *Pool
}

// NewArchiveProgressStore creates a new PostgreSQL archive progress store.
func NewArchiveProgressStore(pool *Pool) *ArchiveProgressStore {
	return &ArchiveProgressStore{pool: pool}
}

var _ storage.ArchiveProgressStore = (*ArchiveProgressStore)(nil)

// GetProgress returns the progress of a timeframe.
func (s *ArchiveProgressStore) GetProgress(ctx context.Context, timeframe string) (*storage.ArchiveProgress, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT timeframe, last_bucket_start, last_object_key, files
		FROM archive_progress
		WHERE timeframe = $1
	`, timeframe)

	var p storage.ArchiveProgress
	err := row.Scan(&p.Timeframe, &p.LastBucketStart, &p.LastObjectKey, &p.Files)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	return &p, nil
}

// SetProgress saves the progress of a timeframe.
// Uses upsert to handle initial insert and subsequent updates.
func (s *ArchiveProgressStore) SetProgress(ctx context.Context, p *storage.ArchiveProgress) error {
	if p == nil || p.Timeframe == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO archive_progress (timeframe, last_bucket_start, last_object_key, files, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (timeframe) DO UPDATE
		SET last_bucket_start = EXCLUDED.last_bucket_start,
		    last_object_key = EXCLUDED.last_object_key,
		    files = EXCLUDED.files,
		    updated_at = NOW()
	`, p.Timeframe, p.LastBucketStart, p.LastObjectKey, p.Files)

	return err
}
