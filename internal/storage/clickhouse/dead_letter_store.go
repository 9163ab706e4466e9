package clickhouse

import (
	"context"
	"fmt"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/storage"
)

// DeadLetterStore implements storage.DeadLetterStore using ClickHouse.
type DeadLetterStore struct {
	conn *Conn
}

// NewDeadLetterStore creates a new DeadLetterStore.
func NewDeadLetterStore(conn *Conn) *DeadLetterStore {
	return &DeadLetterStore{conn: conn}
}

var _ storage.DeadLetterStore = (*DeadLetterStore)(nil)

// InsertDeadLetters appends records in one batch.
func (s *DeadLetterStore) InsertDeadLetters(ctx context.Context, records []domain.DeadLetter) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO dead_letters (
			source_topic, error_kind, error, excerpt, partition, sequence, received_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.SourceTopic, r.ErrorKind, r.Error, r.Excerpt,
			int32(r.Partition), r.Sequence, r.ReceivedAt,
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

// CountByKind returns the number of stored records with the given error kind.
func (s *DeadLetterStore) CountByKind(ctx context.Context, kind string) (uint64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM dead_letters WHERE error_kind = ?`, kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return count, nil
}
