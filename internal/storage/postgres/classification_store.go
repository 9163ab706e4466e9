package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/observability"
	"click-datastreams/internal/storage"
)

// ClassificationStore implements storage.ClassificationStore using PostgreSQL.
type ClassificationStore struct {
	pool *Pool
}

// NewClassificationStore creates a new ClassificationStore.
func NewClassificationStore(pool *Pool) *ClassificationStore {
	return &ClassificationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ClassificationStore = (*ClassificationStore)(nil)

// UpsertClassifications replaces the flags of each (wallet, token) in one transaction.
func (s *ClassificationStore) UpsertClassifications(ctx context.Context, cs []domain.WalletClassification) error {
	if len(cs) == 0 {
		return nil
	}

	query := `
		INSERT INTO wallet_classifications (wallet, token, flags, flag_names, evaluated_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (wallet, token) DO UPDATE
		SET flags = EXCLUDED.flags,
		    flag_names = EXCLUDED.flag_names,
		    evaluated_at = EXCLUDED.evaluated_at,
		    updated_at = NOW()
	`

	start := time.Now()
	batch := &pgx.Batch{}
	for _, c := range cs {
		if c.Wallet == "" || c.Token == "" {
			return storage.ErrInvalidInput
		}
		names := c.Flags.Names()
		if names == nil {
			names = []string{}
		}
		batch.Queue(query, c.Wallet, c.Token, int32(c.Flags), names, c.EvaluatedAt)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	results := tx.SendBatch(ctx, batch)
	for range cs {
		if _, err := results.Exec(); err != nil {
			results.Close()
			observability.RecordDBQuery("postgres", "upsert_classifications", time.Since(start).Seconds(), err)
			return fmt.Errorf("upsert classification: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	err = tx.Commit(ctx)
	observability.RecordDBQuery("postgres", "upsert_classifications", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("commit classifications: %w", err)
	}
	return nil
}

// GetByWallet returns all classifications of a wallet ordered by token.
func (s *ClassificationStore) GetByWallet(ctx context.Context, wallet string) ([]domain.WalletClassification, error) {
	query := `
		SELECT wallet, token, flags, evaluated_at
		FROM wallet_classifications
		WHERE wallet = $1
		ORDER BY token ASC
	`
	return s.query(ctx, "classifications_by_wallet", query, wallet)
}

// GetByToken returns all classifications for a token ordered by wallet.
func (s *ClassificationStore) GetByToken(ctx context.Context, token string) ([]domain.WalletClassification, error) {
	query := `
		SELECT wallet, token, flags, evaluated_at
		FROM wallet_classifications
		WHERE token = $1
		ORDER BY wallet ASC
	`
	return s.query(ctx, "classifications_by_token", query, token)
}

func (s *ClassificationStore) query(ctx context.Context, op, query string, arg string) ([]domain.WalletClassification, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, arg)
	observability.RecordDBQuery("postgres", op, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletClassification
	for rows.Next() {
		var c domain.WalletClassification
		var flags int32
		if err := rows.Scan(&c.Wallet, &c.Token, &flags, &c.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("scan classification: %w", err)
		}
		c.Flags = domain.WalletFlag(flags)
		out = append(out, c)
	}
	return out, rows.Err()
}
