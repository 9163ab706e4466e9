package classification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/storage/memory"
)

type staticSource struct {
	tokens []domain.TokenActivity
	err    error
}

func (s staticSource) Activity(context.Context) ([]domain.TokenActivity, error) {
	return s.tokens, s.err
}

type flakyStore struct {
	failures int
	calls    int
	inner    Store
}

func (f *flakyStore) UpsertClassifications(ctx context.Context, cs []domain.WalletClassification) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	return f.inner.UpsertClassifications(ctx, cs)
}

var evalTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestJob_RunOnceUpsertsInBatches(t *testing.T) {
	store := memory.NewClassificationStore()
	src := staticSource{tokens: []domain.TokenActivity{
		{Token: "A", Creator: "devA"},
		{Token: "B", Creator: "devB"},
		{Token: "C", Creator: "devA"},
	}}
	job := NewJob(src, store, NewClassifier(DefaultConfig()), JobOptions{
		BatchSize: 2,
		Now:       func() time.Time { return evalTime },
	})

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := store.GetByWallet(context.Background(), "devA")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.WalletDev, got[0].Flags)
	assert.Equal(t, evalTime.UnixMilli(), got[0].EvaluatedAt)
}

func TestJob_RetriesStoreErrors(t *testing.T) {
	store := &flakyStore{failures: 2, inner: memory.NewClassificationStore()}
	src := staticSource{tokens: []domain.TokenActivity{{Token: "A", Creator: "dev"}}}
	job := NewJob(src, store, NewClassifier(DefaultConfig()), JobOptions{MaxRetries: 3})

	n, err := job.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, store.calls)
}

func TestJob_SourceErrorIsReturned(t *testing.T) {
	boom := errors.New("shards stopped")
	job := NewJob(staticSource{err: boom}, memory.NewClassificationStore(), NewClassifier(DefaultConfig()), JobOptions{})
	_, err := job.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestJob_RunStopsOnCancel(t *testing.T) {
	job := NewJob(staticSource{}, memory.NewClassificationStore(), NewClassifier(DefaultConfig()), JobOptions{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
