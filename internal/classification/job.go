package classification

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
)

// ActivitySource hands out read-only token snapshots.
type ActivitySource interface {
	Activity(ctx context.Context) ([]domain.TokenActivity, error)
}

// Store persists classification results.
type Store interface {
	UpsertClassifications(ctx context.Context, cs []domain.WalletClassification) error
}

// JobOptions configures a Job.
type JobOptions struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	Now        func() time.Time
}

// Job periodically classifies every tracked wallet and upserts the results.
// It runs on its own goroutine and only touches shard state through
// ActivitySource copies.
type Job struct {
	source     ActivitySource
	store      Store
	classifier *Classifier
	opts       JobOptions
	log        *logger.Entry
}

// NewJob creates a classification job.
func NewJob(source ActivitySource, store Store, classifier *Classifier, opts JobOptions) *Job {
	if opts.Interval <= 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Job{
		source:     source,
		store:      store,
		classifier: classifier,
		opts:       opts,
		log:        logger.GetLogger().WithComponent("classification"),
	}
}

// Run evaluates once per interval until ctx is cancelled.
func (j *Job) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.log.WithError(err).Warn("Classification run failed")
			}
		}
	}
}

// RunOnce classifies a fresh snapshot and returns the number of results
// written.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	tokens, err := j.source.Activity(ctx)
	if err != nil {
		observability.RecordClassificationRun("error", 0)
		return 0, err
	}

	now := j.opts.Now().UnixMilli()
	var results []domain.WalletClassification
	for _, act := range tokens {
		results = append(results, j.classifier.Classify(act, now)...)
	}

	written := 0
	for len(results) > 0 {
		n := min(j.opts.BatchSize, len(results))
		if err := j.upsert(ctx, results[:n]); err != nil {
			observability.RecordClassificationRun("error", written)
			return written, err
		}
		written += n
		results = results[n:]
	}

	observability.RecordClassificationRun("ok", written)
	j.log.WithFields(logger.Fields{
		"tokens":   len(tokens),
		"wallets":  written,
		"duration": time.Since(start).String(),
	}).Info("Classification run complete")
	return written, nil
}

func (j *Job) upsert(ctx context.Context, batch []domain.WalletClassification) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(j.opts.MaxRetries)), ctx)

	op := func() error {
		err := j.store.UpsertClassifications(ctx, batch)
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, policy)
}
