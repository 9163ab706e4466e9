package storage

import "context"

// ArchiveProgress is the last archived position for one timeframe.
type ArchiveProgress struct {
	Timeframe       string
	LastBucketStart int64  // ms, newest bucket written to cold storage
	LastObjectKey   string // object key of the last uploaded file
	Files           int64  // files uploaded so far
}

// ArchiveProgressStore persists archive positions so that restarts neither
// skip nor duplicate cold-storage files.
type ArchiveProgressStore interface {
	// GetProgress returns the progress of a timeframe.
	// Returns ErrNotFound if nothing was archived yet.
	GetProgress(ctx context.Context, timeframe string) (*ArchiveProgress, error)

	// SetProgress saves the progress of a timeframe.
	SetProgress(ctx context.Context, progress *ArchiveProgress) error
}
