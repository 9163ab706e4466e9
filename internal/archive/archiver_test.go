package archive

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/storage"
	"click-datastreams/internal/storage/memory"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    int
	calls   int
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: make(map[string][]byte)}
}

func (f *fakeUploader) Upload(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fail {
		return errors.New("503 slow down")
	}
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeUploader) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

func finalized(token, tf string, start int64) domain.Candle {
	return domain.Candle{
		Token:       token,
		Timeframe:   tf,
		BucketStart: start,
		BucketEnd:   start + 60000,
		Open:        decimal.RequireFromString("1.5"),
		High:        decimal.RequireFromString("2.25"),
		Low:         decimal.RequireFromString("1"),
		Close:       decimal.RequireFromString("2"),
		Volume:      decimal.NewFromInt(10),
		TradeCount:  3,
		Status:      domain.CandleFinalized,
		Version:     7,
	}
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return string(rune('a'+n-1)) + "-id"
	}
}

func TestArchiver_FlushWritesOnePartitionPerFile(t *testing.T) {
	up := newFakeUploader()
	progress := memory.NewArchiveProgressStore()
	a := New(up, progress, Options{Prefix: "cold", NewID: seqIDs()})

	open := finalized("X", "1m", day)
	open.Status = domain.CandleProvisional
	a.Add(
		finalized("X", "1m", day),
		finalized("Y", "1m", day+60000),
		finalized("X", "1m", day+24*3600*1000),
		finalized("X", "1h", day),
		open,
	)
	assert.Equal(t, 4, a.Buffered(), "only finalized candles are buffered")

	a.Flush(context.Background(), "test")

	assert.ElementsMatch(t, []string{
		"cold/ohlcv/timeframe=1h/date=2025-03-01/a-id.parquet",
		"cold/ohlcv/timeframe=1m/date=2025-03-01/b-id.parquet",
		"cold/ohlcv/timeframe=1m/date=2025-03-02/c-id.parquet",
	}, up.keys())
	assert.Zero(t, a.Buffered())

	for _, data := range up.objects {
		require.Greater(t, len(data), 8)
		assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
		assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))
	}

	prog, err := progress.GetProgress(context.Background(), "1m")
	require.NoError(t, err)
	assert.Equal(t, int64(2), prog.Files)
	assert.Equal(t, day+24*3600*1000, prog.LastBucketStart)
}

func TestArchiver_SkipsBucketsOlderThanProgress(t *testing.T) {
	up := newFakeUploader()
	progress := memory.NewArchiveProgressStore()
	require.NoError(t, progress.SetProgress(context.Background(), &storage.ArchiveProgress{
		Timeframe: "1m", LastBucketStart: day + 120000, Files: 5,
	}))
	a := New(up, progress, Options{})

	a.Add(finalized("X", "1m", day), finalized("X", "1m", day+60000))
	a.Flush(context.Background(), "test")
	assert.Empty(t, up.keys())

	a.Add(finalized("X", "1m", day+120000))
	a.Flush(context.Background(), "test")
	assert.Len(t, up.keys(), 1, "the last archived bucket may still receive other tokens")
}

func TestArchiver_FailedUploadIsRequeued(t *testing.T) {
	up := newFakeUploader()
	up.fail = 100
	a := New(up, nil, Options{MaxRetries: 1})

	a.Add(finalized("X", "1m", day))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Flush(ctx, "test")

	assert.Equal(t, 1, a.Buffered())
	assert.Empty(t, up.keys())
}

func TestArchiver_RunFlushesOnMaxRows(t *testing.T) {
	up := newFakeUploader()
	a := New(up, nil, Options{FlushInterval: time.Hour, MaxRows: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	a.Add(finalized("X", "1m", day), finalized("Y", "1m", day))
	require.Eventually(t, func() bool { return len(up.keys()) == 1 }, 2*time.Second, 10*time.Millisecond)

	a.Add(finalized("Z", "1m", day))
	cancel()
	<-done
	assert.Len(t, up.keys(), 2, "shutdown flushes the remainder")
}
