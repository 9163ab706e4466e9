package memory

import (
	"context"
	"sort"
	"sync"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/storage"
)

type candleKey struct {
	token     string
	timeframe string
	start     int64
}

// CandleStore is an in-memory implementation of storage.CandleStore.
// The highest version of each bucket wins.
type CandleStore struct {
	mu   sync.RWMutex
	data map[candleKey]domain.Candle
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{data: make(map[candleKey]domain.Candle)}
}

var _ storage.CandleStore = (*CandleStore)(nil)

// UpsertCandles stores candles, keeping the highest version per bucket.
func (s *CandleStore) UpsertCandles(_ context.Context, candles []domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		k := candleKey{c.Token, c.Timeframe, c.BucketStart}
		if prev, ok := s.data[k]; ok && prev.Version > c.Version {
			continue
		}
		s.data[k] = c
	}
	return nil
}

// GetRange returns candles with bucket_start in [from, to), ascending.
func (s *CandleStore) GetRange(_ context.Context, token, timeframe string, from, to int64) ([]domain.Candle, error) {
	s.mu.RLock()
	var out []domain.Candle
	for k, c := range s.data {
		if k.token == token && k.timeframe == timeframe && k.start >= from && k.start < to {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })
	return out, nil
}

// GetUnfinalized returns open and provisional candles ending at or after since.
func (s *CandleStore) GetUnfinalized(_ context.Context, since int64) ([]domain.Candle, error) {
	s.mu.RLock()
	var out []domain.Candle
	for _, c := range s.data {
		if c.Status != domain.CandleFinalized && c.BucketEnd >= since {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		if out[i].Timeframe != out[j].Timeframe {
			return out[i].Timeframe < out[j].Timeframe
		}
		return out[i].BucketStart < out[j].BucketStart
	})
	return out, nil
}

// Len returns the number of stored buckets.
func (s *CandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
