package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/bus"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func publishAt(t *testing.T, b *bus.MemoryBus, topic, value string, at time.Time) {
	t.Helper()
	require.NoError(t, b.Publish(context.Background(), bus.Message{Topic: topic, Value: []byte(value), Time: at}))
}

func newTestRunner(t *testing.T, b bus.Bus, topics []string) *Runner {
	t.Helper()
	r, err := NewRunner(Options{
		Bus:      b,
		Topics:   topics,
		Lookback: 15 * time.Minute,
		Buffer:   1,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	return r
}

func TestRunner_MergesTopicsByWriteTime(t *testing.T) {
	b := bus.NewMemoryBus(100)
	defer b.Close()

	publishAt(t, b, bus.TopicTrades, "trade-old", now.Add(-20*time.Minute))
	publishAt(t, b, bus.TopicTrades, "trade-1", now.Add(-10*time.Minute))
	publishAt(t, b, bus.TopicTrades, "trade-3", now.Add(-5*time.Minute))
	publishAt(t, b, bus.TopicTokens, "token-1", now.Add(-10*time.Minute))
	publishAt(t, b, bus.TopicTokens, "token-2", now.Add(-7*time.Minute))

	r := newTestRunner(t, b, []string{bus.TopicTokens, bus.TopicTrades})

	var got []string
	n, err := r.Replay(context.Background(), func(m bus.Message) error {
		got = append(got, string(m.Value))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"token-1", "trade-1", "token-2", "trade-3"}, got,
		"same-instant ties go to the earlier topic; messages before the lookback are skipped")
}

func TestRunner_StopsOnCallbackError(t *testing.T) {
	b := bus.NewMemoryBus(100)
	defer b.Close()
	for i := 0; i < 10; i++ {
		publishAt(t, b, bus.TopicTrades, "t", now.Add(-time.Minute+time.Duration(i)*time.Second))
	}

	r := newTestRunner(t, b, []string{bus.TopicTrades, bus.TopicTransfers})
	boom := errors.New("boom")
	calls := 0
	n, err := r.Replay(context.Background(), func(bus.Message) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, n)
}

func TestRunner_ZeroLookbackIsNoop(t *testing.T) {
	b := bus.NewMemoryBus(10)
	defer b.Close()
	publishAt(t, b, bus.TopicTrades, "t", now)

	r, err := NewRunner(Options{Bus: b, Now: func() time.Time { return now }})
	require.NoError(t, err)
	n, err := r.Replay(context.Background(), func(bus.Message) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewRunner_RequiresBus(t *testing.T) {
	_, err := NewRunner(Options{})
	assert.ErrorIs(t, err, ErrNoBus)
}

func TestCompareMessages(t *testing.T) {
	a := bus.Message{Time: now, Partition: 0, Offset: 5}
	b := bus.Message{Time: now, Partition: 0, Offset: 6}
	c := bus.Message{Time: now.Add(time.Millisecond)}

	assert.Negative(t, compareMessages(a, 0, b, 0))
	assert.Negative(t, compareMessages(b, 0, a, 1), "rank breaks ties before offset")
	assert.Positive(t, compareMessages(c, 0, a, 5))
	assert.Zero(t, compareMessages(a, 2, a, 2))
}
