package ingestion

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/domain"
)

func TestExcerpt_Truncates(t *testing.T) {
	long := strings.Repeat("a", MaxExcerptBytes+100)
	assert.Len(t, excerpt([]byte(long)), MaxExcerptBytes)

	// Multi-byte rune straddling the cut is dropped whole.
	runes := strings.Repeat("a", MaxExcerptBytes-1) + "é"
	got := excerpt([]byte(runes + "tail"))
	assert.Equal(t, strings.Repeat("a", MaxExcerptBytes-1), got)
}

type recordingStore struct {
	records []domain.DeadLetter
}

func (s *recordingStore) InsertDeadLetters(_ context.Context, records []domain.DeadLetter) error {
	s.records = append(s.records, records...)
	return nil
}

func TestDeadLetterWriter_ShipsToTopicAndStore(t *testing.T) {
	b := bus.NewMemoryBus(100)
	store := &recordingStore{}
	w := NewDeadLetterWriter(DeadLetterOptions{
		Producer: b,
		Store:    store,
		Topic:    "datastreams.dead_letter",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	msg := bus.Message{Topic: bus.TopicTrades, Offset: 3, Value: []byte(`{"bad"`)}
	_, err := newTestAdapter().Decode(msg)
	require.Error(t, err)
	w.Write(DeadLetterRecord(msg, err, time.Now()))

	require.Eventually(t, func() bool {
		return len(b.Messages("datastreams.dead_letter")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	var dl domain.DeadLetter
	require.NoError(t, json.Unmarshal(b.Messages("datastreams.dead_letter")[0].Value, &dl))
	assert.Equal(t, "MalformedPayload", dl.ErrorKind)
	assert.Equal(t, int64(3), dl.Sequence)
	require.Len(t, store.records, 1)
}
