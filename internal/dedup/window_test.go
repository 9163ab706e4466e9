package dedup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/idhash"
)

func TestWindow_SuppressesRedelivery(t *testing.T) {
	w := NewWindow(100, time.Minute)
	trade := &domain.Trade{Signature: "abc", Hop: 0, Token: "X", Price: decimal.NewFromInt(1)}
	redelivered := *trade

	assert.False(t, w.CheckEvent(trade))
	assert.True(t, w.CheckEvent(&redelivered))
	assert.Equal(t, 1, w.Len())
}

func TestWindow_MultiHopStaysDistinct(t *testing.T) {
	w := NewWindow(100, time.Minute)
	hop0 := &domain.Trade{Signature: "abc", Hop: 0, Token: "X"}
	hop1 := &domain.Trade{Signature: "abc", Hop: 1, Token: "X"}

	assert.False(t, w.CheckEvent(hop0))
	assert.False(t, w.CheckEvent(hop1))
	assert.Equal(t, 2, w.Len())
}

func TestWindow_KindsDoNotCollide(t *testing.T) {
	w := NewWindow(100, time.Minute)
	trade := &domain.Trade{Signature: "abc", Hop: 0, Token: "X"}
	transfer := &domain.Transfer{Signature: "abc", Hop: 0, Token: "X"}

	assert.False(t, w.CheckEvent(trade))
	assert.False(t, w.CheckEvent(transfer))
}

func TestWindow_SizeBound(t *testing.T) {
	w := NewWindow(2, time.Hour)
	a := idhash.ComputeFingerprint(domain.EventKindTrade, "a", 0)
	b := idhash.ComputeFingerprint(domain.EventKindTrade, "b", 0)
	c := idhash.ComputeFingerprint(domain.EventKindTrade, "c", 0)

	w.Mark(a)
	w.Mark(b)
	w.Mark(c)

	assert.False(t, w.Seen(a), "oldest fingerprint should be evicted")
	assert.True(t, w.Seen(b))
	assert.True(t, w.Seen(c))
	assert.Equal(t, 2, w.Len())
}

func TestWindow_TTLBound(t *testing.T) {
	w := NewWindow(100, 20*time.Millisecond)
	fp := idhash.ComputeFingerprint(domain.EventKindTrade, "a", 0)

	assert.False(t, w.CheckAndMark(fp))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, w.Seen(fp), "fingerprint should expire after ttl")
}
