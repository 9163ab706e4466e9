package ingestion

import (
	"sort"

	"click-datastreams/internal/domain"
)

// ReorderBuffer holds Solana events for slotLag slots so events of one slot
// that arrive out of order are released sorted by (slot, signature, hop).
// Events for Hyperliquid tokens are ordered by the venue and pass through.
//
// Not safe for concurrent use; each shard owns one.
type ReorderBuffer struct {
	slotLag  int64
	buffer   map[int64][]domain.Envelope
	count    int
	highest  int64 // highest slot seen
	released int64 // highest slot released
	idle     bool  // no new slot since the last Tick
}

// NewReorderBuffer creates a buffer that waits slotLag slots before releasing.
func NewReorderBuffer(slotLag int64) *ReorderBuffer {
	if slotLag < 0 {
		slotLag = 0
	}
	return &ReorderBuffer{
		slotLag:  slotLag,
		buffer:   make(map[int64][]domain.Envelope),
		released: -1,
	}
}

// Add buffers env and returns every event that is now ready, in order.
func (b *ReorderBuffer) Add(env domain.Envelope) []domain.Envelope {
	if domain.IsHyperliquid(env.Event.TokenKey()) {
		return []domain.Envelope{env}
	}

	slot := env.Event.OrderKey().Slot

	// Late event for an already released slot: release immediately.
	if slot <= b.released {
		return []domain.Envelope{env}
	}

	b.buffer[slot] = append(b.buffer[slot], env)
	b.count++

	if slot > b.highest {
		b.highest = slot
		b.idle = false
		return b.releaseThrough(b.highest - b.slotLag)
	}
	return nil
}

// Tick releases finalized slots. When no new slot arrived since the previous
// Tick, everything is released so quiet periods do not stall the stream.
func (b *ReorderBuffer) Tick() []domain.Envelope {
	if b.idle {
		return b.FlushAll()
	}
	b.idle = true
	return b.releaseThrough(b.highest - b.slotLag)
}

// FlushAll releases every buffered event.
func (b *ReorderBuffer) FlushAll() []domain.Envelope {
	return b.releaseThrough(b.highest)
}

// Len returns the number of buffered events.
func (b *ReorderBuffer) Len() int {
	return b.count
}

// HighestSlot returns the highest slot seen.
func (b *ReorderBuffer) HighestSlot() int64 {
	return b.highest
}

func (b *ReorderBuffer) releaseThrough(finalized int64) []domain.Envelope {
	if finalized < 0 || b.count == 0 {
		return nil
	}

	var slots []int64
	for slot := range b.buffer {
		if slot <= finalized {
			slots = append(slots, slot)
		}
	}
	if len(slots) == 0 {
		return nil
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	var out []domain.Envelope
	for _, slot := range slots {
		events := b.buffer[slot]
		SortEnvelopes(events)
		out = append(out, events...)
		b.count -= len(events)
		delete(b.buffer, slot)
	}
	if finalized > b.released {
		b.released = finalized
	}
	return out
}
