package domain

// EventKind identifies the type of a decoded bus event.
type EventKind string

const (
	EventKindTrade       EventKind = "trade"
	EventKindTransfer    EventKind = "transfer"
	EventKindToken       EventKind = "token"
	EventKindPool        EventKind = "pool"
	EventKindLiquidity   EventKind = "liquidity"
	EventKindFunding     EventKind = "funding"
	EventKindLiquidation EventKind = "liquidation"
)

// Event is a validated event ready for deduplication and state application.
// All events are partitioned by TokenKey.
type Event interface {
	Kind() EventKind
	TokenKey() string
	OrderKey() OrderKey
	EventTime() int64 // Unix timestamp in milliseconds
}

// OrderKey is the on-chain position of an event.
// Events for one token are applied in (slot, signature, hop) ascending order.
type OrderKey struct {
	Slot      int64
	Signature string
	Hop       int
}

// Compare returns:
//   - negative if k < o
//   - zero if k == o
//   - positive if k > o
func (k OrderKey) Compare(o OrderKey) int {
	if k.Slot != o.Slot {
		if k.Slot < o.Slot {
			return -1
		}
		return 1
	}
	if k.Signature != o.Signature {
		if k.Signature < o.Signature {
			return -1
		}
		return 1
	}
	if k.Hop != o.Hop {
		if k.Hop < o.Hop {
			return -1
		}
		return 1
	}
	return 0
}

// IsZero reports whether the key has never been set.
func (k OrderKey) IsZero() bool {
	return k.Slot == 0 && k.Signature == "" && k.Hop == 0
}

// Envelope carries delivery metadata alongside a decoded event.
type Envelope struct {
	Topic      string
	Partition  int
	Sequence   int64 // bus offset
	WrittenAt  int64 // ms, bus append time
	ReceivedAt int64 // ms
	Event      Event
}
