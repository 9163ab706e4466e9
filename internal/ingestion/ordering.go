package ingestion

import (
	"errors"
	"sort"

	"click-datastreams/internal/domain"
)

// ErrInvalidOrdering is returned when events are not properly ordered.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")

// SortEnvelopes orders envelopes by (slot ASC, signature ASC, hop ASC).
// Events sharing an order key keep arrival order.
func SortEnvelopes(envs []domain.Envelope) {
	sort.SliceStable(envs, func(i, j int) bool {
		return envs[i].Event.OrderKey().Compare(envs[j].Event.OrderKey()) < 0
	})
}

// ValidateOrdering checks that envs are strictly increasing by order key.
func ValidateOrdering(envs []domain.Envelope) error {
	for i := 1; i < len(envs); i++ {
		if envs[i-1].Event.OrderKey().Compare(envs[i].Event.OrderKey()) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}
