// Package dedup suppresses redelivered events by fingerprint.
package dedup

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/idhash"
)

// Window remembers recently applied fingerprints. A fingerprint is forgotten
// when it is older than the TTL or when size newer fingerprints have been
// added, whichever happens first.
//
// Window is not safe for concurrent use; each shard owns one.
type Window struct {
	lru  *expirable.LRU[idhash.Fingerprint, struct{}]
	size int
	ttl  time.Duration
}

// NewWindow creates a window holding at most size fingerprints for ttl.
func NewWindow(size int, ttl time.Duration) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{
		lru:  expirable.NewLRU[idhash.Fingerprint, struct{}](size, nil, ttl),
		size: size,
		ttl:  ttl,
	}
}

// Seen reports whether fp is in the window.
func (w *Window) Seen(fp idhash.Fingerprint) bool {
	_, ok := w.lru.Peek(fp)
	return ok
}

// Mark records fp as applied.
func (w *Window) Mark(fp idhash.Fingerprint) {
	w.lru.Add(fp, struct{}{})
}

// CheckAndMark records fp and reports whether it was already present.
func (w *Window) CheckAndMark(fp idhash.Fingerprint) (duplicate bool) {
	if w.Seen(fp) {
		return true
	}
	w.lru.Add(fp, struct{}{})
	return false
}

// CheckEvent is CheckAndMark on the fingerprint of e.
func (w *Window) CheckEvent(e domain.Event) (duplicate bool) {
	return w.CheckAndMark(idhash.EventFingerprint(e))
}

// Len returns the number of fingerprints currently held.
func (w *Window) Len() int {
	return w.lru.Len()
}

// Size returns the configured capacity.
func (w *Window) Size() int { return w.size }

// TTL returns the configured lookback.
func (w *Window) TTL() time.Duration { return w.ttl }
