package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"click-datastreams/internal/domain"
)

// Fingerprint identifies one applied event for deduplication.
type Fingerprint [sha256.Size]byte

// String returns the hex encoding (64 characters).
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ComputeFingerprint computes a deterministic event fingerprint using SHA256.
// Formula: SHA256(kind|signature|hop)
// The kind namespaces fingerprints so a swap and the transfers inside the same
// transaction never suppress each other. Hops of one signature stay distinct.
func ComputeFingerprint(kind domain.EventKind, signature string, hop int) Fingerprint {
	data := fmt.Sprintf("%s|%s|%d", kind, signature, hop)
	return sha256.Sum256([]byte(data))
}

// EventFingerprint returns the fingerprint of a decoded event.
func EventFingerprint(e domain.Event) Fingerprint {
	key := e.OrderKey()
	return ComputeFingerprint(e.Kind(), key.Signature, key.Hop)
}
