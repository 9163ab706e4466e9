package idhash

import (
	"testing"

	"click-datastreams/internal/domain"
)

func TestComputeFingerprint(t *testing.T) {
	tests := []struct {
		name      string
		kind      domain.EventKind
		signature string
		hop       int
	}{
		{"single hop trade", domain.EventKindTrade, "5h3kXvQ9sig", 0},
		{"second hop trade", domain.EventKindTrade, "5h3kXvQ9sig", 1},
		{"transfer", domain.EventKindTransfer, "5h3kXvQ9sig", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeFingerprint(tt.kind, tt.signature, tt.hop)
			if len(got.String()) != 64 {
				t.Errorf("fingerprint hex length = %d, want 64", len(got.String()))
			}

			// Same inputs should produce same output
			got2 := ComputeFingerprint(tt.kind, tt.signature, tt.hop)
			if got != got2 {
				t.Errorf("ComputeFingerprint() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeFingerprint_DifferentInputs(t *testing.T) {
	base := ComputeFingerprint(domain.EventKindTrade, "abc", 0)

	// Multi-hop transactions must not collapse to one event per signature
	if base == ComputeFingerprint(domain.EventKindTrade, "abc", 1) {
		t.Error("different hop should produce different fingerprint")
	}
	if base == ComputeFingerprint(domain.EventKindTrade, "abd", 0) {
		t.Error("different signature should produce different fingerprint")
	}
	if base == ComputeFingerprint(domain.EventKindTransfer, "abc", 0) {
		t.Error("different event kind should produce different fingerprint")
	}
}

func TestEventFingerprint_IgnoresPayload(t *testing.T) {
	// Redelivery carries the same (signature, hop); other fields are irrelevant
	a := &domain.Trade{Signature: "abc", Hop: 0, Token: "X", Slot: 10}
	b := &domain.Trade{Signature: "abc", Hop: 0, Token: "X", Slot: 10, Wallet: "w"}
	if EventFingerprint(a) != EventFingerprint(b) {
		t.Error("redelivered trade should have identical fingerprint")
	}
}
