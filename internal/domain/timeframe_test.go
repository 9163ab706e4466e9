package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAllTimeframes_Count(t *testing.T) {
	if len(AllTimeframes) != 14 {
		t.Fatalf("expected 14 timeframes, got %d", len(AllTimeframes))
	}
	for i := 1; i < len(AllTimeframes); i++ {
		if AllTimeframes[i].Duration <= AllTimeframes[i-1].Duration {
			t.Errorf("timeframes not ascending at %d: %s <= %s", i, AllTimeframes[i], AllTimeframes[i-1])
		}
	}
}

func TestTimeframe_BucketStart(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	monday := time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC).UnixMilli()
	day := int64(24 * 60 * 60_000)

	tests := []struct {
		name string
		tf   Timeframe
		ts   int64
		want int64
	}{
		{"start of bucket", Timeframe1m, base, base},
		{"inside bucket", Timeframe1m, base + 45_000, base},
		{"last ms of bucket", Timeframe1m, base + 59_999, base},
		{"bucket end goes to next bucket", Timeframe1m, base + 60_000, base + 60_000},
		{"hour bucket", Timeframe1h, base + 59*60_000, base},
		{"negative timestamp floors down", Timeframe1s, -1, -1000},
		{"week starts on monday", Timeframe1w, base, monday},
		{"monday midnight opens a week", Timeframe1w, monday, monday},
		{"sunday closes the week", Timeframe1w, monday + 7*day - 1, monday},
		{"next monday", Timeframe1w, monday + 7*day, monday + 7*day},
		{"day bucket", Timeframe1d, base, base - 10*60*60_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tf.BucketStart(tt.ts); got != tt.want {
				t.Errorf("BucketStart(%d) = %d, want %d", tt.ts, got, tt.want)
			}
		})
	}
}

func TestParseTimeframes(t *testing.T) {
	tfs, err := ParseTimeframes([]string{"1m", "1h"})
	if err != nil {
		t.Fatalf("ParseTimeframes failed: %v", err)
	}
	if len(tfs) != 2 || tfs[0] != Timeframe1m || tfs[1] != Timeframe1h {
		t.Errorf("unexpected timeframes: %v", tfs)
	}

	if _, err := ParseTimeframes([]string{"2m"}); err == nil {
		t.Error("expected error for unknown timeframe")
	}

	all, err := ParseTimeframes(nil)
	if err != nil || len(all) != len(AllTimeframes) {
		t.Errorf("empty list should return all timeframes, got %d (%v)", len(all), err)
	}
}

func TestTimeframe_RetentionShorterForSmallerFrames(t *testing.T) {
	if Timeframe1s.RetentionDays() >= Timeframe1m.RetentionDays() {
		t.Error("1s candles should expire before 1m candles")
	}
	if Timeframe1m.RetentionDays() >= Timeframe1h.RetentionDays() {
		t.Error("1m candles should expire before 1h candles")
	}
}

func TestOrderKey_Compare(t *testing.T) {
	a := OrderKey{Slot: 100, Signature: "tx1", Hop: 0}
	b := OrderKey{Slot: 100, Signature: "tx1", Hop: 1}
	c := OrderKey{Slot: 100, Signature: "tx2", Hop: 0}
	d := OrderKey{Slot: 200, Signature: "tx0", Hop: 0}

	if a.Compare(b) >= 0 || b.Compare(c) >= 0 || c.Compare(d) >= 0 {
		t.Error("expected a < b < c < d")
	}
	if a.Compare(a) != 0 {
		t.Error("key should equal itself")
	}
	if d.Compare(a) <= 0 {
		t.Error("expected d > a")
	}
}

func TestTokenState_Supply(t *testing.T) {
	s := NewTokenState("X", 0)
	s.DeclaredSupply = decimal.NewFromInt(1000)
	s.Burned = decimal.NewFromInt(10)
	if !s.Supply().Equal(decimal.NewFromInt(990)) {
		t.Errorf("declared supply path: got %s", s.Supply())
	}

	s.Minted = decimal.NewFromInt(500)
	if !s.Supply().Equal(decimal.NewFromInt(490)) {
		t.Errorf("minted supply path: got %s", s.Supply())
	}
}

func TestFlags_Names(t *testing.T) {
	f := WalletSniper | WalletWhale
	names := f.Names()
	if len(names) != 2 || names[0] != "sniper" || names[1] != "whale" {
		t.Errorf("unexpected wallet flag names: %v", names)
	}

	r := RiskDevHolding | RiskLowLiquidity
	rn := r.Names()
	if len(rn) != 2 || rn[0] != "dev_holding" || rn[1] != "low_liquidity" {
		t.Errorf("unexpected risk flag names: %v", rn)
	}
}
