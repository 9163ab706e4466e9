package state

import (
	"time"

	"github.com/shopspring/decimal"

	"click-datastreams/internal/domain"
)

var (
	hourMs = time.Hour.Milliseconds()
	dayMs  = 24 * hourMs
)

// volumeSpike reports whether the 1h volume exceeds k times the hourly
// average of the last 24h. The average is normalized by the available
// history, capped at 24h; less than an hour of history never spikes.
func volumeSpike(e *entry, now int64, k decimal.Decimal) bool {
	first := e.state.FirstTrade
	if first == 0 {
		return false
	}
	history := now - first
	if history > dayMs {
		history = dayMs
	}
	if history < hourMs {
		return false
	}
	hours := decimal.NewFromInt(history).Div(decimal.NewFromInt(hourMs))
	avg := e.windows.volume(longest).Div(hours)
	return e.windows.volume(1).GreaterThan(k.Mul(avg))
}

// canEnter reports whether a token may move from stage from to stage to.
// Graduated is terminal and active is never downgraded.
func canEnter(from, to domain.DiscoveryStage) bool {
	if from == to || from == domain.StageGraduated {
		return false
	}
	switch to {
	case domain.StageBondingCurve:
		return from == domain.StageNew
	case domain.StageActive:
		return from == domain.StageNew || from == domain.StageBondingCurve
	case domain.StageGraduated:
		return true
	}
	return false
}

// transition moves the token to stage to when allowed and records the change.
func transition(e *entry, to domain.DiscoveryStage, ev domain.Event, out *Delta) {
	s := e.state
	if !canEnter(s.Stage, to) {
		return
	}
	change := domain.StageChange{
		Token:     s.Token,
		From:      s.Stage,
		To:        to,
		Slot:      ev.OrderKey().Slot,
		Signature: ev.OrderKey().Signature,
		Timestamp: ev.EventTime(),
	}
	s.Stage = to
	if tracksDiscovery(s.Token) {
		out.StageChanges = append(out.StageChanges, change)
	}
}

// tracksDiscovery reports whether stage changes of token are published.
// Discovery topics cover Solana tokens only.
func tracksDiscovery(token string) bool {
	return !domain.IsHyperliquid(token)
}
