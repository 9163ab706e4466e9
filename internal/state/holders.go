package state

import (
	"sort"

	"github.com/shopspring/decimal"

	"click-datastreams/internal/domain"
)

// holderBook tracks per-wallet balances of one token.
// Balances never go negative; zero balances are removed.
type holderBook struct {
	balances map[string]decimal.Decimal
}

func newHolderBook() *holderBook {
	return &holderBook{balances: make(map[string]decimal.Decimal)}
}

func (h *holderBook) balance(wallet string) decimal.Decimal {
	return h.balances[wallet]
}

func (h *holderBook) credit(wallet string, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	h.balances[wallet] = h.balances[wallet].Add(amount)
}

// debit assumes the wallet holds at least amount.
func (h *holderBook) debit(wallet string, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	next := h.balances[wallet].Sub(amount)
	if next.IsPositive() {
		h.balances[wallet] = next
		return
	}
	delete(h.balances, wallet)
}

// count returns the number of wallets with a positive balance.
func (h *holderBook) count() int {
	return len(h.balances)
}

// total returns the sum of all balances.
func (h *holderBook) total() decimal.Decimal {
	sum := decimal.Zero
	for _, b := range h.balances {
		sum = sum.Add(b)
	}
	return sum
}

// topShare returns the fraction of supply held by the n largest holders,
// skipping wallets for which exclude returns true.
func (h *holderBook) topShare(n int, supply decimal.Decimal, exclude func(string) bool) decimal.Decimal {
	if !supply.IsPositive() || len(h.balances) == 0 {
		return decimal.Zero
	}
	top := make([]decimal.Decimal, 0, len(h.balances))
	for wallet, b := range h.balances {
		if exclude != nil && exclude(wallet) {
			continue
		}
		top = append(top, b)
	}
	sort.Slice(top, func(i, j int) bool { return top[i].GreaterThan(top[j]) })
	if len(top) > n {
		top = top[:n]
	}
	sum := decimal.Zero
	for _, b := range top {
		sum = sum.Add(b)
	}
	return sum.Div(supply)
}

// snapshot copies the positive balances.
func (h *holderBook) snapshot(token string) []domain.HolderBalance {
	out := make([]domain.HolderBalance, 0, len(h.balances))
	for wallet, b := range h.balances {
		out = append(out, domain.HolderBalance{Token: token, Wallet: wallet, Balance: b})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}
