// Package classification flags wallets per token (sniper, insider, bundler,
// fresh, dev, whale, kol) from shard activity snapshots.
package classification

import (
	"sort"

	"github.com/shopspring/decimal"

	"click-datastreams/internal/domain"
)

// Config holds rule thresholds.
type Config struct {
	SniperSlots       int64   // buys within creation slot + SniperSlots
	BundlerMinWallets int     // same-slot buyers sharing a funder
	FreshWindowMs     int64   // first activity to first buy
	WhaleShare        float64 // fraction of supply
	KOLWallets        []string
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SniperSlots:       2,
		BundlerMinWallets: 3,
		FreshWindowMs:     24 * 60 * 60 * 1000,
		WhaleShare:        0.01,
	}
}

// Classifier evaluates the rules against a token snapshot.
type Classifier struct {
	cfg        Config
	kol        map[string]struct{}
	whaleShare decimal.Decimal
}

// NewClassifier creates a classifier.
func NewClassifier(cfg Config) *Classifier {
	kol := make(map[string]struct{}, len(cfg.KOLWallets))
	for _, w := range cfg.KOLWallets {
		kol[w] = struct{}{}
	}
	return &Classifier{
		cfg:        cfg,
		kol:        kol,
		whaleShare: decimal.NewFromFloat(cfg.WhaleShare),
	}
}

// Classify returns one result per wallet that carries at least one flag,
// ordered by wallet.
func (c *Classifier) Classify(act domain.TokenActivity, now int64) []domain.WalletClassification {
	flags := make(map[string]domain.WalletFlag)

	if act.Creator != "" {
		flags[act.Creator] |= domain.WalletDev
	}

	for _, w := range act.Wallets {
		if c.sniper(act, w) {
			flags[w.Wallet] |= domain.WalletSniper
		}
		if c.insider(act, w) {
			flags[w.Wallet] |= domain.WalletInsider
		}
		if c.fresh(w) {
			flags[w.Wallet] |= domain.WalletFresh
		}
		if _, ok := c.kol[w.Wallet]; ok {
			flags[w.Wallet] |= domain.WalletKOL
		}
	}

	for _, wallet := range c.bundlers(act.Wallets) {
		flags[wallet] |= domain.WalletBundler
	}

	if act.Supply.IsPositive() && c.whaleShare.IsPositive() {
		threshold := act.Supply.Mul(c.whaleShare)
		for _, h := range act.Holders {
			if h.Wallet != "" && h.Balance.GreaterThanOrEqual(threshold) {
				flags[h.Wallet] |= domain.WalletWhale
			}
		}
	}

	out := make([]domain.WalletClassification, 0, len(flags))
	for wallet, f := range flags {
		if f == 0 {
			continue
		}
		out = append(out, domain.WalletClassification{
			Wallet:      wallet,
			Token:       act.Token,
			Flags:       f,
			EvaluatedAt: now,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}

func (c *Classifier) sniper(act domain.TokenActivity, w domain.WalletActivity) bool {
	if act.CreationSlot == 0 || w.FirstBuySlot == 0 {
		return false
	}
	d := w.FirstBuySlot - act.CreationSlot
	return d >= 0 && d <= c.cfg.SniperSlots
}

// insider: funded by the creator before the token's first trade.
func (c *Classifier) insider(act domain.TokenActivity, w domain.WalletActivity) bool {
	if act.Creator == "" || w.Wallet == act.Creator || w.FundedBy != act.Creator || w.FundedAt == 0 {
		return false
	}
	return act.FirstTradeAt == 0 || w.FundedAt < act.FirstTradeAt
}

func (c *Classifier) fresh(w domain.WalletActivity) bool {
	if w.FirstBuyAt == 0 || !w.FirstInbound {
		return false
	}
	return w.FirstBuyAt-w.FirstSeenAt <= c.cfg.FreshWindowMs
}

// bundlers groups first buys by (slot, funder) and returns the wallets of
// every group with at least BundlerMinWallets members.
func (c *Classifier) bundlers(wallets []domain.WalletActivity) []string {
	if c.cfg.BundlerMinWallets <= 1 {
		return nil
	}
	type key struct {
		slot   int64
		funder string
	}
	groups := make(map[key][]string)
	for _, w := range wallets {
		if w.FirstBuySlot == 0 || w.FundedBy == "" {
			continue
		}
		k := key{w.FirstBuySlot, w.FundedBy}
		groups[k] = append(groups[k], w.Wallet)
	}
	var out []string
	for _, members := range groups {
		if len(members) >= c.cfg.BundlerMinWallets {
			out = append(out, members...)
		}
	}
	return out
}
