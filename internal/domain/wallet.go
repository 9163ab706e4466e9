package domain

import "github.com/shopspring/decimal"

// WalletFlag is a bitset of wallet behaviour classifications.
type WalletFlag uint32

const (
	WalletSniper  WalletFlag = 1 << iota // bought within the creation slot window (static)
	WalletInsider                        // received supply from the creator before trading (static)
	WalletBundler                        // bought in a same-slot cluster with a shared funder (periodic)
	WalletFresh                          // first activity shortly before its first buy (periodic)
	WalletDev                            // token creator (static)
	WalletKOL                            // on the configured KOL list
	WalletWhale                          // holds at least the whale share of supply (periodic)
)

var walletFlagNames = []struct {
	flag WalletFlag
	name string
}{
	{WalletSniper, "sniper"},
	{WalletInsider, "insider"},
	{WalletBundler, "bundler"},
	{WalletFresh, "fresh"},
	{WalletDev, "dev"},
	{WalletKOL, "kol"},
	{WalletWhale, "whale"},
}

// Has reports whether f contains flag.
func (f WalletFlag) Has(flag WalletFlag) bool {
	return f&flag != 0
}

// Names returns flag names in declaration order.
func (f WalletFlag) Names() []string {
	var out []string
	for _, n := range walletFlagNames {
		if f.Has(n.flag) {
			out = append(out, n.name)
		}
	}
	return out
}

// WalletClassification is the per (wallet, token) classification result.
type WalletClassification struct {
	Wallet      string
	Token       string
	Flags       WalletFlag
	EvaluatedAt int64 // ms
}

// WalletActivity is the history of one wallet on one token that the
// classifier needs.
type WalletActivity struct {
	Wallet       string
	FirstSeenAt  int64 // ms, first event involving the wallet
	FirstInbound bool  // first event was a receive
	FirstBuySlot int64 // zero when the wallet never bought
	FirstBuyAt   int64 // ms
	FundedBy     string
	FundedAt     int64 // ms, first inbound transfer
	BoughtVolume decimal.Decimal
}

// TokenActivity is a read-only snapshot of one token for classification.
type TokenActivity struct {
	Token        string
	Creator      string
	CreationSlot int64
	FirstTradeAt int64
	Supply       decimal.Decimal
	Holders      []HolderBalance
	Wallets      []WalletActivity
}
