package domain

import "github.com/shopspring/decimal"

// TransferType distinguishes supply-changing transfers.
type TransferType string

const (
	TransferTypeTransfer TransferType = "transfer"
	TransferTypeMint     TransferType = "mint"
	TransferTypeBurn     TransferType = "burn"
)

// Transfer is a token balance movement.
// Mints have an empty From, burns have an empty To.
type Transfer struct {
	Signature string
	Hop       int
	Token     string
	From      string
	To        string
	Amount    decimal.Decimal
	Type      TransferType
	Slot      int64
	Timestamp int64 // ms
}

func (t *Transfer) Kind() EventKind  { return EventKindTransfer }
func (t *Transfer) TokenKey() string { return t.Token }
func (t *Transfer) EventTime() int64 { return t.Timestamp }

func (t *Transfer) OrderKey() OrderKey {
	return OrderKey{Slot: t.Slot, Signature: t.Signature, Hop: t.Hop}
}

// HolderBalance is the balance of one wallet for one token.
// Derived by replaying signed transfer deltas; never negative.
type HolderBalance struct {
	Token   string
	Wallet  string
	Balance decimal.Decimal
}

// Active reports whether the wallet still holds the token.
func (h HolderBalance) Active() bool {
	return h.Balance.IsPositive()
}
