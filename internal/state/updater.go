// Package state maintains the authoritative per-token aggregates. An Updater
// is owned by one shard worker and is not safe for concurrent use.
package state

import (
	"sort"

	"github.com/shopspring/decimal"

	"click-datastreams/internal/domain"
	"click-datastreams/internal/observability"
	"click-datastreams/internal/solana"
)

// Options configures risk thresholds and discovery.
type Options struct {
	ConcentrationThreshold float64 // top-10 share that raises RiskHolderConcentration
	DevHoldingThreshold    float64 // creator share that raises RiskDevHolding
	LowLiquidity           float64 // quote liquidity below which RiskLowLiquidity is raised
	ActiveVolumeMultiplier float64 // 1h volume over k times the hourly 24h average marks a token active
	// IsPDA reports program-owned addresses, which are left out of holder
	// concentration. Defaults to a valid address that is off the ed25519 curve.
	IsPDA func(address string) bool
}

// DefaultOptions returns the default thresholds.
func DefaultOptions() Options {
	return Options{
		ConcentrationThreshold: 0.5,
		DevHoldingThreshold:    0.1,
		LowLiquidity:           1000,
		ActiveVolumeMultiplier: 3.0,
	}
}

// Delta is the outcome of applying one event, used for publication.
type Delta struct {
	Token        string
	Trade        *domain.EnrichedTrade
	StageChanges []domain.StageChange
	StalePrice   bool // trade applied behind the last key; price left unchanged
}

type entry struct {
	state   *domain.TokenState
	windows rollingWindows
	holders *holderBook
	wallets map[string]*domain.WalletActivity
}

// Updater applies deduplicated events to token state.
type Updater struct {
	concentration decimal.Decimal
	devHolding    decimal.Decimal
	lowLiquidity  decimal.Decimal
	activeK       decimal.Decimal
	isPDA         func(string) bool

	tokens map[string]*entry
	dirty  map[string]struct{}
	pda    map[string]bool
}

// NewUpdater creates an empty Updater.
func NewUpdater(opts Options) *Updater {
	u := &Updater{
		concentration: decimal.NewFromFloat(opts.ConcentrationThreshold),
		devHolding:    decimal.NewFromFloat(opts.DevHoldingThreshold),
		lowLiquidity:  decimal.NewFromFloat(opts.LowLiquidity),
		activeK:       decimal.NewFromFloat(opts.ActiveVolumeMultiplier),
		isPDA:         opts.IsPDA,
		tokens:        make(map[string]*entry),
		dirty:         make(map[string]struct{}),
		pda:           make(map[string]bool),
	}
	if u.isPDA == nil {
		u.isPDA = func(addr string) bool {
			return solana.ValidateAddress(addr) == nil && !solana.IsOnCurve(addr)
		}
	}
	return u
}

// Apply dispatches ev to the matching Apply method.
func (u *Updater) Apply(ev domain.Event) (Delta, error) {
	switch e := ev.(type) {
	case *domain.Trade:
		return u.ApplyTrade(e)
	case *domain.Transfer:
		return u.ApplyTransfer(e)
	case *domain.TokenInfo:
		return u.ApplyToken(e)
	case *domain.PoolEvent:
		return u.ApplyPool(e)
	case *domain.LiquidityEvent:
		return u.ApplyLiquidity(e)
	case *domain.Funding:
		return u.ApplyFunding(e)
	case *domain.Liquidation:
		return u.ApplyLiquidation(e)
	}
	return Delta{}, nil
}

// entryFor returns the state for token, creating it on first sight.
func (u *Updater) entryFor(token string, ev domain.Event, out *Delta) *entry {
	if e, ok := u.tokens[token]; ok {
		return e
	}
	e := &entry{
		state:   domain.NewTokenState(token, ev.EventTime()),
		holders: newHolderBook(),
		wallets: make(map[string]*domain.WalletActivity),
	}
	u.tokens[token] = e
	if tracksDiscovery(token) {
		out.StageChanges = append(out.StageChanges, domain.StageChange{
			Token:     token,
			To:        domain.StageNew,
			Slot:      ev.OrderKey().Slot,
			Signature: ev.OrderKey().Signature,
			Timestamp: ev.EventTime(),
		})
	}
	return e
}

func (u *Updater) touch(e *entry, ts int64) {
	if ts > e.state.UpdatedAt {
		e.state.UpdatedAt = ts
	}
	u.dirty[e.state.Token] = struct{}{}
}

func (e *entry) wallet(addr string, ts int64, inbound bool) *domain.WalletActivity {
	w, ok := e.wallets[addr]
	if !ok {
		w = &domain.WalletActivity{Wallet: addr, FirstSeenAt: ts, FirstInbound: inbound}
		e.wallets[addr] = w
	} else if ts < w.FirstSeenAt {
		w.FirstSeenAt = ts
		w.FirstInbound = inbound
	}
	return w
}

// ApplyTrade applies a swap. Trades behind the last applied order key still
// count toward volume, but do not move the price.
func (u *Updater) ApplyTrade(t *domain.Trade) (Delta, error) {
	if !t.Price.IsPositive() {
		return Delta{}, violation(ReasonNonPositivePrice, t.Token, "price %s in %s/%d", t.Price, t.Signature, t.Hop)
	}
	if t.TokenAmount.IsNegative() || t.QuoteAmount.IsNegative() {
		return Delta{}, violation(ReasonNegativeAmount, t.Token, "amounts in %s/%d", t.Signature, t.Hop)
	}

	out := Delta{Token: t.Token}
	e := u.entryFor(t.Token, t, &out)
	s := e.state

	key := t.OrderKey()
	if s.LastKey.IsZero() || key.Compare(s.LastKey) >= 0 {
		s.Price = t.Price
		s.LastKey = key
		s.MarketCap = s.Price.Mul(s.Supply())
	} else {
		out.StalePrice = true
		observability.RecordStalePriceSkipped()
	}

	e.windows.add(point{ts: t.Timestamp, price: t.Price, value: t.Value(), buy: t.Side == domain.SideBuy})
	s.TotalVolume = s.TotalVolume.Add(t.Value())
	s.TradeCount++
	if s.FirstTrade == 0 || t.Timestamp < s.FirstTrade {
		s.FirstTrade = t.Timestamp
	}

	if t.Wallet != "" {
		w := e.wallet(t.Wallet, t.Timestamp, false)
		if t.Side == domain.SideBuy {
			if w.FirstBuyAt == 0 || t.Timestamp < w.FirstBuyAt {
				w.FirstBuyAt = t.Timestamp
				w.FirstBuySlot = t.Slot
			}
			w.BoughtVolume = w.BoughtVolume.Add(t.Value())
		}
	}

	if volumeSpike(e, t.Timestamp, u.activeK) {
		transition(e, domain.StageActive, t, &out)
	}
	u.touch(e, t.Timestamp)

	out.Trade = &domain.EnrichedTrade{
		Trade:         *t,
		MarketCap:     s.MarketCap,
		HolderCount:   e.holders.count(),
		WalletBalance: e.holders.balance(t.Wallet),
		Stage:         s.Stage,
	}
	return out, nil
}

// ApplyTransfer replays a signed balance delta. A transfer that would leave
// the sender negative is rejected without touching state.
func (u *Updater) ApplyTransfer(t *domain.Transfer) (Delta, error) {
	if t.Amount.IsNegative() {
		return Delta{}, violation(ReasonNegativeAmount, t.Token, "amount %s in %s/%d", t.Amount, t.Signature, t.Hop)
	}

	// Check before creating state so a rejected first event leaves no trace.
	if t.Type != domain.TransferTypeMint {
		var held decimal.Decimal
		if e, ok := u.tokens[t.Token]; ok {
			held = e.holders.balance(t.From)
		}
		if held.LessThan(t.Amount) {
			return Delta{}, violation(ReasonNegativeBalance, t.Token,
				"%s holds %s, sends %s in %s/%d", t.From, held, t.Amount, t.Signature, t.Hop)
		}
	}

	out := Delta{Token: t.Token}
	e := u.entryFor(t.Token, t, &out)
	s := e.state

	switch t.Type {
	case domain.TransferTypeMint:
		e.holders.credit(t.To, t.Amount)
		s.Minted = s.Minted.Add(t.Amount)
		if s.FirstTrade != 0 {
			s.RiskFlags |= domain.RiskMintAfterLaunch
		}
	case domain.TransferTypeBurn:
		e.holders.debit(t.From, t.Amount)
		s.Burned = s.Burned.Add(t.Amount)
	default:
		e.holders.debit(t.From, t.Amount)
		e.holders.credit(t.To, t.Amount)
	}
	if s.Price.IsPositive() {
		s.MarketCap = s.Price.Mul(s.Supply())
	}

	if t.From != "" {
		e.wallet(t.From, t.Timestamp, false)
	}
	if t.To != "" {
		w := e.wallet(t.To, t.Timestamp, true)
		if t.From != "" && (w.FundedAt == 0 || t.Timestamp < w.FundedAt) {
			w.FundedBy = t.From
			w.FundedAt = t.Timestamp
		}
	}

	u.touch(e, t.Timestamp)
	return out, nil
}

// ApplyToken records token metadata.
func (u *Updater) ApplyToken(t *domain.TokenInfo) (Delta, error) {
	out := Delta{Token: t.Mint}
	e := u.entryFor(t.Mint, t, &out)
	s := e.state

	s.Creator = t.Creator
	s.Decimals = t.Decimals
	s.CreationSlot = t.Slot
	if t.Supply.IsPositive() {
		s.DeclaredSupply = t.Supply
	}
	if t.BondingCurve {
		s.BondingCurve = true
		transition(e, domain.StageBondingCurve, t, &out)
	}
	if s.Price.IsPositive() {
		s.MarketCap = s.Price.Mul(s.Supply())
	}
	u.touch(e, t.Timestamp)
	return out, nil
}

// ApplyPool records a pool. A pool for a bonding-curve token, or one flagged
// as a graduation, graduates the token.
func (u *Updater) ApplyPool(p *domain.PoolEvent) (Delta, error) {
	out := Delta{Token: p.Token}
	e := u.entryFor(p.Token, p, &out)
	e.state.Pool = p.Pool
	if p.Graduation || e.state.BondingCurve {
		transition(e, domain.StageGraduated, p, &out)
	}
	u.touch(e, p.Timestamp)
	return out, nil
}

// ApplyLiquidity tracks quote-side pool liquidity.
func (u *Updater) ApplyLiquidity(l *domain.LiquidityEvent) (Delta, error) {
	var current decimal.Decimal
	if e, ok := u.tokens[l.Token]; ok {
		current = e.state.Liquidity
	}

	next := l.LiquidityAfter.Decimal
	if !l.LiquidityAfter.Valid {
		switch l.Type {
		case domain.LiquidityAdd:
			next = current.Add(l.AmountQuote)
		case domain.LiquidityRemove:
			next = current.Sub(l.AmountQuote)
		}
	}
	if next.IsNegative() {
		return Delta{}, violation(ReasonNegativeLiquidity, l.Token, "liquidity %s after %s/%d", next, l.Signature, l.Hop)
	}

	out := Delta{Token: l.Token}
	e := u.entryFor(l.Token, l, &out)
	e.state.Liquidity = next
	if l.Pool != "" {
		e.state.Pool = l.Pool
	}
	u.touch(e, l.Timestamp)
	return out, nil
}

// ApplyFunding records the latest funding rate of a perp.
func (u *Updater) ApplyFunding(f *domain.Funding) (Delta, error) {
	out := Delta{Token: f.TokenKey()}
	e := u.entryFor(f.TokenKey(), f, &out)
	if f.Timestamp >= e.state.UpdatedAt || e.state.FundingRate.IsZero() {
		e.state.FundingRate = f.Rate
	}
	u.touch(e, f.Timestamp)
	return out, nil
}

// ApplyLiquidation accumulates liquidated notional.
func (u *Updater) ApplyLiquidation(l *domain.Liquidation) (Delta, error) {
	if l.Size.IsNegative() || !l.Price.IsPositive() {
		return Delta{}, violation(ReasonNegativeAmount, l.TokenKey(), "liquidation %s", l.Hash)
	}
	out := Delta{Token: l.TokenKey()}
	e := u.entryFor(l.TokenKey(), l, &out)
	e.state.LiquidatedNotional = e.state.LiquidatedNotional.Add(l.Notional())
	u.touch(e, l.Timestamp)
	return out, nil
}

// refresh recomputes derived holder and risk fields as of now.
func (u *Updater) refresh(e *entry, now int64) {
	s := e.state
	e.windows.advance(now)
	s.Windows = e.windows.stats()

	supply := s.Supply()
	s.HolderCount = e.holders.count()
	s.Top10Share = e.holders.topShare(10, supply, u.cachedPDA)
	if s.Creator != "" && supply.IsPositive() {
		s.CreatorShare = e.holders.balance(s.Creator).Div(supply)
	} else {
		s.CreatorShare = decimal.Zero
	}

	flags := s.RiskFlags & domain.RiskMintAfterLaunch
	if s.Top10Share.GreaterThan(u.concentration) {
		flags |= domain.RiskHolderConcentration
	}
	if s.CreatorShare.GreaterThan(u.devHolding) {
		flags |= domain.RiskDevHolding
	}
	if s.Pool != "" && s.Liquidity.LessThan(u.lowLiquidity) {
		flags |= domain.RiskLowLiquidity
	}
	s.RiskFlags = flags
}

func (u *Updater) cachedPDA(addr string) bool {
	v, ok := u.pda[addr]
	if !ok {
		v = u.isPDA(addr)
		u.pda[addr] = v
	}
	return v
}

// Snapshot returns the current metrics of token as of now (ms).
func (u *Updater) Snapshot(token string, now int64) (domain.TokenMetrics, bool) {
	e, ok := u.tokens[token]
	if !ok {
		return domain.TokenMetrics{}, false
	}
	u.refresh(e, now)
	return e.state.Snapshot(), true
}

// DirtySnapshots returns metrics for every token changed since the previous
// call, sorted by token.
func (u *Updater) DirtySnapshots(now int64) []domain.TokenMetrics {
	if len(u.dirty) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(u.dirty))
	for t := range u.dirty {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	out := make([]domain.TokenMetrics, 0, len(tokens))
	for _, t := range tokens {
		e := u.tokens[t]
		u.refresh(e, now)
		out = append(out, e.state.Snapshot())
	}
	u.dirty = make(map[string]struct{})
	return out
}

// State returns a copy of the token state for inspection.
func (u *Updater) State(token string) (domain.TokenState, bool) {
	e, ok := u.tokens[token]
	if !ok {
		return domain.TokenState{}, false
	}
	return *e.state, true
}

// Holders returns the positive balances of token.
func (u *Updater) Holders(token string) []domain.HolderBalance {
	e, ok := u.tokens[token]
	if !ok {
		return nil
	}
	return e.holders.snapshot(token)
}

// Activity returns a read-only copy of every token's classification inputs.
func (u *Updater) Activity() []domain.TokenActivity {
	out := make([]domain.TokenActivity, 0, len(u.tokens))
	for token, e := range u.tokens {
		if !tracksDiscovery(token) {
			continue
		}
		wallets := make([]domain.WalletActivity, 0, len(e.wallets))
		for _, w := range e.wallets {
			wallets = append(wallets, *w)
		}
		sort.Slice(wallets, func(i, j int) bool { return wallets[i].Wallet < wallets[j].Wallet })
		out = append(out, domain.TokenActivity{
			Token:        token,
			Creator:      e.state.Creator,
			CreationSlot: e.state.CreationSlot,
			FirstTradeAt: e.state.FirstTrade,
			Supply:       e.state.Supply(),
			Holders:      e.holders.snapshot(token),
			Wallets:      wallets,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

// Len returns the number of tracked tokens.
func (u *Updater) Len() int {
	return len(u.tokens)
}
