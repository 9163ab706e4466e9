package ingestion

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/domain"
	"click-datastreams/internal/solana"
)

// topicVersions lists the payload versions each consumed topic accepts.
// The first entry is assumed when a payload omits its version.
var topicVersions = map[string][]int{
	bus.TopicTrades:         {3},
	bus.TopicTransfers:      {2},
	bus.TopicTokens:         {2},
	bus.TopicPools:          {1},
	bus.TopicLiquidity:      {1},
	bus.TopicHLFills:        {1},
	bus.TopicHLFunding:      {1},
	bus.TopicHLLiquidations: {1},
}

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	// StaleAfter rejects events whose timestamp is older than now - StaleAfter.
	StaleAfter time.Duration
	// SkipAddressValidation disables base58 checks on Solana address fields.
	SkipAddressValidation bool
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Adapter decodes raw bus messages into validated domain events.
// It holds no mutable state and is safe for concurrent use.
type Adapter struct {
	staleAfter    time.Duration
	validateAddrs bool
	now           func() time.Time
}

// NewAdapter creates an Adapter.
func NewAdapter(opts AdapterOptions) *Adapter {
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		staleAfter:    staleAfter,
		validateAddrs: !opts.SkipAddressValidation,
		now:           now,
	}
}

// Decode turns msg into an Envelope or returns a *DecodeError.
func (a *Adapter) Decode(msg bus.Message) (domain.Envelope, error) {
	versions, ok := topicVersions[msg.Topic]
	if !ok {
		return domain.Envelope{}, &DecodeError{Kind: KindUnknownTopic, Topic: msg.Topic}
	}

	var hdr envelopeHeader
	if err := json.Unmarshal(msg.Value, &hdr); err != nil {
		return domain.Envelope{}, malformed(msg.Topic, err)
	}
	if hdr.Version != 0 && !containsInt(versions, hdr.Version) {
		return domain.Envelope{}, &DecodeError{
			Kind:  KindUnknownEventVersion,
			Topic: msg.Topic,
			Err:   errors.New("version " + strconv.Itoa(hdr.Version)),
		}
	}

	var (
		ev  domain.Event
		err error
	)
	switch msg.Topic {
	case bus.TopicTrades:
		ev, err = a.decodeTrade(msg)
	case bus.TopicTransfers:
		ev, err = a.decodeTransfer(msg)
	case bus.TopicTokens:
		ev, err = a.decodeToken(msg)
	case bus.TopicPools:
		ev, err = a.decodePool(msg)
	case bus.TopicLiquidity:
		ev, err = a.decodeLiquidity(msg)
	case bus.TopicHLFills:
		ev, err = a.decodeFill(msg)
	case bus.TopicHLFunding:
		ev, err = a.decodeFunding(msg)
	case bus.TopicHLLiquidations:
		ev, err = a.decodeLiquidation(msg)
	}
	if err != nil {
		return domain.Envelope{}, err
	}

	now := a.now()
	if ev.EventTime() < now.Add(-a.staleAfter).UnixMilli() {
		return domain.Envelope{}, &DecodeError{
			Kind:  KindStaleTimestamp,
			Topic: msg.Topic,
			Err:   errors.New("event time " + time.UnixMilli(ev.EventTime()).UTC().Format(time.RFC3339)),
		}
	}

	written := now.UnixMilli()
	if !msg.Time.IsZero() {
		written = msg.Time.UnixMilli()
	}
	return domain.Envelope{
		Topic:      msg.Topic,
		Partition:  msg.Partition,
		Sequence:   msg.Offset,
		WrittenAt:  written,
		ReceivedAt: now.UnixMilli(),
		Event:      ev,
	}, nil
}

func (a *Adapter) decodeTrade(msg bus.Message) (domain.Event, error) {
	var p tradePayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return nil, malformed(msg.Topic, err)
	}
	switch {
	case p.Signature == "":
		return nil, missing(msg.Topic, "signature")
	case p.TokenAddress == "":
		return nil, missing(msg.Topic, "token_address")
	case p.Wallet == "":
		return nil, missing(msg.Topic, "wallet")
	case p.Slot == nil:
		return nil, missing(msg.Topic, "slot")
	case p.Timestamp == nil:
		return nil, missing(msg.Topic, "timestamp")
	case !p.TokenAmount.Valid:
		return nil, missing(msg.Topic, "token_amount")
	case !p.QuoteAmount.Valid:
		return nil, missing(msg.Topic, "quote_amount")
	}
	side := strings.ToLower(p.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		return nil, invalidField(msg.Topic, "side", errors.New("want buy or sell, got "+p.Side))
	}
	if err := a.checkAddresses(msg.Topic, []addressField{
		{"token_address", p.TokenAddress},
		{"wallet", p.Wallet},
		{"pool_address", p.PoolAddress},
	}); err != nil {
		return nil, err
	}

	price := p.Price.Decimal
	if !p.Price.Valid {
		if p.TokenAmount.Decimal.IsZero() {
			return nil, missing(msg.Topic, "price")
		}
		price = p.QuoteAmount.Decimal.Div(p.TokenAmount.Decimal)
	}

	return &domain.Trade{
		Signature:   p.Signature,
		Hop:         p.Hop,
		Token:       p.TokenAddress,
		Pool:        p.PoolAddress,
		Side:        side,
		TokenAmount: p.TokenAmount.Decimal,
		QuoteAmount: p.QuoteAmount.Decimal,
		Price:       price,
		Wallet:      p.Wallet,
		Slot:        *p.Slot,
		Timestamp:   *p.Timestamp,
		Venue:       p.Venue,
	}, nil
}

func (a *Adapter) decodeTransfer(msg bus.Message) (domain.Event, error) {
	var p transferPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return nil, malformed(msg.Topic, err)
	}
	switch {
	case p.Signature == "":
		return nil, missing(msg.Topic, "signature")
	case p.TokenAddress == "":
		return nil, missing(msg.Topic, "token_address")
	case !p.Amount.Valid:
		return nil, missing(msg.Topic, "amount")
	case p.Slot == nil:
		return nil, missing(msg.Topic, "slot")
	case p.Timestamp == nil:
		return nil, missing(msg.Topic, "timestamp")
	}

	typ := domain.TransferType(strings.ToLower(p.Type))
	if typ == "" {
		switch {
		case p.From == "":
			typ = domain.TransferTypeMint
		case p.To == "":
			typ = domain.TransferTypeBurn
		default:
			typ = domain.TransferTypeTransfer
		}
	}
	switch typ {
	case domain.TransferTypeMint:
		if p.To == "" {
			return nil, missing(msg.Topic, "to")
		}
	case domain.TransferTypeBurn:
		if p.From == "" {
			return nil, missing(msg.Topic, "from")
		}
	case domain.TransferTypeTransfer:
		if p.From == "" {
			return nil, missing(msg.Topic, "from")
		}
		if p.To == "" {
			return nil, missing(msg.Topic, "to")
		}
	default:
		return nil, invalidField(msg.Topic, "type", errors.New("unknown transfer type "+p.Type))
	}
	if p.Amount.Decimal.IsNegative() {
		return nil, invalidField(msg.Topic, "amount", errors.New("negative amount"))
	}
	if err := a.checkAddresses(msg.Topic, []addressField{
		{"token_address", p.TokenAddress},
		{"from", p.From},
		{"to", p.To},
	}); err != nil {
		return nil, err
	}

	return &domain.Transfer{
		Signature: p.Signature,
		Hop:       p.Hop,
		Token:     p.TokenAddress,
		From:      p.From,
		To:        p.To,
		Amount:    p.Amount.Decimal,
		Type:      typ,
		Slot:      *p.Slot,
		Timestamp: *p.Timestamp,
	}, nil
}

func (a *Adapter) decodeToken(msg bus.Message) (domain.Event, error) {
	var p tokenPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return nil, malformed(msg.Topic, err)
	}
	switch {
	case p.TokenAddress == "":
		return nil, missing(msg.Topic, "token_address")
	case p.Signature == "":
		return nil, missing(msg.Topic, "signature")
	case p.Slot == nil:
		return nil, missing(msg.Topic, "slot")
	case p.Timestamp == nil:
		return nil, missing(msg.Topic, "timestamp")
	}
	if err := a.checkAddresses(msg.Topic, []addressField{
		{"token_address", p.TokenAddress},
		{"creator", p.Creator},
	}); err != nil {
		return nil, err
	}

	return &domain.TokenInfo{
		Mint:         p.TokenAddress,
		Creator:      p.Creator,
		Name:         p.Name,
		Symbol:       p.Symbol,
		Decimals:     p.Decimals,
		Supply:       p.Supply.Decimal,
		BondingCurve: p.BondingCurve,
		Slot:         *p.Slot,
		Signature:    p.Signature,
		Timestamp:    *p.Timestamp,
	}, nil
}

func (a *Adapter) decodePool(msg bus.Message) (domain.Event, error) {
	var p poolPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return nil, malformed(msg.Topic, err)
	}
	switch {
	case p.PoolAddress == "":
		return nil, missing(msg.Topic, "pool_address")
	case p.TokenAddress == "":
		return nil, missing(msg.Topic, "token_address")
	case p.Signature == "":
		return nil, missing(msg.Topic, "signature")
	case p.Slot == nil:
		return nil, missing(msg.Topic, "slot")
	case p.Timestamp == nil:
		return nil, missing(msg.Topic, "timestamp")
	}
	if err := a.checkAddresses(msg.Topic, []addressField{
		{"pool_address", p.PoolAddress},
		{"token_address", p.TokenAddress},
		{"quote_mint", p.QuoteMint},
	}); err != nil {
		return nil, err
	}

	return &domain.PoolEvent{
		Pool:       p.PoolAddress,
		Token:      p.TokenAddress,
		QuoteMint:  p.QuoteMint,
		Venue:      p.Venue,
		Graduation: p.Graduation,
		Slot:       *p.Slot,
		Signature:  p.Signature,
		Hop:        p.Hop,
		Timestamp:  *p.Timestamp,
	}, nil
}

func (a *Adapter) decodeLiquidity(msg bus.Message) (domain.Event, error) {
	var p liquidityPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return nil, malformed(msg.Topic, err)
	}
	switch {
	case p.PoolAddress == "":
		return nil, missing(msg.Topic, "pool_address")
	case p.TokenAddress == "":
		return nil, missing(msg.Topic, "token_address")
	case p.Signature == "":
		return nil, missing(msg.Topic, "signature")
	case p.Slot == nil:
		return nil, missing(msg.Topic, "slot")
	case p.Timestamp == nil:
		return nil, missing(msg.Topic, "timestamp")
	case p.Type == "":
		return nil, missing(msg.Topic, "type")
	}
	typ := strings.ToLower(p.Type)
	if typ != domain.LiquidityAdd && typ != domain.LiquidityRemove {
		return nil, invalidField(msg.Topic, "type", errors.New("want add or remove, got "+p.Type))
	}
	if err := a.checkAddresses(msg.Topic, []addressField{
		{"pool_address", p.PoolAddress},
		{"token_address", p.TokenAddress},
	}); err != nil {
		return nil, err
	}

	return &domain.LiquidityEvent{
		Pool:           p.PoolAddress,
		Token:          p.TokenAddress,
		Signature:      p.Signature,
		Hop:            p.Hop,
		Slot:           *p.Slot,
		Timestamp:      *p.Timestamp,
		Type:           typ,
		AmountToken:    p.AmountToken.Decimal,
		AmountQuote:    p.AmountQuote.Decimal,
		LiquidityAfter: p.LiquidityAfter,
	}, nil
}

// decodeFill maps a Hyperliquid fill onto a Trade keyed by hl:<coin>. The
// trade id is the hop so fills sharing a hash stay distinct; the fill time
// orders fills of one coin.
func (a *Adapter) decodeFill(msg bus.Message) (domain.Event, error) {
	var p hlFillPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return nil, malformed(msg.Topic, err)
	}
	switch {
	case p.Coin == "":
		return nil, missing(msg.Topic, "coin")
	case !p.Px.Valid:
		return nil, missing(msg.Topic, "px")
	case !p.Sz.Valid:
		return nil, missing(msg.Topic, "sz")
	case p.Time == nil:
		return nil, missing(msg.Topic, "time")
	case p.Hash == "":
		return nil, missing(msg.Topic, "hash")
	case p.Tid == nil:
		return nil, missing(msg.Topic, "tid")
	}

	var side, wallet string
	switch p.Side {
	case "B":
		side = domain.SideBuy
		if len(p.Users) > 0 {
			wallet = p.Users[0]
		}
	case "A":
		side = domain.SideSell
		if len(p.Users) > 1 {
			wallet = p.Users[1]
		}
	default:
		return nil, invalidField(msg.Topic, "side", errors.New("want B or A, got "+p.Side))
	}

	return &domain.Trade{
		Signature:   p.Hash,
		Hop:         int(*p.Tid),
		Token:       domain.HyperliquidToken(p.Coin),
		Side:        side,
		TokenAmount: p.Sz.Decimal,
		QuoteAmount: p.Sz.Decimal.Mul(p.Px.Decimal),
		Price:       p.Px.Decimal,
		Wallet:      wallet,
		Slot:        *p.Time,
		Timestamp:   *p.Time,
		Venue:       "hyperliquid",
	}, nil
}

func (a *Adapter) decodeFunding(msg bus.Message) (domain.Event, error) {
	var p hlFundingPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return nil, malformed(msg.Topic, err)
	}
	switch {
	case p.Coin == "":
		return nil, missing(msg.Topic, "coin")
	case !p.FundingRate.Valid:
		return nil, missing(msg.Topic, "funding_rate")
	case p.Time == nil:
		return nil, missing(msg.Topic, "time")
	}
	return &domain.Funding{
		Coin:      p.Coin,
		Rate:      p.FundingRate.Decimal,
		Premium:   p.Premium.Decimal,
		Sequence:  *p.Time,
		Timestamp: *p.Time,
	}, nil
}

func (a *Adapter) decodeLiquidation(msg bus.Message) (domain.Event, error) {
	var p hlLiquidationPayload
	if err := json.Unmarshal(msg.Value, &p); err != nil {
		return nil, malformed(msg.Topic, err)
	}
	switch {
	case p.Coin == "":
		return nil, missing(msg.Topic, "coin")
	case !p.Size.Valid:
		return nil, missing(msg.Topic, "size")
	case !p.Price.Valid:
		return nil, missing(msg.Topic, "price")
	case p.Hash == "":
		return nil, missing(msg.Topic, "hash")
	case p.Time == nil:
		return nil, missing(msg.Topic, "time")
	}
	return &domain.Liquidation{
		Coin:      p.Coin,
		User:      p.User,
		Side:      p.Side,
		Size:      p.Size.Decimal,
		Price:     p.Price.Decimal,
		Hash:      p.Hash,
		Sequence:  *p.Time,
		Timestamp: *p.Time,
	}, nil
}

// checkAddresses validates non-empty Solana address fields.
func (a *Adapter) checkAddresses(topic string, fields []addressField) error {
	if !a.validateAddrs {
		return nil
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := solana.ValidateAddress(f.value); err != nil {
			return invalidField(topic, f.name, err)
		}
	}
	return nil
}

type addressField struct {
	name  string
	value string
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
