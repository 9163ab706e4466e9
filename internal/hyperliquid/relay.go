// Package hyperliquid relays the Hyperliquid public trades feed onto the bus
// as raw JSON, one message per trade.
package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/logger"
	"click-datastreams/internal/observability"
)

// DefaultURL is the public Hyperliquid websocket endpoint.
const DefaultURL = "wss://api.hyperliquid.xyz/ws"

// Options configures a Relay.
type Options struct {
	URL               string
	Coins             []string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	ReconnectsPerMin  float64
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		URL:               DefaultURL,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReconnectsPerMin:  10,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

func (o *Options) withDefaults() {
	d := DefaultOptions()
	if o.URL == "" {
		o.URL = d.URL
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = d.ReconnectDelay
	}
	if o.MaxReconnectDelay < o.ReconnectDelay {
		o.MaxReconnectDelay = max(d.MaxReconnectDelay, o.ReconnectDelay)
	}
	if o.ReconnectsPerMin <= 0 {
		o.ReconnectsPerMin = d.ReconnectsPerMin
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
}

type subscribeRequest struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type tradeHeader struct {
	Coin string `json:"coin"`
}

// Relay keeps one websocket session open and republishes every trade to
// hyperliquid.fills keyed by coin.
type Relay struct {
	producer bus.Producer
	opts     Options
	limiter  *rate.Limiter
	log      *logger.Entry

	mu       sync.Mutex
	sessions int
	relayed  int64
}

// NewRelay creates a relay.
func NewRelay(producer bus.Producer, opts Options) (*Relay, error) {
	opts.withDefaults()
	if len(opts.Coins) == 0 {
		return nil, errors.New("hyperliquid: at least one coin is required")
	}
	return &Relay{
		producer: producer,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(opts.ReconnectsPerMin/60), 1),
		log:      logger.GetLogger().WithComponent("hyperliquid"),
	}, nil
}

// Run connects and reconnects until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.opts.ReconnectDelay
	eb.MaxInterval = r.opts.MaxReconnectDelay
	eb.MaxElapsedTime = 0

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil
		}
		started := time.Now()
		err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		// A session that stayed up for a while resets the backoff.
		if time.Since(started) > r.opts.MaxReconnectDelay {
			eb.Reset()
		}
		wait := eb.NextBackOff()
		r.log.WithError(err).WithField("retry_in", wait.String()).Warn("Hyperliquid session ended, reconnecting")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Sessions returns the number of sessions opened so far.
func (r *Relay) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions
}

func (r *Relay) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	r.mu.Lock()
	r.sessions++
	r.mu.Unlock()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout))
		return conn.WriteJSON(v)
	}

	for _, coin := range r.opts.Coins {
		req := subscribeRequest{Method: "subscribe", Subscription: subscription{Type: "trades", Coin: coin}}
		if err := write(req); err != nil {
			return fmt.Errorf("subscribe %s: %w", coin, err)
		}
	}
	r.log.WithField("coins", r.opts.Coins).Info("Subscribed to Hyperliquid trades")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(r.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := write(map[string]string{"method": "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(r.opts.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		if err := r.handle(sessionCtx, data); err != nil {
			r.log.WithError(err).Warn("Failed to relay message")
		}
	}
}

// handle publishes each trade of a "trades" frame; other channels
// (subscription acks, pongs) are ignored.
func (r *Relay) handle(ctx context.Context, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	if env.Channel != "trades" {
		return nil
	}

	var trades []json.RawMessage
	if err := json.Unmarshal(env.Data, &trades); err != nil {
		return fmt.Errorf("decode trades: %w", err)
	}
	msgs := make([]bus.Message, 0, len(trades))
	for _, raw := range trades {
		var h tradeHeader
		if err := json.Unmarshal(raw, &h); err != nil || h.Coin == "" {
			continue
		}
		msgs = append(msgs, bus.Message{Topic: bus.TopicHLFills, Key: []byte(h.Coin), Value: raw})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := r.producer.Publish(ctx, msgs...); err != nil {
		observability.RecordPublishFailure(bus.TopicHLFills)
		return fmt.Errorf("publish %d fills: %w", len(msgs), err)
	}

	r.mu.Lock()
	r.relayed += int64(len(msgs))
	r.mu.Unlock()
	logger.LogDataFlow(r.log, "hyperliquid", "bus", len(msgs), "fills")
	return nil
}

// Relayed returns the number of fills published so far.
func (r *Relay) Relayed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relayed
}
