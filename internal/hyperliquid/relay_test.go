package hyperliquid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"click-datastreams/internal/bus"
)

const tradesFrame = `{"channel":"trades","data":[` +
	`{"coin":"BTC","side":"B","px":"65000.5","sz":"0.1","time":1740830400000,"hash":"0xabc","tid":1,"users":["0xb","0xs"]},` +
	`{"coin":"BTC","side":"A","px":"65000.0","sz":"0.2","time":1740830400001,"hash":"0xabd","tid":2,"users":["0xb","0xs"]}]}`

// fakeFeed accepts subscriptions, answers with one trades frame per
// connection, then drops the connection.
type fakeFeed struct {
	mu   sync.Mutex
	subs []subscribeRequest
}

func (f *fakeFeed) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req subscribeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		f.mu.Lock()
		f.subs = append(f.subs, req)
		f.mu.Unlock()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"subscriptionResponse","data":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(tradesFrame))
		time.Sleep(50 * time.Millisecond)
	}
}

func (f *fakeFeed) subscriptions() []subscribeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscribeRequest(nil), f.subs...)
}

func TestRelay_PublishesFillsAndReconnects(t *testing.T) {
	feed := &fakeFeed{}
	srv := httptest.NewServer(feed.handler(t))
	defer srv.Close()

	b := bus.NewMemoryBus(100)
	defer b.Close()

	relay, err := NewRelay(b, Options{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		Coins:             []string{"BTC"},
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
		ReconnectsPerMin:  6000,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return relay.Sessions() >= 2 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return relay.Relayed() >= 4 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	subs := feed.subscriptions()
	require.NotEmpty(t, subs)
	assert.Equal(t, subscription{Type: "trades", Coin: "BTC"}, subs[0].Subscription)

	msgs := b.Messages(bus.TopicHLFills)
	require.GreaterOrEqual(t, len(msgs), 4)
	assert.Equal(t, "BTC", string(msgs[0].Key))

	var fill map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].Value, &fill))
	assert.Equal(t, "65000.5", fill["px"])
	assert.Equal(t, "0xabc", fill["hash"])
}

func TestRelay_IgnoresOtherChannels(t *testing.T) {
	b := bus.NewMemoryBus(10)
	defer b.Close()
	relay, err := NewRelay(b, Options{Coins: []string{"ETH"}})
	require.NoError(t, err)

	require.NoError(t, relay.handle(context.Background(), []byte(`{"channel":"pong"}`)))
	require.NoError(t, relay.handle(context.Background(), []byte(`{"channel":"trades","data":[{"px":"1"}]}`)))
	assert.Empty(t, b.Messages(bus.TopicHLFills), "a trade without a coin is skipped")

	assert.Error(t, relay.handle(context.Background(), []byte(`not json`)))
}

func TestNewRelay_RequiresCoins(t *testing.T) {
	_, err := NewRelay(bus.NewMemoryBus(1), Options{})
	assert.Error(t, err)
}
