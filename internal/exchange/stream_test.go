package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arbwatch/internal/metrics"
	"arbwatch/internal/model"
	"arbwatch/internal/state"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer upgrades every request and hands the connection to handler.
type testServer struct {
	server      *httptest.Server
	upgrader    websocket.Upgrader
	connections atomic.Int64
	mu          sync.Mutex
	lastQuery   string
	handler     func(conn *websocket.Conn)
}

func newTestServer(t *testing.T, handler func(conn *websocket.Conn)) *testServer {
	t.Helper()
	ts := &testServer{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		handler:  handler,
	}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.lastQuery = r.URL.Query().Get("streams")
		ts.mu.Unlock()

		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ts.connections.Add(1)
		ts.handler(conn)
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http")
}

func (ts *testServer) query() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastQuery
}

// holdOpen keeps the connection until the client goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func runCollector(t *testing.T, c Collector) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestKrakenClient_RunSubscribesAndStreams(t *testing.T) {
	subscribed := make(chan krakenSubscription, 1)
	ts := newTestServer(t, func(conn *websocket.Conn) {
		var sub krakenSubscription
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"systemStatus","status":"online"}`))
		_ = conn.WriteMessage(websocket.TextMessage, krakenTickerMessage("XBT/USDT", "100.5", "101.5", "101"))
		holdOpen(conn)
	})

	store := state.New(model.Kraken)
	k := NewKrakenClient(discardLogger(), store, map[string]string{"BTC/USDT": "XBT/USDT"}, Options{URL: ts.wsURL()})
	cancel, done := runCollector(t, k)

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub.Event)
		assert.Equal(t, []string{"XBT/USDT"}, sub.Pair)
		assert.Equal(t, "ticker", sub.Subscription["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool {
		_, ok := store.GetPrices()[model.Kraken]["BTC/USDT"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.ConnectionStatus{Connected: true, LastMessage: "connected"}, store.GetStatus()[model.Kraken])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop after cancel")
	}
}

func TestBinanceClient_RunEncodesStreamsInURL(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, bookTickerMessage("BTCUSDT", "10", "11"))
		_ = conn.WriteMessage(websocket.TextMessage, miniTickerMessage("BTCUSDT", "10.5", "99"))
		holdOpen(conn)
	})

	store := state.New(model.Binance)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := NewBinanceClient(discardLogger(), store, map[string]string{"BTC/USDT": "BTCUSDT"}, Options{URL: ts.wsURL(), Metrics: m})
	cancel, done := runCollector(t, b)

	require.Eventually(t, func() bool {
		p, ok := store.GetPrices()[model.Binance]["BTC/USDT"]
		return ok && p.Last != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "btcusdt@bookTicker/btcusdt@miniTicker", ts.query())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues(model.Binance)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connected.WithLabelValues(model.Binance)))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop after cancel")
	}
}

func TestStreamRunner_ReconnectsAfterFailure(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		// Drop every connection right after the handshake.
	})

	store := state.New(model.Kraken)
	m := metrics.New(prometheus.NewRegistry())
	k := NewKrakenClient(discardLogger(), store, map[string]string{"BTC/USDT": "XBT/USDT"}, Options{
		URL:        ts.wsURL(),
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
		Metrics:    m,
	})
	cancel, done := runCollector(t, k)

	require.Eventually(t, func() bool {
		return ts.connections.Load() >= 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop after cancel")
	}

	assert.Equal(t, model.ConnectionStatus{Connected: false, LastMessage: "stopped"}, store.GetStatus()[model.Kraken])
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.Reconnects.WithLabelValues(model.Kraken)), 2.0)
}

func TestStreamRunner_DialFailureReportedInStatus(t *testing.T) {
	store := state.New(model.Binance)
	b := NewBinanceClient(discardLogger(), store, map[string]string{"BTC/USDT": "BTCUSDT"}, Options{
		URL:        "ws://127.0.0.1:1",
		MinBackoff: time.Hour,
		MaxBackoff: time.Hour,
	})
	cancel, done := runCollector(t, b)

	require.Eventually(t, func() bool {
		s := store.GetStatus()[model.Binance]
		return strings.HasPrefix(s.LastMessage, "dial:")
	}, 5*time.Second, 10*time.Millisecond)

	// Stop must not wait for the hour-long backoff.
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("collector blocked in backoff after cancel")
	}
}

func TestStreamRunner_IdleTimeoutTriggersReconnect(t *testing.T) {
	ts := newTestServer(t, func(conn *websocket.Conn) {
		holdOpen(conn)
	})

	store := state.New(model.Kraken)
	k := NewKrakenClient(discardLogger(), store, map[string]string{"BTC/USDT": "XBT/USDT"}, Options{
		URL:         ts.wsURL(),
		MinBackoff:  5 * time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		IdleTimeout: 50 * time.Millisecond,
	})
	runCollector(t, k)

	require.Eventually(t, func() bool {
		return ts.connections.Load() >= 2
	}, 5*time.Second, 10*time.Millisecond)
}
