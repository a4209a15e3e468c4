package exchange

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"

	"arbwatch/internal/model"
	"arbwatch/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bookTickerMessage(symbol, bid, ask string) []byte {
	return []byte(fmt.Sprintf(
		`{"stream":"%s@bookTicker","data":{"u":400900217,"s":"%s","b":"%s","B":"31.21","a":"%s","A":"40.66"}}`,
		strings.ToLower(symbol), symbol, bid, ask))
}

func miniTickerMessage(symbol, last, volume string) []byte {
	return []byte(fmt.Sprintf(
		`{"stream":"%s@miniTicker","data":{"e":"24hrMiniTicker","E":1672515782136,"s":"%s","c":"%s","o":"0.0010","h":"0.0025","l":"0.0010","v":"%s","q":"18"}}`,
		strings.ToLower(symbol), symbol, last, volume))
}

func newTestBinance(store *state.Store) *BinanceClient {
	subs := map[string]string{"BTC/USDT": "BTCUSDT", "ETH/USDT": "ETHUSDT"}
	return NewBinanceClient(discardLogger(), store, subs, Options{URL: "wss://example.test:9443/"})
}

func TestBinanceClient_Endpoint(t *testing.T) {
	b := newTestBinance(state.New())

	u, err := url.Parse(b.endpoint())
	require.NoError(t, err)
	assert.Equal(t, "/stream", u.Path)
	assert.Equal(t,
		"btcusdt@bookTicker/btcusdt@miniTicker/ethusdt@bookTicker/ethusdt@miniTicker",
		u.Query().Get("streams"))
	assert.True(t, strings.HasPrefix(b.endpoint(), "wss://example.test:9443/stream?"))
}

func TestBinanceClient_BookTicker(t *testing.T) {
	store := state.New()
	b := newTestBinance(store)

	assert.True(t, b.handle(bookTickerMessage("BTCUSDT", "25.35", "25.36")))

	got := store.GetPrices()[model.Binance]["BTC/USDT"]
	assert.Equal(t, 25.35, got.Bid)
	assert.Equal(t, 25.36, got.Ask)
	assert.Nil(t, got.Last)
	assert.Nil(t, got.Volume24h)
}

func TestBinanceClient_MiniTickerSuppressedUntilQuoteKnown(t *testing.T) {
	store := state.New()
	b := newTestBinance(store)

	assert.True(t, b.handle(miniTickerMessage("BTCUSDT", "25.40", "1000.5")))
	assert.Empty(t, store.GetPrices()[model.Binance], "mini ticker alone must not publish a quote")

	require.True(t, b.handle(bookTickerMessage("BTCUSDT", "25.35", "25.36")))
	got := store.GetPrices()[model.Binance]["BTC/USDT"]
	require.NotNil(t, got.Last, "last from the earlier mini ticker is merged in")
	assert.Equal(t, 25.40, *got.Last)
	assert.Equal(t, 1000.5, *got.Volume24h)

	require.True(t, b.handle(miniTickerMessage("BTCUSDT", "25.50", "1200")))
	got = store.GetPrices()[model.Binance]["BTC/USDT"]
	assert.Equal(t, 25.35, got.Bid)
	assert.Equal(t, 25.36, got.Ask)
	assert.Equal(t, 25.50, *got.Last)
	assert.Equal(t, 1200.0, *got.Volume24h)

	require.True(t, b.handle(bookTickerMessage("BTCUSDT", "25.30", "25.31")))
	got = store.GetPrices()[model.Binance]["BTC/USDT"]
	assert.Equal(t, 25.30, got.Bid)
	assert.Equal(t, 25.50, *got.Last, "book ticker preserves last and volume")
	assert.Equal(t, 1200.0, *got.Volume24h)
}

func TestBinanceClient_DropsUnknownAndMalformed(t *testing.T) {
	store := state.New()
	b := newTestBinance(store)

	tests := []struct {
		name string
		msg  []byte
	}{
		{"unknown symbol", bookTickerMessage("DOGEUSDT", "0.1", "0.2")},
		{"not json", []byte("not json")},
		{"missing symbol", []byte(`{"stream":"x","data":{"b":"1","a":"2"}}`)},
		{"bad price", bookTickerMessage("BTCUSDT", "abc", "1")},
		{"negative price", bookTickerMessage("BTCUSDT", "-1", "1")},
		{"unknown event", []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"1"}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, b.handle(tt.msg))
		})
	}
	assert.Empty(t, store.GetPrices())
}

func TestBinanceClient_LowerCaseSymbol(t *testing.T) {
	store := state.New()
	b := newTestBinance(store)

	msg := []byte(`{"stream":"ethusdt@bookTicker","data":{"s":"ethusdt","b":"1800.1","a":"1800.2"}}`)
	assert.True(t, b.handle(msg))
	assert.Contains(t, store.GetPrices()[model.Binance], "ETH/USDT")
}
