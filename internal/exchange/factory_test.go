package exchange

import (
	"testing"

	"arbwatch/internal/model"
	"arbwatch/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	store := state.New()
	subscriptions := map[string]string{"BTC/USDT": "BTCUSDT"}

	for _, name := range []string{model.Binance, model.Kraken} {
		collector, err := NewClient(name, discardLogger(), store, subscriptions, Options{})
		require.NoError(t, err)
		assert.Equal(t, name, collector.GetName())
	}

	_, err := NewClient("coinbase", discardLogger(), store, subscriptions, Options{})
	assert.ErrorIs(t, err, ErrUnknownExchange)
	assert.ErrorContains(t, err, "coinbase")
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults(krakenURL)
	assert.Equal(t, krakenURL, opts.URL)
	assert.Equal(t, defaultMinBackoff, opts.MinBackoff)
	assert.Equal(t, defaultMaxBackoff, opts.MaxBackoff)
	assert.Equal(t, defaultIdleTimeout, opts.IdleTimeout)

	custom := Options{URL: "ws://localhost:1234"}.withDefaults(krakenURL)
	assert.Equal(t, "ws://localhost:1234", custom.URL)
}
