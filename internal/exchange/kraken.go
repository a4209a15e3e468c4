package exchange

import (
	"context"
	"log/slog"
	"slices"

	"arbwatch/internal/model"
	"arbwatch/internal/symbols"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const krakenURL = "wss://ws.kraken.com"

// KrakenClient implements the Collector interface for Kraken's public ticker channel.
type KrakenClient struct {
	logger  *slog.Logger
	runner  *streamRunner
	state   StateWriter
	url     string
	pairs   []string
	reverse *symbols.Reverse
}

type krakenSubscription struct {
	Event        string            `json:"event"`
	Pair         []string          `json:"pair"`
	Subscription map[string]string `json:"subscription"`
}

// krakenTicker is the payload of [channelID, ticker, "ticker", pair].
// Array elements mix strings and integers, so they are decoded loosely.
type krakenTicker struct {
	Ask    []any `json:"a"`
	Bid    []any `json:"b"`
	Close  []any `json:"c"`
	Volume []any `json:"v"`
}

// NewKrakenClient creates a collector for the given canonical -> native subscriptions.
func NewKrakenClient(logger *slog.Logger, state StateWriter, subscriptions map[string]string, opts Options) *KrakenClient {
	opts = opts.withDefaults(krakenURL)
	pairs := make([]string, 0, len(subscriptions))
	for _, native := range subscriptions {
		pairs = append(pairs, native)
	}
	slices.Sort(pairs)

	return &KrakenClient{
		logger:  logger,
		runner:  newStreamRunner(model.Kraken, logger, state, opts),
		state:   state,
		url:     opts.URL,
		pairs:   pairs,
		reverse: symbols.NewReverse(model.Kraken, subscriptions),
	}
}

func (k *KrakenClient) GetName() string {
	return model.Kraken
}

// Run connects to the Kraken WebSocket API and keeps it alive until ctx is cancelled.
func (k *KrakenClient) Run(ctx context.Context) error {
	return k.runner.run(ctx, k)
}

func (k *KrakenClient) endpoint() string {
	return k.url
}

// subscribe sends the ticker subscription for every watched pair.
func (k *KrakenClient) subscribe(conn *websocket.Conn) error {
	subscription := krakenSubscription{
		Event:        "subscribe",
		Pair:         k.pairs,
		Subscription: map[string]string{"name": "ticker"},
	}
	if err := conn.WriteJSON(subscription); err != nil {
		return err
	}
	k.logger.Info("KrakenClient: subscription sent successfully", "pairs", k.pairs)
	return nil
}

// handle applies ticker arrays. Objects (heartbeat, systemStatus,
// subscriptionStatus) and short arrays are ignored.
func (k *KrakenClient) handle(raw []byte) bool {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return false
	}
	if len(frame) < 4 {
		return false
	}

	var pair string
	if err := json.Unmarshal(frame[len(frame)-1], &pair); err != nil {
		return false
	}
	symbol, ok := k.reverse.Lookup(pair)
	if !ok {
		return false
	}

	var ticker krakenTicker
	if err := json.Unmarshal(frame[1], &ticker); err != nil {
		k.logger.Debug("KrakenClient: failed to parse ticker", "error", err)
		return false
	}

	bid, ok := numberAt(ticker.Bid, 0)
	if !ok {
		return false
	}
	ask, ok := numberAt(ticker.Ask, 0)
	if !ok {
		return false
	}
	price := model.Price{Bid: bid, Ask: ask}
	if last, ok := numberAt(ticker.Close, 0); ok {
		price.Last = model.Float(last)
	}
	if volume, ok := numberAt(ticker.Volume, 1); ok {
		price.Volume24h = model.Float(volume)
	}

	k.state.UpdatePrice(model.Kraken, symbol, price)
	return true
}

func numberAt(values []any, i int) (float64, bool) {
	if i >= len(values) {
		return 0, false
	}
	s, ok := values[i].(string)
	if !ok {
		return 0, false
	}
	v, err := parseNumber(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
