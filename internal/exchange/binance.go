package exchange

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"arbwatch/internal/model"
	"arbwatch/internal/symbols"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const binanceURL = "wss://stream.binance.com:9443"

const (
	binanceBookTicker = "bookTicker"
	binanceMiniTicker = "24hrMiniTicker"
)

// BinanceClient implements the Collector interface for Binance combined streams.
type BinanceClient struct {
	logger  *slog.Logger
	runner  *streamRunner
	state   StateWriter
	baseURL string
	natives []string
	reverse *symbols.Reverse
	// last merges book and mini-ticker updates per canonical symbol.
	// Only the receive loop touches it.
	last map[string]model.Price
}

// binanceEnvelope is the combined-stream wrapper:
//
//	{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"25.35","B":"31.21","a":"25.36","A":"40.66"}}
type binanceEnvelope struct {
	Stream string       `json:"stream"`
	Data   binanceEvent `json:"data"`
}

// binanceEvent covers bookTicker and 24hrMiniTicker payloads. The upper-case
// keys are declared so that case-insensitive matching cannot fold them into
// their lower-case neighbours.
type binanceEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Bid       string `json:"b"`
	BidQty    string `json:"B"`
	Ask       string `json:"a"`
	AskQty    string `json:"A"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

// NewBinanceClient creates a collector for the given canonical -> native subscriptions.
func NewBinanceClient(logger *slog.Logger, state StateWriter, subscriptions map[string]string, opts Options) *BinanceClient {
	opts = opts.withDefaults(binanceURL)
	natives := make([]string, 0, len(subscriptions))
	for _, native := range subscriptions {
		natives = append(natives, native)
	}
	slices.Sort(natives)

	return &BinanceClient{
		logger:  logger,
		runner:  newStreamRunner(model.Binance, logger, state, opts),
		state:   state,
		baseURL: strings.TrimRight(opts.URL, "/"),
		natives: natives,
		reverse: symbols.NewReverse(model.Binance, subscriptions),
		last:    make(map[string]model.Price, len(subscriptions)),
	}
}

func (b *BinanceClient) GetName() string {
	return model.Binance
}

// Run connects to the Binance combined stream and keeps it alive until ctx is cancelled.
func (b *BinanceClient) Run(ctx context.Context) error {
	return b.runner.run(ctx, b)
}

// endpoint encodes every subscription in the URL:
// <base>/stream?streams=btcusdt@bookTicker/btcusdt@miniTicker/...
func (b *BinanceClient) endpoint() string {
	streams := make([]string, 0, 2*len(b.natives))
	for _, native := range b.natives {
		s := strings.ToLower(native)
		streams = append(streams, s+"@bookTicker", s+"@miniTicker")
	}
	return b.baseURL + "/stream?streams=" + strings.Join(streams, "/")
}

func (b *BinanceClient) subscribe(*websocket.Conn) error {
	return nil
}

func (b *BinanceClient) handle(raw []byte) bool {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logger.Debug("BinanceClient: failed to parse message", "error", err)
		return false
	}
	ev := env.Data
	if ev.Symbol == "" {
		return false
	}
	symbol, ok := b.reverse.Lookup(ev.Symbol)
	if !ok {
		return false
	}

	switch {
	case ev.Event == binanceMiniTicker:
		return b.applyMiniTicker(symbol, ev)
	case ev.Event == binanceBookTicker || strings.HasSuffix(env.Stream, "@"+binanceBookTicker):
		return b.applyBookTicker(symbol, ev)
	default:
		return false
	}
}

func (b *BinanceClient) applyBookTicker(symbol string, ev binanceEvent) bool {
	bid, err := parseNumber(ev.Bid)
	if err != nil {
		b.logger.Debug("BinanceClient: failed to parse bid price", "error", err)
		return false
	}
	ask, err := parseNumber(ev.Ask)
	if err != nil {
		b.logger.Debug("BinanceClient: failed to parse ask price", "error", err)
		return false
	}

	prev := b.last[symbol]
	price := model.Price{Bid: bid, Ask: ask, Last: prev.Last, Volume24h: prev.Volume24h}
	b.last[symbol] = price
	b.state.UpdatePrice(model.Binance, symbol, price)
	return true
}

// applyMiniTicker updates last and volume. Nothing is published until a book
// ticker has supplied bid and ask, so readers never see a zero quote.
func (b *BinanceClient) applyMiniTicker(symbol string, ev binanceEvent) bool {
	last, err := parseNumber(ev.Close)
	if err != nil {
		b.logger.Debug("BinanceClient: failed to parse last price", "error", err)
		return false
	}
	volume, err := parseNumber(ev.Volume)
	if err != nil {
		b.logger.Debug("BinanceClient: failed to parse volume", "error", err)
		return false
	}

	prev := b.last[symbol]
	price := model.Price{Bid: prev.Bid, Ask: prev.Ask, Last: model.Float(last), Volume24h: model.Float(volume)}
	b.last[symbol] = price
	if price.HasQuote() {
		b.state.UpdatePrice(model.Binance, symbol, price)
	}
	return true
}
