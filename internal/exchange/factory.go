package exchange

import (
	"errors"
	"fmt"
	"log/slog"

	"arbwatch/internal/model"
)

// ErrUnknownExchange is returned by NewClient for names without a collector.
var ErrUnknownExchange = errors.New("unknown exchange")

// NewClient creates a new exchange collector based on the given name.
func NewClient(name string, logger *slog.Logger, state StateWriter, subscriptions map[string]string, opts Options) (Collector, error) {
	switch name {
	case model.Kraken:
		return NewKrakenClient(logger, state, subscriptions, opts), nil
	case model.Binance:
		return NewBinanceClient(logger, state, subscriptions, opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
}
