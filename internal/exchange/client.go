package exchange

import (
	"context"
	"time"

	"arbwatch/internal/metrics"
	"arbwatch/internal/model"
)

// Collector defines the standard interface for all exchange collectors.
type Collector interface {
	GetName() string
	// Run streams quotes until ctx is cancelled. Connection failures are
	// retried with backoff and never returned.
	Run(ctx context.Context) error
}

// StateWriter receives the quotes and connection status of one exchange.
type StateWriter interface {
	UpdatePrice(exchange, symbol string, price model.Price)
	SetStatus(exchange string, connected bool, message string)
}

// Options configures a collector's endpoint and reconnection behaviour.
type Options struct {
	URL         string
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	IdleTimeout time.Duration
	Metrics     *metrics.Metrics
}

const (
	defaultMinBackoff  = time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultIdleTimeout = 60 * time.Second
)

func (o Options) withDefaults(url string) Options {
	if o.URL == "" {
		o.URL = url
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = defaultMinBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	return o
}
