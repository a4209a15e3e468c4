package model

import "time"

// Exchange names used as keys across the state store, fees and persistence.
const (
	Binance = "binance"
	Kraken  = "kraken"
)

// Price is the latest quote for one instrument on one exchange.
// Last and Volume24h are nil until the exchange has reported them.
type Price struct {
	Bid       float64  `json:"bid"`
	Ask       float64  `json:"ask"`
	Last      *float64 `json:"last,omitempty"`
	Volume24h *float64 `json:"volume_24h,omitempty"`
}

// HasQuote reports whether both sides of the book are known.
func (p Price) HasQuote() bool {
	return p.Bid != 0 && p.Ask != 0
}

// Clone returns a copy that shares no memory with p.
func (p Price) Clone() Price {
	c := Price{Bid: p.Bid, Ask: p.Ask}
	if p.Last != nil {
		v := *p.Last
		c.Last = &v
	}
	if p.Volume24h != nil {
		v := *p.Volume24h
		c.Volume24h = &v
	}
	return c
}

// Float returns a pointer to v, for optional fields.
func Float(v float64) *float64 {
	return &v
}

// ConnectionStatus describes the current or last connection transition of an exchange.
type ConnectionStatus struct {
	Connected   bool   `json:"connected"`
	LastMessage string `json:"last_message,omitempty"`
}

// EventStatus is the lifecycle state of a persisted arbitrage event.
type EventStatus string

const (
	EventOpen   EventStatus = "open"
	EventClosed EventStatus = "closed"
)

// Snapshot is a persisted point-in-time quote for one exchange/symbol.
type Snapshot struct {
	ID        int64     `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Exchange  string    `db:"exchange" json:"exchange"`
	Symbol    string    `db:"symbol_std" json:"symbol"`
	Bid       float64   `db:"bid" json:"bid"`
	Ask       float64   `db:"ask" json:"ask"`
	Last      *float64  `db:"last" json:"last,omitempty"`
	Volume24h *float64  `db:"volume_24h" json:"volume_24h,omitempty"`
	SpreadAbs float64   `db:"spread_abs" json:"spread_abs"`
	SpreadPct float64   `db:"spread_pct" json:"spread_pct"`
}

// Metric is a persisted arbitrage computation, one per symbol, direction and tick.
type Metric struct {
	ID        int64     `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Symbol    string    `db:"symbol_std" json:"symbol"`
	Direction string    `db:"direction" json:"direction"`
	RawSpread float64   `db:"raw_spread" json:"raw_spread"`
	NetPct    float64   `db:"net_pct" json:"net_pct"`
}

// ArbitrageEvent is a contiguous window during which a direction stayed profitable.
type ArbitrageEvent struct {
	ID        int64       `db:"id" json:"id"`
	Symbol    string      `db:"symbol_std" json:"symbol"`
	Direction string      `db:"direction" json:"direction"`
	StartTS   time.Time   `db:"start_ts" json:"start_ts"`
	EndTS     *time.Time  `db:"end_ts" json:"end_ts,omitempty"`
	Status    EventStatus `db:"status" json:"status"`
	MaxNetPct float64     `db:"max_net_pct" json:"max_net_pct"`
	AvgNetPct float64     `db:"avg_net_pct" json:"avg_net_pct"`
	DurationS int64       `db:"duration_s" json:"duration_s"`
}
