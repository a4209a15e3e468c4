package arbitrage

import (
	"time"

	"arbwatch/internal/model"
)

// Action is the event lifecycle transition produced by one sample.
type Action string

const (
	ActionNone   Action = "none"
	ActionStart  Action = "start"
	ActionUpdate Action = "update"
	ActionClose  Action = "close"
)

// Result is one evaluation of selling on one exchange and buying on another.
type Result struct {
	Symbol    string
	Direction string
	RawSpread float64
	NetPct    float64
}

// EventState aggregates the samples of an open event.
type EventState struct {
	// EventID is nil until the event has been persisted.
	EventID   *int64
	StartTS   time.Time
	MaxNetPct float64
	SumNetPct float64
	Samples   int
}

// AvgNetPct is the mean of all samples, including a closing one.
func (s *EventState) AvgNetPct() float64 {
	if s.Samples == 0 {
		return 0
	}
	return s.SumNetPct / float64(s.Samples)
}

type eventKey struct {
	symbol    string
	direction string
}

// ArbitrageEngine computes fee-adjusted spreads and tracks open events.
// It is used from a single goroutine and does no locking.
type ArbitrageEngine struct {
	fees         map[string]float64
	thresholdPct float64
	events       map[eventKey]*EventState
}

// NewArbitrageEngine creates an engine. Exchanges missing from fees trade
// without fees.
func NewArbitrageEngine(fees map[string]float64, thresholdPct float64) *ArbitrageEngine {
	cp := make(map[string]float64, len(fees))
	for ex, fee := range fees {
		cp[ex] = fee
	}
	return &ArbitrageEngine{
		fees:         cp,
		thresholdPct: thresholdPct,
		events:       make(map[eventKey]*EventState),
	}
}

// Direction names the sell/buy pair, e.g. "binance_sell/kraken_buy".
func Direction(sellExchange, buyExchange string) string {
	return sellExchange + "_sell/" + buyExchange + "_buy"
}

// Compute evaluates selling at sellBid on sellExchange and buying at buyAsk on buyExchange.
func (e *ArbitrageEngine) Compute(symbol, sellExchange string, sellBid float64, buyExchange string, buyAsk float64) Result {
	sellFee := e.fees[sellExchange]
	buyFee := e.fees[buyExchange]

	net := sellBid*(1-sellFee) - buyAsk*(1+buyFee)
	var netPct float64
	if buyAsk != 0 {
		netPct = net / buyAsk * 100
	}

	return Result{
		Symbol:    symbol,
		Direction: Direction(sellExchange, buyExchange),
		RawSpread: sellBid - buyAsk,
		NetPct:    netPct,
	}
}

// UpdateEventState feeds one sample into the lifecycle of (symbol, direction).
// On ActionClose the state is still held; the caller must call Finalize once
// the close has been recorded.
func (e *ArbitrageEngine) UpdateEventState(result Result, now time.Time) (Action, *EventState) {
	key := eventKey{symbol: result.Symbol, direction: result.Direction}
	state, open := e.events[key]

	if result.NetPct >= e.thresholdPct {
		if !open {
			state = &EventState{
				StartTS:   now,
				MaxNetPct: result.NetPct,
				SumNetPct: result.NetPct,
				Samples:   1,
			}
			e.events[key] = state
			return ActionStart, state
		}
		state.MaxNetPct = max(state.MaxNetPct, result.NetPct)
		state.SumNetPct += result.NetPct
		state.Samples++
		return ActionUpdate, state
	}

	if !open {
		return ActionNone, nil
	}
	state.SumNetPct += result.NetPct
	state.Samples++
	return ActionClose, state
}

// AttachEventID records the identifier assigned when the event was persisted.
func (e *ArbitrageEngine) AttachEventID(symbol, direction string, id int64) bool {
	state, ok := e.events[eventKey{symbol: symbol, direction: direction}]
	if !ok {
		return false
	}
	state.EventID = &id
	return true
}

// Finalize evicts and returns the state of (symbol, direction).
func (e *ArbitrageEngine) Finalize(symbol, direction string) (*EventState, bool) {
	key := eventKey{symbol: symbol, direction: direction}
	state, ok := e.events[key]
	if ok {
		delete(e.events, key)
	}
	return state, ok
}

// OpenEvents returns the number of events currently tracked.
func (e *ArbitrageEngine) OpenEvents() int {
	return len(e.events)
}

// ToMetric converts a result into its persisted form.
func ToMetric(result Result, ts time.Time) model.Metric {
	return model.Metric{
		Timestamp: ts,
		Symbol:    result.Symbol,
		Direction: result.Direction,
		RawSpread: result.RawSpread,
		NetPct:    result.NetPct,
	}
}
