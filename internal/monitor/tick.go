package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"arbwatch/internal/arbitrage"
	"arbwatch/internal/model"
)

// tick persists one snapshot per quote, evaluates both directions for every
// watched symbol quoted on both exchanges and drives the event lifecycle.
// Persistence errors are collected and returned together.
func (s *Service) tick(ctx context.Context, engine *arbitrage.ArbitrageEngine, now time.Time, prices map[string]map[string]model.Price) error {
	var errs []error
	fail := func(err error) {
		s.metrics.PersistenceError()
		errs = append(errs, err)
	}

	if snapshots := buildSnapshots(now, prices); len(snapshots) > 0 {
		if err := s.recorder.AddSnapshots(ctx, snapshots); err != nil {
			fail(fmt.Errorf("add snapshots: %w", err))
		}
	}

	var metrics []model.Metric
	for _, symbol := range s.cfg.Watchlist {
		binance, ok := prices[model.Binance][symbol]
		if !ok {
			continue
		}
		kraken, ok := prices[model.Kraken][symbol]
		if !ok {
			continue
		}
		// A zero side would evaluate to a zero net pct.
		if !binance.HasQuote() || !kraken.HasQuote() {
			continue
		}

		results := []arbitrage.Result{
			engine.Compute(symbol, model.Binance, binance.Bid, model.Kraken, kraken.Ask),
			engine.Compute(symbol, model.Kraken, kraken.Bid, model.Binance, binance.Ask),
		}
		for _, result := range results {
			metrics = append(metrics, arbitrage.ToMetric(result, now))
			s.metrics.ObserveNetPct(result.Symbol, result.Direction, result.NetPct)
			if err := s.applyEvent(ctx, engine, result, now); err != nil {
				fail(err)
			}
		}
	}

	if len(metrics) > 0 {
		if err := s.recorder.AddMetrics(ctx, metrics); err != nil {
			fail(fmt.Errorf("add metrics: %w", err))
		}
	}
	s.metrics.SetOpenEvents(engine.OpenEvents())

	return errors.Join(errs...)
}

func (s *Service) applyEvent(ctx context.Context, engine *arbitrage.ArbitrageEngine, result arbitrage.Result, now time.Time) error {
	action, ev := engine.UpdateEventState(result, now)

	switch action {
	case arbitrage.ActionStart:
		s.metrics.EventOpened()
		id, err := s.recorder.CreateEvent(ctx, result.Symbol, result.Direction, ev.StartTS, ev.MaxNetPct, ev.AvgNetPct())
		if err != nil {
			return fmt.Errorf("create event %s %s: %w", result.Symbol, result.Direction, err)
		}
		engine.AttachEventID(result.Symbol, result.Direction, id)

	case arbitrage.ActionClose:
		if ev.EventID != nil {
			duration := int64(now.Sub(ev.StartTS) / time.Second)
			if err := s.recorder.CloseEvent(ctx, *ev.EventID, now, ev.MaxNetPct, ev.AvgNetPct(), duration); err != nil {
				// The state stays open so the close is retried next tick.
				return fmt.Errorf("close event %d: %w", *ev.EventID, err)
			}
		}
		engine.Finalize(result.Symbol, result.Direction)
		s.metrics.EventClosed()
	}
	return nil
}

// buildSnapshots returns one snapshot per (exchange, symbol), ordered by
// exchange then symbol.
func buildSnapshots(now time.Time, prices map[string]map[string]model.Price) []model.Snapshot {
	var snapshots []model.Snapshot
	for exchange, quotes := range prices {
		for symbol, p := range quotes {
			spreadAbs := p.Ask - p.Bid
			var spreadPct float64
			if p.Bid != 0 {
				spreadPct = spreadAbs / p.Bid * 100
			}
			snapshots = append(snapshots, model.Snapshot{
				Timestamp: now,
				Exchange:  exchange,
				Symbol:    symbol,
				Bid:       p.Bid,
				Ask:       p.Ask,
				Last:      p.Last,
				Volume24h: p.Volume24h,
				SpreadAbs: spreadAbs,
				SpreadPct: spreadPct,
			})
		}
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].Exchange != snapshots[j].Exchange {
			return snapshots[i].Exchange < snapshots[j].Exchange
		}
		return snapshots[i].Symbol < snapshots[j].Symbol
	})
	return snapshots
}
