package database

import (
	"context"
	"testing"
	"time"

	"arbwatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepository runs the behaviour every backend must share against an
// empty, migrated repository.
func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Migrations are repeatable.
	require.NoError(t, repo.Migrate(ctx))

	t.Run("empty batches are no-ops", func(t *testing.T) {
		assert.NoError(t, repo.AddSnapshots(ctx, nil))
		assert.NoError(t, repo.AddMetrics(ctx, []model.Metric{}))
	})

	t.Run("snapshots", func(t *testing.T) {
		err := repo.AddSnapshots(ctx, []model.Snapshot{
			{Timestamp: t0, Exchange: model.Binance, Symbol: "BTC/USDT", Bid: 100, Ask: 101, Last: model.Float(100.5), Volume24h: model.Float(1234), SpreadAbs: 1, SpreadPct: 0.99},
			{Timestamp: t0, Exchange: model.Kraken, Symbol: "BTC/USDT", Bid: 99, Ask: 100, SpreadAbs: 1, SpreadPct: 1},
			{Timestamp: t0.Add(2 * time.Hour), Exchange: model.Kraken, Symbol: "ETH/USDT", Bid: 10, Ask: 11, SpreadAbs: 1, SpreadPct: 9.09},
		})
		require.NoError(t, err)

		window := SnapshotFilter{From: t0.Add(-time.Minute), To: t0.Add(time.Minute)}

		all, err := repo.ListSnapshots(ctx, SnapshotFilter{From: window.From, To: window.To, Symbol: All, Exchange: All})
		require.NoError(t, err)
		require.Len(t, all, 2, "the later snapshot is outside the window")

		first := all[0]
		assert.NotZero(t, first.ID)
		assert.WithinDuration(t, t0, first.Timestamp, time.Millisecond)
		assert.Equal(t, model.Binance, first.Exchange)
		require.NotNil(t, first.Last)
		assert.Equal(t, 100.5, *first.Last)
		require.NotNil(t, first.Volume24h)
		assert.Equal(t, 1234.0, *first.Volume24h)
		assert.Nil(t, all[1].Last)
		assert.Nil(t, all[1].Volume24h)

		kraken, err := repo.ListSnapshots(ctx, SnapshotFilter{From: window.From, To: window.To, Exchange: model.Kraken})
		require.NoError(t, err)
		require.Len(t, kraken, 1)
		assert.Equal(t, 99.0, kraken[0].Bid)

		eth, err := repo.ListSnapshots(ctx, SnapshotFilter{From: t0, To: t0.Add(3 * time.Hour), Symbol: "ETH/USDT"})
		require.NoError(t, err)
		require.Len(t, eth, 1)
		assert.Equal(t, "ETH/USDT", eth[0].Symbol)
	})

	t.Run("metrics", func(t *testing.T) {
		err := repo.AddMetrics(ctx, []model.Metric{
			{Timestamp: t0, Symbol: "BTC/USDT", Direction: "binance_sell/kraken_buy", RawSpread: 1.5, NetPct: 0.3},
			{Timestamp: t0, Symbol: "BTC/USDT", Direction: "kraken_sell/binance_buy", RawSpread: -2, NetPct: -2.3},
		})
		require.NoError(t, err)

		got, err := repo.ListMetrics(ctx, MetricFilter{From: t0, To: t0, Symbol: "BTC/USDT", Direction: "kraken_sell/binance_buy"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, -2.3, got[0].NetPct)
		assert.Equal(t, -2.0, got[0].RawSpread)

		got, err = repo.ListMetrics(ctx, MetricFilter{From: t0, To: t0, Direction: All})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("event lifecycle", func(t *testing.T) {
		id, err := repo.CreateEvent(ctx, "BTC/USDT", "binance_sell/kraken_buy", t0, 1.0, 1.0)
		require.NoError(t, err)
		assert.NotZero(t, id)

		other, err := repo.CreateEvent(ctx, "ETH/USDT", "kraken_sell/binance_buy", t0.Add(time.Second), 0.4, 0.4)
		require.NoError(t, err)
		assert.NotEqual(t, id, other)

		events, err := repo.ListEvents(ctx, EventFilter{From: t0, To: t0.Add(time.Minute)})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, id, events[0].ID)
		assert.Equal(t, model.EventOpen, events[0].Status)
		assert.Nil(t, events[0].EndTS)
		assert.Zero(t, events[0].DurationS)

		end := t0.Add(5 * time.Second)
		require.NoError(t, repo.CloseEvent(ctx, id, end, 1.4, 0.6, 5))
		require.NoError(t, repo.CloseEvent(ctx, 999999, end, 1, 1, 1), "unknown ids are ignored")

		events, err = repo.ListEvents(ctx, EventFilter{From: t0, To: t0.Add(time.Minute), Symbol: "BTC/USDT", Direction: All})
		require.NoError(t, err)
		require.Len(t, events, 1)
		closed := events[0]
		assert.Equal(t, model.EventClosed, closed.Status)
		require.NotNil(t, closed.EndTS)
		assert.WithinDuration(t, end, *closed.EndTS, time.Millisecond)
		assert.Equal(t, 1.4, closed.MaxNetPct)
		assert.Equal(t, 0.6, closed.AvgNetPct)
		assert.Equal(t, int64(5), closed.DurationS)

		minPct := 1.0
		events, err = repo.ListEvents(ctx, EventFilter{From: t0, To: t0.Add(time.Minute), MinNetPct: &minPct})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, id, events[0].ID)

		events, err = repo.ListEvents(ctx, EventFilter{From: t0.Add(time.Hour), To: t0.Add(2 * time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
