package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arbwatch/internal/config"
	"arbwatch/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error
	AddSnapshots(ctx context.Context, snapshots []model.Snapshot) error
	AddMetrics(ctx context.Context, metrics []model.Metric) error
	// CreateEvent stores a new open event and returns its identifier.
	CreateEvent(ctx context.Context, symbol, direction string, start time.Time, maxNetPct, avgNetPct float64) (int64, error)
	// CloseEvent finalizes an event; unknown ids are ignored.
	CloseEvent(ctx context.Context, id int64, end time.Time, maxNetPct, avgNetPct float64, durationS int64) error
	ListEvents(ctx context.Context, f EventFilter) ([]model.ArbitrageEvent, error)
	ListSnapshots(ctx context.Context, f SnapshotFilter) ([]model.Snapshot, error)
	ListMetrics(ctx context.Context, f MetricFilter) ([]model.Metric, error)
	Close() error
}

// All is accepted by every string filter and means "no filter".
const All = "All"

// EventFilter selects events whose start lies in [From, To].
type EventFilter struct {
	From      time.Time
	To        time.Time
	Symbol    string
	Direction string
	// MinNetPct keeps events whose max net pct reached this value.
	MinNetPct *float64
}

// SnapshotFilter selects snapshots taken in [From, To].
type SnapshotFilter struct {
	From     time.Time
	To       time.Time
	Symbol   string
	Exchange string
}

// MetricFilter selects metrics computed in [From, To].
type MetricFilter struct {
	From      time.Time
	To        time.Time
	Symbol    string
	Direction string
}

// Open connects to the configured backend. Call Migrate before first use.
func Open(ctx context.Context, cfg config.StorageConfig) (Repository, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteRepository(cfg.DBPath)
	case "postgres":
		return NewPostgresRepository(ctx, cfg.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Location describes where cfg stores data, without credentials.
func Location(cfg config.StorageConfig) string {
	if cfg.Driver == "postgres" {
		return fmt.Sprintf("postgres://%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.DBName)
	}
	return cfg.DBPath
}

// where accumulates AND-ed conditions with driver-specific placeholders.
type where struct {
	placeholder func(n int) string
	timeArg     func(t time.Time) any
	clauses     []string
	args        []any
}

func (w *where) add(column, op string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, column+" "+op+" "+w.placeholder(len(w.args)))
}

func (w *where) between(column string, from, to time.Time) {
	w.add(column, ">=", w.timeArg(from))
	w.add(column, "<=", w.timeArg(to))
}

func (w *where) equal(column, value string) {
	if value != "" && value != All {
		w.add(column, "=", value)
	}
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func eventConditions(w *where, f EventFilter) {
	w.between("start_ts", f.From, f.To)
	w.equal("symbol_std", f.Symbol)
	w.equal("direction", f.Direction)
	if f.MinNetPct != nil {
		w.add("max_net_pct", ">=", *f.MinNetPct)
	}
}

func snapshotConditions(w *where, f SnapshotFilter) {
	w.between("timestamp", f.From, f.To)
	w.equal("symbol_std", f.Symbol)
	w.equal("exchange", f.Exchange)
}

func metricConditions(w *where, f MetricFilter) {
	w.between("timestamp", f.From, f.To)
	w.equal("symbol_std", f.Symbol)
	w.equal("direction", f.Direction)
}

const (
	snapshotColumns = "id, timestamp, exchange, symbol_std, bid, ask, last, volume_24h, spread_abs, spread_pct"
	metricColumns   = "id, timestamp, symbol_std, direction, raw_spread, net_pct"
	eventColumns    = "id, symbol_std, direction, start_ts, end_ts, status, max_net_pct, avg_net_pct, duration_s"
)
