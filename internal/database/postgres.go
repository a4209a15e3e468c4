package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"arbwatch/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	exchange VARCHAR(20) NOT NULL,
	symbol_std VARCHAR(20) NOT NULL,
	bid DOUBLE PRECISION NOT NULL,
	ask DOUBLE PRECISION NOT NULL,
	last DOUBLE PRECISION,
	volume_24h DOUBLE PRECISION,
	spread_abs DOUBLE PRECISION NOT NULL,
	spread_pct DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots (timestamp);
CREATE INDEX IF NOT EXISTS idx_snapshots_symbol ON snapshots (symbol_std, exchange);

CREATE TABLE IF NOT EXISTS arbitrage_metrics (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	symbol_std VARCHAR(20) NOT NULL,
	direction VARCHAR(40) NOT NULL,
	raw_spread DOUBLE PRECISION NOT NULL,
	net_pct DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON arbitrage_metrics (timestamp);
CREATE INDEX IF NOT EXISTS idx_metrics_symbol ON arbitrage_metrics (symbol_std, direction);

CREATE TABLE IF NOT EXISTS arbitrage_events (
	id BIGSERIAL PRIMARY KEY,
	symbol_std VARCHAR(20) NOT NULL,
	direction VARCHAR(40) NOT NULL,
	start_ts TIMESTAMPTZ NOT NULL,
	end_ts TIMESTAMPTZ,
	status VARCHAR(10) NOT NULL DEFAULT 'open',
	max_net_pct DOUBLE PRECISION NOT NULL,
	avg_net_pct DOUBLE PRECISION NOT NULL,
	duration_s BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_start ON arbitrage_events (start_ts);
CREATE INDEX IF NOT EXISTS idx_events_symbol ON arbitrage_events (symbol_std, direction);
CREATE INDEX IF NOT EXISTS idx_events_status ON arbitrage_events (status);
`

// PostgresRepository stores records in PostgreSQL through a pgx pool.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn and verifies the connection.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRepository{Pool: pool}, nil
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddSnapshots(ctx context.Context, snapshots []model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	rows := make([][]any, len(snapshots))
	for i, s := range snapshots {
		rows[i] = []any{s.Timestamp, s.Exchange, s.Symbol, s.Bid, s.Ask, s.Last, s.Volume24h, s.SpreadAbs, s.SpreadPct}
	}
	_, err := r.Pool.CopyFrom(ctx,
		pgx.Identifier{"snapshots"},
		[]string{"timestamp", "exchange", "symbol_std", "bid", "ask", "last", "volume_24h", "spread_abs", "spread_pct"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("add snapshots: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddMetrics(ctx context.Context, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	rows := make([][]any, len(metrics))
	for i, m := range metrics {
		rows[i] = []any{m.Timestamp, m.Symbol, m.Direction, m.RawSpread, m.NetPct}
	}
	_, err := r.Pool.CopyFrom(ctx,
		pgx.Identifier{"arbitrage_metrics"},
		[]string{"timestamp", "symbol_std", "direction", "raw_spread", "net_pct"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("add metrics: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateEvent(ctx context.Context, symbol, direction string, start time.Time, maxNetPct, avgNetPct float64) (int64, error) {
	var id int64
	err := r.Pool.QueryRow(ctx, `
		INSERT INTO arbitrage_events (symbol_std, direction, start_ts, status, max_net_pct, avg_net_pct, duration_s)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING id`,
		symbol, direction, start, string(model.EventOpen), maxNetPct, avgNetPct,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) CloseEvent(ctx context.Context, id int64, end time.Time, maxNetPct, avgNetPct float64, durationS int64) error {
	_, err := r.Pool.Exec(ctx, `
		UPDATE arbitrage_events
		SET end_ts = $2, status = $3, max_net_pct = $4, avg_net_pct = $5, duration_s = $6
		WHERE id = $1`,
		id, end, string(model.EventClosed), maxNetPct, avgNetPct, durationS,
	)
	if err != nil {
		return fmt.Errorf("close event %d: %w", id, err)
	}
	return nil
}

func newPostgresWhere() *where {
	return &where{
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		timeArg:     func(t time.Time) any { return t },
	}
}

func (r *PostgresRepository) ListEvents(ctx context.Context, f EventFilter) ([]model.ArbitrageEvent, error) {
	w := newPostgresWhere()
	eventConditions(w, f)
	rows, err := r.Pool.Query(ctx, "SELECT "+eventColumns+" FROM arbitrage_events"+w.String()+" ORDER BY start_ts, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[model.ArbitrageEvent])
}

func (r *PostgresRepository) ListSnapshots(ctx context.Context, f SnapshotFilter) ([]model.Snapshot, error) {
	w := newPostgresWhere()
	snapshotConditions(w, f)
	rows, err := r.Pool.Query(ctx, "SELECT "+snapshotColumns+" FROM snapshots"+w.String()+" ORDER BY timestamp, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[model.Snapshot])
}

func (r *PostgresRepository) ListMetrics(ctx context.Context, f MetricFilter) ([]model.Metric, error) {
	w := newPostgresWhere()
	metricConditions(w, f)
	rows, err := r.Pool.Query(ctx, "SELECT "+metricColumns+" FROM arbitrage_metrics"+w.String()+" ORDER BY timestamp, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[model.Metric])
}

func (r *PostgresRepository) Close() error {
	r.Pool.Close()
	return nil
}
