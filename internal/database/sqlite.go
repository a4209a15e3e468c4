package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"arbwatch/internal/model"
	_ "github.com/mattn/go-sqlite3"
)

// Timestamps are stored as unix milliseconds so range filters compare integers.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	exchange TEXT NOT NULL,
	symbol_std TEXT NOT NULL,
	bid REAL NOT NULL,
	ask REAL NOT NULL,
	last REAL,
	volume_24h REAL,
	spread_abs REAL NOT NULL,
	spread_pct REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots (timestamp);
CREATE INDEX IF NOT EXISTS idx_snapshots_symbol ON snapshots (symbol_std, exchange);

CREATE TABLE IF NOT EXISTS arbitrage_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	symbol_std TEXT NOT NULL,
	direction TEXT NOT NULL,
	raw_spread REAL NOT NULL,
	net_pct REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON arbitrage_metrics (timestamp);
CREATE INDEX IF NOT EXISTS idx_metrics_symbol ON arbitrage_metrics (symbol_std, direction);

CREATE TABLE IF NOT EXISTS arbitrage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol_std TEXT NOT NULL,
	direction TEXT NOT NULL,
	start_ts INTEGER NOT NULL,
	end_ts INTEGER,
	status TEXT NOT NULL DEFAULT 'open',
	max_net_pct REAL NOT NULL,
	avg_net_pct REAL NOT NULL,
	duration_s INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_start ON arbitrage_events (start_ts);
CREATE INDEX IF NOT EXISTS idx_events_symbol ON arbitrage_events (symbol_std, direction);
CREATE INDEX IF NOT EXISTS idx_events_status ON arbitrage_events (status);
`

// SQLiteRepository stores records in a local SQLite file.
type SQLiteRepository struct {
	DB *sql.DB
}

// NewSQLiteRepository opens (and creates) the database file at path.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; readers from the API share the same handle.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteRepository{DB: db}, nil
}

func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// insertBatch runs one prepared insert per row inside a single transaction.
func (r *SQLiteRepository) insertBatch(ctx context.Context, query string, n int, row func(i int) []any) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) AddSnapshots(ctx context.Context, snapshots []model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	err := r.insertBatch(ctx, `
		INSERT INTO snapshots (timestamp, exchange, symbol_std, bid, ask, last, volume_24h, spread_abs, spread_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(snapshots), func(i int) []any {
			s := snapshots[i]
			return []any{s.Timestamp.UnixMilli(), s.Exchange, s.Symbol, s.Bid, s.Ask, s.Last, s.Volume24h, s.SpreadAbs, s.SpreadPct}
		})
	if err != nil {
		return fmt.Errorf("add snapshots: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AddMetrics(ctx context.Context, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	err := r.insertBatch(ctx, `
		INSERT INTO arbitrage_metrics (timestamp, symbol_std, direction, raw_spread, net_pct)
		VALUES (?, ?, ?, ?, ?)`,
		len(metrics), func(i int) []any {
			m := metrics[i]
			return []any{m.Timestamp.UnixMilli(), m.Symbol, m.Direction, m.RawSpread, m.NetPct}
		})
	if err != nil {
		return fmt.Errorf("add metrics: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CreateEvent(ctx context.Context, symbol, direction string, start time.Time, maxNetPct, avgNetPct float64) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO arbitrage_events (symbol_std, direction, start_ts, status, max_net_pct, avg_net_pct, duration_s)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		symbol, direction, start.UnixMilli(), string(model.EventOpen), maxNetPct, avgNetPct,
	)
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create event: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) CloseEvent(ctx context.Context, id int64, end time.Time, maxNetPct, avgNetPct float64, durationS int64) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE arbitrage_events
		SET end_ts = ?, status = ?, max_net_pct = ?, avg_net_pct = ?, duration_s = ?
		WHERE id = ?`,
		end.UnixMilli(), string(model.EventClosed), maxNetPct, avgNetPct, durationS, id,
	)
	if err != nil {
		return fmt.Errorf("close event %d: %w", id, err)
	}
	return nil
}

func newSQLiteWhere() *where {
	return &where{
		placeholder: func(int) string { return "?" },
		timeArg:     func(t time.Time) any { return t.UnixMilli() },
	}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return model.Float(v.Float64)
}

func (r *SQLiteRepository) ListEvents(ctx context.Context, f EventFilter) ([]model.ArbitrageEvent, error) {
	w := newSQLiteWhere()
	eventConditions(w, f)
	rows, err := r.DB.QueryContext(ctx, "SELECT "+eventColumns+" FROM arbitrage_events"+w.String()+" ORDER BY start_ts, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []model.ArbitrageEvent
	for rows.Next() {
		var (
			e      model.ArbitrageEvent
			start  int64
			end    sql.NullInt64
			status string
		)
		if err := rows.Scan(&e.ID, &e.Symbol, &e.Direction, &start, &end, &status, &e.MaxNetPct, &e.AvgNetPct, &e.DurationS); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.StartTS = fromMillis(start)
		if end.Valid {
			t := fromMillis(end.Int64)
			e.EndTS = &t
		}
		e.Status = model.EventStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListSnapshots(ctx context.Context, f SnapshotFilter) ([]model.Snapshot, error) {
	w := newSQLiteWhere()
	snapshotConditions(w, f)
	rows, err := r.DB.QueryContext(ctx, "SELECT "+snapshotColumns+" FROM snapshots"+w.String()+" ORDER BY timestamp, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		var (
			s            model.Snapshot
			ts           int64
			last, volume sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &ts, &s.Exchange, &s.Symbol, &s.Bid, &s.Ask, &last, &volume, &s.SpreadAbs, &s.SpreadPct); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.Timestamp = fromMillis(ts)
		s.Last = nullFloat(last)
		s.Volume24h = nullFloat(volume)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListMetrics(ctx context.Context, f MetricFilter) ([]model.Metric, error) {
	w := newSQLiteWhere()
	metricConditions(w, f)
	rows, err := r.DB.QueryContext(ctx, "SELECT "+metricColumns+" FROM arbitrage_metrics"+w.String()+" ORDER BY timestamp, id", w.args...)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []model.Metric
	for rows.Next() {
		var (
			m  model.Metric
			ts int64
		)
		if err := rows.Scan(&m.ID, &ts, &m.Symbol, &m.Direction, &m.RawSpread, &m.NetPct); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = fromMillis(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Close() error {
	return r.DB.Close()
}
