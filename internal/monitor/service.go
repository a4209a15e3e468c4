// Package monitor runs the exchange collectors and the snapshot loop under
// a single start/stop lifecycle.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"arbwatch/internal/arbitrage"
	"arbwatch/internal/config"
	"arbwatch/internal/exchange"
	"arbwatch/internal/metrics"
	"arbwatch/internal/model"
	"arbwatch/internal/state"
	"arbwatch/internal/symbols"
	"github.com/google/uuid"
)

// StopTimeout bounds how long Stop waits for the worker to exit.
const StopTimeout = 5 * time.Second

// ErrStopTimeout is returned by Stop when the worker did not exit in time.
var ErrStopTimeout = errors.New("monitor did not stop within timeout")

// Recorder is the part of the repository the snapshot loop writes to.
type Recorder interface {
	AddSnapshots(ctx context.Context, snapshots []model.Snapshot) error
	AddMetrics(ctx context.Context, metrics []model.Metric) error
	CreateEvent(ctx context.Context, symbol, direction string, start time.Time, maxNetPct, avgNetPct float64) (int64, error)
	CloseEvent(ctx context.Context, id int64, end time.Time, maxNetPct, avgNetPct float64, durationS int64) error
}

type collectorFactory func(name string, logger *slog.Logger, state exchange.StateWriter, subscriptions map[string]string, opts exchange.Options) (exchange.Collector, error)

// Service owns one monitoring run at a time.
type Service struct {
	cfg      config.Config
	store    *state.Store
	recorder Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics

	newCollector collectorFactory
	stopTimeout  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runID  string
}

// NewService creates a stopped service. m may be nil.
func NewService(cfg config.Config, store *state.Store, recorder Recorder, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		cfg:          cfg,
		store:        store,
		recorder:     recorder,
		logger:       logger,
		metrics:      m,
		newCollector: exchange.NewClient,
		stopTimeout:  StopTimeout,
	}
}

// Start launches a monitoring run. It does nothing if a run is active.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.runID = uuid.NewString()

	go s.work(ctx, s.runID, s.done)
}

// Stop cancels the active run and waits up to StopTimeout for it to exit.
// The run counts as active until its tasks return, so Start is a no-op while
// a stop is in flight or has timed out.
func (s *Service) Stop() error {
	s.mu.Lock()
	cancel, done, runID := s.cancel, s.done, s.runID
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(s.stopTimeout):
		s.logger.Error("monitoring run did not stop in time", "run_id", runID, "timeout", s.stopTimeout)
		return ErrStopTimeout
	}
}

// Running reports whether a monitoring run is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// RunID identifies the current or most recent run.
func (s *Service) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

func (s *Service) runningLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Service) work(ctx context.Context, runID string, done chan struct{}) {
	defer close(done)

	logger := s.logger.With("run_id", runID)
	logger.Info("monitoring service starting", "watchlist", s.cfg.Watchlist, "interval", s.cfg.SnapshotInterval())

	mapping := symbols.NewMapping(s.cfg.Overrides())
	subscriptions := mapping.SubscriptionMap(s.cfg.Watchlist)
	engine := arbitrage.NewArbitrageEngine(s.cfg.Fees(), s.cfg.MinNetPct)

	var wg sync.WaitGroup
	for _, name := range []string{model.Binance, model.Kraken} {
		collector, err := s.newCollector(name, logger, s.store, subscriptions[name], s.collectorOptions(name))
		if err != nil {
			logger.Error("failed to create collector", "exchange", name, "error", err)
			continue
		}
		s.supervise(ctx, &wg, logger, collector.GetName(), collector.Run)
	}
	s.supervise(ctx, &wg, logger, "snapshot", func(ctx context.Context) error {
		return s.snapshotLoop(ctx, logger, engine)
	})

	wg.Wait()
	logger.Info("monitoring service stopped")
}

func (s *Service) collectorOptions(name string) exchange.Options {
	return exchange.Options{
		URL:         s.cfg.Exchanges[name].URL,
		MinBackoff:  s.cfg.Collector.MinBackoff(),
		MaxBackoff:  s.cfg.Collector.MaxBackoff(),
		IdleTimeout: s.cfg.Collector.IdleTimeout(),
		Metrics:     s.metrics,
	}
}

// supervise runs fn in its own goroutine. Errors and panics are logged and
// leave the other tasks running.
func (s *Service) supervise(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, task string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task panicked", "task", task, "panic", r)
			}
		}()
		if err := fn(ctx); err != nil {
			logger.Error("task failed", "task", task, "error", err)
		}
	}()
}

func (s *Service) snapshotLoop(ctx context.Context, logger *slog.Logger, engine *arbitrage.ArbitrageEngine) error {
	ticker := time.NewTicker(s.cfg.SnapshotInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			started := time.Now()
			now := started.UTC().Truncate(time.Second)
			if err := s.tick(ctx, engine, now, s.store.GetPrices()); err != nil {
				logger.Error("snapshot tick failed", "error", err)
			}
			s.metrics.ObserveTick(time.Since(started).Seconds())
		}
	}
}
