package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"arbwatch/internal/database"
	"arbwatch/internal/model"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Monitor is the lifecycle surface of the monitoring service.
type Monitor interface {
	Start()
	Stop() error
	Running() bool
	RunID() string
}

// StateReader exposes the live quotes and connection status.
type StateReader interface {
	GetPrices() map[string]map[string]model.Price
	GetStatus() map[string]model.ConnectionStatus
}

// Queries is the read side of the repository.
type Queries interface {
	ListEvents(ctx context.Context, f database.EventFilter) ([]model.ArbitrageEvent, error)
	ListSnapshots(ctx context.Context, f database.SnapshotFilter) ([]model.Snapshot, error)
	ListMetrics(ctx context.Context, f database.MetricFilter) ([]model.Metric, error)
}

// Server represents the API server
type Server struct {
	router  *gin.Engine
	logger  *zap.Logger
	monitor Monitor
	state   StateReader
	queries Queries
	now     func() time.Time
}

// NewServer creates the router. gatherer backs the /metrics endpoint.
func NewServer(logger *zap.Logger, monitor Monitor, state StateReader, queries Queries, gatherer prometheus.Gatherer) *Server {
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	s := &Server{
		router:  router,
		logger:  logger,
		monitor: monitor,
		state:   state,
		queries: queries,
		now:     time.Now,
	}
	s.registerRoutes(gatherer)
	return s
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/prices", s.getPrices)
		api.GET("/events", s.listEvents)
		api.GET("/snapshots", s.listSnapshots)
		api.GET("/metrics", s.listMetrics)

		monitor := api.Group("/monitor")
		{
			monitor.POST("/start", s.startMonitor)
			monitor.POST("/stop", s.stopMonitor)
		}
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
