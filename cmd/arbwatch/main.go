package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arbwatch/internal/api"
	"arbwatch/internal/config"
	"arbwatch/internal/database"
	"arbwatch/internal/logger"
	"arbwatch/internal/metrics"
	"arbwatch/internal/model"
	"arbwatch/internal/monitor"
	"arbwatch/internal/state"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

func main() {
	configDir := pflag.StringP("config", "c", ".", "directory containing config.yaml or config.json")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("arbwatch: %v", err)
	}
}

func run(cfg config.Config) error {
	slogger, zapLogger, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer zapLogger.Sync()
	slog.SetDefault(slogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := database.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	slogger.Info("storage ready", "driver", cfg.Storage.Driver, "location", database.Location(cfg.Storage))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := state.New(model.Binance, model.Kraken)
	svc := monitor.NewService(cfg, store, repo, slogger, m)
	svc.Start()

	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		if cfg.Log.Production {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := api.NewServer(zapLogger, svc, store, repo, reg)
		go func() { apiErr <- srv.Run(ctx, cfg.API.Addr) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		slogger.Info("shutdown signal received")
	case runErr = <-apiErr:
		slogger.Error("API server stopped", "error", runErr)
	}
	stop()

	if err := svc.Stop(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if cfg.API.Enabled && runErr == nil {
		if err := <-apiErr; err != nil {
			runErr = err
		}
	}
	return runErr
}
