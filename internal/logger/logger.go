package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder, level and optional log file.
type Config struct {
	Level      string `mapstructure:"level"`
	Production bool   `mapstructure:"production"`
	File       string `mapstructure:"file"`
}

// New builds a slog logger backed by zap. The zap logger is returned as well
// for components that take one directly; call its Sync before exit.
func New(cfg Config) (*slog.Logger, *zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Production {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	zcfg.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}

	zapLogger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger: %w", err)
	}

	return slog.New(zapslog.NewHandler(zapLogger.Core())), zapLogger, nil
}
