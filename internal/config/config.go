package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arbwatch/internal/logger"
	"arbwatch/internal/model"
	"arbwatch/internal/symbols"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned for settings that cannot start a monitoring run.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	configName = "config"
	envPrefix  = "ARBWATCH"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Watchlist         []string                  `mapstructure:"watchlist" validate:"min=1,dive,contains=/"`
	SnapshotIntervalS int                       `mapstructure:"snapshot_interval_s" validate:"gte=1"`
	MinNetPct         float64                   `mapstructure:"min_net_pct"`
	Exchanges         map[string]ExchangeConfig `mapstructure:"exchanges" validate:"required,dive"`
	Collector         CollectorConfig           `mapstructure:"collector"`
	Storage           StorageConfig             `mapstructure:"storage"`
	Log               logger.Config             `mapstructure:"log"`
	API               APIConfig                 `mapstructure:"api"`
}

// ExchangeConfig defines settings for a specific exchange.
type ExchangeConfig struct {
	// Fee is the taker fee as a fraction, e.g. 0.001 for 0.1%.
	Fee             float64           `mapstructure:"fee" validate:"gte=0,lt=1"`
	URL             string            `mapstructure:"url" validate:"omitempty,url"`
	SymbolOverrides map[string]string `mapstructure:"symbol_overrides"`
}

// CollectorConfig tunes reconnection behaviour of the exchange streams.
type CollectorConfig struct {
	MinBackoffS  int `mapstructure:"min_backoff_s" validate:"gte=1"`
	MaxBackoffS  int `mapstructure:"max_backoff_s" validate:"gtefield=MinBackoffS"`
	IdleTimeoutS int `mapstructure:"idle_timeout_s" validate:"gte=1"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DBPath   string         `mapstructure:"db_path" validate:"required_if=Driver sqlite"`
	Postgres DatabaseConfig `mapstructure:"postgres"`
}

// DatabaseConfig defines the postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the connection string understood by pgx.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.DBName,
	}
	if d.SSLMode != "" {
		u.RawQuery = "sslmode=" + d.SSLMode
	}
	return u.String()
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// Fees returns the fee table keyed by exchange name.
func (c Config) Fees() map[string]float64 {
	fees := make(map[string]float64, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		fees[name] = ex.Fee
	}
	return fees
}

// Overrides returns the per-exchange symbol override table.
func (c Config) Overrides() symbols.Overrides {
	out := make(symbols.Overrides, len(c.Exchanges))
	for name, ex := range c.Exchanges {
		if len(ex.SymbolOverrides) > 0 {
			out[name] = ex.SymbolOverrides
		}
	}
	return out
}

// SnapshotInterval is the tick period, never shorter than one second.
func (c Config) SnapshotInterval() time.Duration {
	return time.Duration(max(1, c.SnapshotIntervalS)) * time.Second
}

func (c CollectorConfig) MinBackoff() time.Duration {
	return time.Duration(c.MinBackoffS) * time.Second
}

func (c CollectorConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffS) * time.Second
}

func (c CollectorConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutS) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("watchlist", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("snapshot_interval_s", 1)
	v.SetDefault("min_net_pct", 0.2)
	v.SetDefault("exchanges.binance.fee", 0.001)
	v.SetDefault("exchanges.binance.url", "wss://stream.binance.com:9443")
	v.SetDefault("exchanges.kraken.fee", 0.0026)
	v.SetDefault("exchanges.kraken.url", "wss://ws.kraken.com")
	v.SetDefault("collector.min_backoff_s", 1)
	v.SetDefault("collector.max_backoff_s", 30)
	v.SetDefault("collector.idle_timeout_s", 60)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", filepath.Join("data", "arbwatch.db"))
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "arbwatch")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.dbname", "arbwatch")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.production", true)
	v.SetDefault("log.file", filepath.Join("logs", "arbwatch.log"))
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")
}

// LoadConfig reads config.yaml or config.json from path, applying ARBWATCH_*
// environment overrides. When no file exists the defaults are written to
// path/config.yaml and returned.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName(configName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return Config{}, fmt.Errorf("create config dir: %w", err)
		}
		if err := v.SafeWriteConfigAs(filepath.Join(path, configName+".yaml")); err != nil {
			return Config{}, fmt.Errorf("write default config: %w", err)
		}
	}

	// AutomaticEnv only sees keys with a default. Enabled after the defaults
	// file is written so env values are not persisted.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize restores canonical upper-case override keys, which viper lower-cases.
func (c *Config) normalize() error {
	for i, symbol := range c.Watchlist {
		c.Watchlist[i] = strings.ToUpper(strings.TrimSpace(symbol))
	}
	for name, ex := range c.Exchanges {
		if len(ex.SymbolOverrides) == 0 {
			continue
		}
		table := make(map[string]string, len(ex.SymbolOverrides))
		for canonical, native := range ex.SymbolOverrides {
			key := strings.ToUpper(canonical)
			if !strings.Contains(key, "/") || native == "" {
				return fmt.Errorf("%w: exchanges.%s.symbol_overrides: %q -> %q is not BASE/QUOTE -> native", ErrInvalidConfig, name, canonical, native)
			}
			table[key] = native
		}
		ex.SymbolOverrides = table
		c.Exchanges[name] = ex
	}
	return nil
}

// Validate checks field constraints and that both monitored exchanges are configured.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, name := range []string{model.Binance, model.Kraken} {
		if _, ok := c.Exchanges[name]; !ok {
			return fmt.Errorf("%w: exchanges.%s is missing", ErrInvalidConfig, name)
		}
	}
	return nil
}

// Save writes cfg to file; the format follows the file extension.
func Save(cfg Config, file string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	v := viper.New()
	v.Set("watchlist", cfg.Watchlist)
	v.Set("snapshot_interval_s", cfg.SnapshotIntervalS)
	v.Set("min_net_pct", cfg.MinNetPct)
	for name, ex := range cfg.Exchanges {
		prefix := "exchanges." + name + "."
		v.Set(prefix+"fee", ex.Fee)
		v.Set(prefix+"url", ex.URL)
		if len(ex.SymbolOverrides) > 0 {
			v.Set(prefix+"symbol_overrides", ex.SymbolOverrides)
		}
	}
	v.Set("collector.min_backoff_s", cfg.Collector.MinBackoffS)
	v.Set("collector.max_backoff_s", cfg.Collector.MaxBackoffS)
	v.Set("collector.idle_timeout_s", cfg.Collector.IdleTimeoutS)
	v.Set("storage.driver", cfg.Storage.Driver)
	v.Set("storage.db_path", cfg.Storage.DBPath)
	v.Set("storage.postgres.host", cfg.Storage.Postgres.Host)
	v.Set("storage.postgres.port", cfg.Storage.Postgres.Port)
	v.Set("storage.postgres.user", cfg.Storage.Postgres.User)
	v.Set("storage.postgres.password", cfg.Storage.Postgres.Password)
	v.Set("storage.postgres.dbname", cfg.Storage.Postgres.DBName)
	v.Set("storage.postgres.sslmode", cfg.Storage.Postgres.SSLMode)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.production", cfg.Log.Production)
	v.Set("log.file", cfg.Log.File)
	v.Set("api.enabled", cfg.API.Enabled)
	v.Set("api.addr", cfg.API.Addr)

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := v.WriteConfigAs(file); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
