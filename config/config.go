// Package config loads nested configuration from an optional YAML file
// and KRADER-prefixed environment variables (nested delimiter "__",
// e.g. KRADER_RISK__MAX_POSITION_SIZE).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration tree.
type Config struct {
	Mode     string         `mapstructure:"mode"` // live, paper, test
	Database DatabaseConfig `mapstructure:"database"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Universe UniverseConfig `mapstructure:"universe"`
	Streams  StreamsConfig  `mapstructure:"streams"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Journal  JournalConfig  `mapstructure:"journal"`
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// BrokerConfig selects and tunes the brokerage adapter.
type BrokerConfig struct {
	Type          string `mapstructure:"type"` // real, mock
	AccountNumber string `mapstructure:"account_number"`
	TRRateLimitMs int    `mapstructure:"tr_rate_limit_ms"`
}

// RiskConfig bounds what the risk validator approves.
type RiskConfig struct {
	MaxPositionSize         int64   `mapstructure:"max_position_size"`
	MaxPortfolioExposurePct float64 `mapstructure:"max_portfolio_exposure_pct"`
	DailyLossLimit          int64   `mapstructure:"daily_loss_limit"` // won
	TradingStartHour        int     `mapstructure:"trading_start_hour"`
	TradingStartMinute      int     `mapstructure:"trading_start_minute"`
	TradingEndHour          int     `mapstructure:"trading_end_hour"`
	TradingEndMinute        int     `mapstructure:"trading_end_minute"`
	TransactionCostRate     float64 `mapstructure:"transaction_cost_rate"` // [0, 0.02]
	MaxTradesPerDay         int     `mapstructure:"max_trades_per_day"`    // [1, 1000]
	PositionSizePct         float64 `mapstructure:"position_size_pct"`     // [0.01, 0.5]
}

// TradingStart formats the session open as "HH:MM".
func (r RiskConfig) TradingStart() string {
	return fmt.Sprintf("%02d:%02d", r.TradingStartHour, r.TradingStartMinute)
}

// TradingEnd formats the session close as "HH:MM".
func (r RiskConfig) TradingEnd() string {
	return fmt.Sprintf("%02d:%02d", r.TradingEndHour, r.TradingEndMinute)
}

// LoggingConfig controls the three log streams.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	LogDir     string `mapstructure:"log_dir"`
	JSONFormat bool   `mapstructure:"json_format"`
}

// StrategyConfig names the strategy to run and its free-form parameters.
type StrategyConfig struct {
	Name   string         `mapstructure:"name"`
	Params map[string]any `mapstructure:"params"`
}

// UniverseConfig controls the tradeable symbol set refresh.
type UniverseConfig struct {
	Size               int      `mapstructure:"size"`
	RefreshIntervalSec int      `mapstructure:"refresh_interval_sec"`
	DefaultSymbols     []string `mapstructure:"default_symbols"`
}

// StreamsConfig gates the optional Redis candle publisher.
type StreamsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MetricsConfig gates the Prometheus and health endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// JournalConfig locates the daily trade journal output.
type JournalConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration: defaults, then the YAML file at path (when
// non-empty), then KRADER_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "paper")
	v.SetDefault("database.path", "data/krader.db")

	v.SetDefault("broker.type", "mock")
	v.SetDefault("broker.tr_rate_limit_ms", 250)

	v.SetDefault("risk.max_position_size", 100)
	v.SetDefault("risk.max_portfolio_exposure_pct", 0.8)
	v.SetDefault("risk.daily_loss_limit", 500_000)
	v.SetDefault("risk.trading_start_hour", 9)
	v.SetDefault("risk.trading_start_minute", 0)
	v.SetDefault("risk.trading_end_hour", 15)
	v.SetDefault("risk.trading_end_minute", 30)
	v.SetDefault("risk.transaction_cost_rate", 0.00315)
	v.SetDefault("risk.max_trades_per_day", 20)
	v.SetDefault("risk.position_size_pct", 0.05)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.json_format", true)

	v.SetDefault("strategy.name", "pullback_v1")

	v.SetDefault("universe.size", 20)
	v.SetDefault("universe.refresh_interval_sec", 600)

	v.SetDefault("streams.enabled", false)
	v.SetDefault("streams.addr", "localhost:6379")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("journal.dir", "journal")
}

// Validate checks value ranges the risk engine depends on.
func (c *Config) Validate() error {
	switch c.Mode {
	case "live", "paper", "test":
	default:
		return fmt.Errorf("mode must be live, paper, or test, got %q", c.Mode)
	}
	switch c.Broker.Type {
	case "real", "mock":
	default:
		return fmt.Errorf("broker.type must be real or mock, got %q", c.Broker.Type)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	r := c.Risk
	if r.MaxPositionSize <= 0 {
		return fmt.Errorf("risk.max_position_size must be positive")
	}
	if r.MaxPortfolioExposurePct <= 0 || r.MaxPortfolioExposurePct > 1 {
		return fmt.Errorf("risk.max_portfolio_exposure_pct must be in (0, 1], got %v", r.MaxPortfolioExposurePct)
	}
	if r.TransactionCostRate < 0 || r.TransactionCostRate > 0.02 {
		return fmt.Errorf("risk.transaction_cost_rate must be in [0, 0.02], got %v", r.TransactionCostRate)
	}
	if r.MaxTradesPerDay < 1 || r.MaxTradesPerDay > 1000 {
		return fmt.Errorf("risk.max_trades_per_day must be in [1, 1000], got %d", r.MaxTradesPerDay)
	}
	if r.PositionSizePct < 0.01 || r.PositionSizePct > 0.5 {
		return fmt.Errorf("risk.position_size_pct must be in [0.01, 0.5], got %v", r.PositionSizePct)
	}
	if !validClock(r.TradingStartHour, r.TradingStartMinute) || !validClock(r.TradingEndHour, r.TradingEndMinute) {
		return fmt.Errorf("risk trading hours out of range")
	}
	startMin := r.TradingStartHour*60 + r.TradingStartMinute
	endMin := r.TradingEndHour*60 + r.TradingEndMinute
	if startMin >= endMin {
		return fmt.Errorf("risk trading session start %s must precede end %s", r.TradingStart(), r.TradingEnd())
	}
	if c.Universe.Size <= 0 {
		return fmt.Errorf("universe.size must be positive")
	}
	if c.Universe.RefreshIntervalSec <= 0 {
		return fmt.Errorf("universe.refresh_interval_sec must be positive")
	}
	return nil
}

func validClock(hh, mm int) bool {
	return hh >= 0 && hh <= 23 && mm >= 0 && mm <= 59
}
