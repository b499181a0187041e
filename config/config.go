// Package config loads the analyzer configuration with viper. The result is
// a plain value; components receive their sub-configs explicitly.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chart-snapshot-analyzer/internal/indicator"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/pattern"
)

// EnvPrefix prefixes environment overrides, e.g. PATTERN_BREAKOUT_LOOKBACK_PERIODS.
const EnvPrefix = "PATTERN"

// Provider kinds accepted in data.provider.
const (
	ProviderBinance   = "binance"
	ProviderFile      = "file"
	ProviderSynthetic = "synthetic"
)

// Config holds the whole application configuration.
type Config struct {
	Log         LogConfig                `mapstructure:"log"`
	Data        DataConfig               `mapstructure:"data"`
	Batch       BatchConfig              `mapstructure:"batch"`
	Redis       RedisConfig              `mapstructure:"redis"`
	Server      ServerConfig             `mapstructure:"server"`
	Schedule    ScheduleConfig           `mapstructure:"schedule"`
	Notify      NotifyConfig             `mapstructure:"notify"`
	Indicators  indicator.Config         `mapstructure:"indicators"`
	Breakout    pattern.BreakoutConfig   `mapstructure:"breakout"`
	Divergence  pattern.DivergenceConfig `mapstructure:"divergence"`
	Trend       pattern.TrendConfig      `mapstructure:"trend"`
	Levels      pattern.LevelsConfig     `mapstructure:"levels"`
	Volume      pattern.VolumeConfig     `mapstructure:"volume"`
	Aggregation pattern.AggregateOptions `mapstructure:"aggregation"`
}

// LogConfig configures the zap logger and its lumberjack rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`   // directory; empty logs to stdout only
	MaxSize    int    `mapstructure:"max_size"`    // MB
	MaxAge     int    `mapstructure:"max_age"`     // days
	MaxBackups int    `mapstructure:"max_backups"` // files kept
	Compress   bool   `mapstructure:"compress"`
}

// DataConfig selects and tunes the bar provider.
type DataConfig struct {
	Provider   string        `mapstructure:"provider"`
	Timeframe  string        `mapstructure:"timeframe"`
	BaseTF     string        `mapstructure:"base_timeframe"` // when set, fetch this and resample up
	Limit      int           `mapstructure:"limit"`
	Dir        string        `mapstructure:"dir"` // file provider root
	BinanceURL string        `mapstructure:"binance_url"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
	SQLitePath string        `mapstructure:"sqlite_path"` // empty disables the bar cache
	Retention  time.Duration `mapstructure:"retention"`   // cached bars older than this are pruned; 0 keeps all
	Seed       int64         `mapstructure:"seed"`        // synthetic provider
}

// BatchConfig controls multi-symbol runs.
type BatchConfig struct {
	Symbols       []string      `mapstructure:"symbols"`
	Workers       int           `mapstructure:"workers"`
	SymbolTimeout time.Duration `mapstructure:"symbol_timeout"`
}

// RedisConfig configures the event publisher. Addr empty disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Channel  string        `mapstructure:"channel"`
}

// ServerConfig configures the HTTP surfaces of the daemon.
type ServerConfig struct {
	HTTPAddr     string   `mapstructure:"http_addr"`
	MetricsAddr  string   `mapstructure:"metrics_addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
	AnalyzeRate  float64  `mapstructure:"analyze_rate"` // POST /analyze per second; 0 is unlimited
}

// ScheduleConfig holds the cron spec for daemon batch runs.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// NotifyConfig configures pattern alerts sent by the daemon. With neither a
// webhook nor a Telegram bot configured, alerts are only logged.
type NotifyConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	WebhookURL     string   `mapstructure:"webhook_url"`
	TelegramToken  string   `mapstructure:"telegram_token"`
	TelegramChatID string   `mapstructure:"telegram_chat_id"`
	MinStrength    float64  `mapstructure:"min_strength"`
	RecentBars     int      `mapstructure:"recent_bars"` // events this close to the last bar are fresh
	Types          []string `mapstructure:"types"`       // empty alerts on every type
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// Load reads configuration from path (YAML) layered over defaults and
// PATTERN_* environment variables. With an empty path it looks for
// config.yaml in ./configs and the working directory and falls back to
// defaults when none exists. The result is validated.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file_path", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.compress", false)

	v.SetDefault("data.provider", ProviderSynthetic)
	v.SetDefault("data.timeframe", "1h")
	v.SetDefault("data.base_timeframe", "")
	v.SetDefault("data.limit", 500)
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.binance_url", "https://api.binance.com")
	v.SetDefault("data.rate_per_sec", 10.0)
	v.SetDefault("data.burst", 5)
	v.SetDefault("data.sqlite_path", "")
	v.SetDefault("data.retention", 30*24*time.Hour)
	v.SetDefault("data.seed", 42)

	v.SetDefault("batch.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.symbol_timeout", 30*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("redis.channel", "pattern:events")

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.analyze_rate", 1.0)

	v.SetDefault("schedule.cron", "@every 5m")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", "")
	v.SetDefault("notify.min_strength", 0.5)
	v.SetDefault("notify.recent_bars", 1)
	v.SetDefault("notify.types", []string{})

	ind := indicator.DefaultConfig()
	v.SetDefault("indicators.sma", ind.SMA)
	v.SetDefault("indicators.ema", ind.EMA)
	v.SetDefault("indicators.rsi", ind.RSI)
	v.SetDefault("indicators.macd", ind.MACD)
	v.SetDefault("indicators.bollinger", ind.Bollinger)
	v.SetDefault("indicators.atr", ind.ATR)

	v.SetDefault("breakout.enabled", true)
	v.SetDefault("breakout.lookback_periods", 20)
	v.SetDefault("breakout.volume_threshold", 1.5)

	v.SetDefault("divergence.enabled", true)
	v.SetDefault("divergence.lookback_periods", 30)
	v.SetDefault("divergence.min_divergence_strength", 0.3)
	v.SetDefault("divergence.oscillator", pattern.OscillatorRSI)

	v.SetDefault("trend.enabled", true)
	v.SetDefault("trend.ma_pair", []int{20, 50})
	v.SetDefault("trend.macd", []int{})
	v.SetDefault("trend.rsi_overbought", 70.0)
	v.SetDefault("trend.rsi_oversold", 30.0)

	v.SetDefault("levels.enabled", true)
	v.SetDefault("levels.window", 5)
	v.SetDefault("levels.tolerance", 0.02)
	v.SetDefault("levels.min_touches", 2)

	v.SetDefault("volume.enabled", true)
	v.SetDefault("volume.window", 20)
	v.SetDefault("volume.deviations", 2.0)

	v.SetDefault("aggregation.merge_bars", 0)
	v.SetDefault("aggregation.merge_window", time.Duration(0))
}

// Validate checks every section. It returns a *model.ConfigError naming the
// first offending field.
func (c Config) Validate() error {
	if _, err := c.Indicators.Specs(); err != nil {
		return err
	}
	if c.Breakout.Enabled {
		if err := c.Breakout.Validate(); err != nil {
			return err
		}
	}
	if c.Divergence.Enabled {
		if err := c.Divergence.Validate(); err != nil {
			return err
		}
	}
	if c.Trend.Enabled {
		if err := c.Trend.Validate(); err != nil {
			return err
		}
		if len(c.Trend.MACD) > 0 && len(c.Indicators.MACD) > 0 && !reflect.DeepEqual(c.Trend.MACD, c.Indicators.MACD) {
			return &model.ConfigError{Component: "trend", Field: "macd", Reason: "must match indicators.macd when both are set"}
		}
	}
	if c.Levels.Enabled {
		if err := c.Levels.Validate(); err != nil {
			return err
		}
	}
	if c.Volume.Enabled {
		if err := c.Volume.Validate(); err != nil {
			return err
		}
	}
	if err := c.Aggregation.Validate(); err != nil {
		return err
	}

	switch c.Data.Provider {
	case ProviderBinance, ProviderFile, ProviderSynthetic:
	default:
		return &model.ConfigError{Component: "data", Field: "provider", Reason: "unknown provider " + c.Data.Provider}
	}
	if c.Data.Limit < 1 {
		return &model.ConfigError{Component: "data", Field: "limit", Reason: "must be >= 1"}
	}
	if c.Data.Timeframe == "" {
		return &model.ConfigError{Component: "data", Field: "timeframe", Reason: "must be set"}
	}
	if c.Data.Retention < 0 {
		return &model.ConfigError{Component: "data", Field: "retention", Reason: "must not be negative"}
	}
	if c.Batch.Workers < 1 {
		return &model.ConfigError{Component: "batch", Field: "workers", Reason: "must be >= 1"}
	}
	if c.Batch.SymbolTimeout < 0 {
		return &model.ConfigError{Component: "batch", Field: "symbol_timeout", Reason: "must not be negative"}
	}
	if c.Notify.Enabled {
		if c.Notify.MinStrength < 0 || c.Notify.MinStrength > 1 {
			return &model.ConfigError{Component: "notify", Field: "min_strength", Reason: "must be in [0, 1]"}
		}
		if c.Notify.RecentBars < 1 {
			return &model.ConfigError{Component: "notify", Field: "recent_bars", Reason: "must be >= 1"}
		}
		if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
			return &model.ConfigError{Component: "notify", Field: "telegram_chat_id", Reason: "telegram needs both token and chat id"}
		}
		for _, t := range c.Notify.Types {
			if !model.PatternType(t).Valid() {
				return &model.ConfigError{Component: "notify", Field: "types", Reason: "unknown pattern type " + t}
			}
		}
	}
	return nil
}
