package pattern

import (
	"fmt"
	"math"
	"time"

	"chart-snapshot-analyzer/internal/model"
)

// BreakoutConfig controls DetectBreakouts.
type BreakoutConfig struct {
	Enabled         bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	LookbackPeriods int     `mapstructure:"lookback_periods" yaml:"lookback_periods" json:"lookback_periods"`
	VolumeThreshold float64 `mapstructure:"volume_threshold" yaml:"volume_threshold" json:"volume_threshold"` // 0 disables the volume filter
}

// Validate rejects non-positive lookbacks and negative volume thresholds.
func (c BreakoutConfig) Validate() error {
	if c.LookbackPeriods < 1 {
		return &model.ConfigError{Component: "breakout", Field: "lookback_periods", Reason: fmt.Sprintf("must be >= 1, got %d", c.LookbackPeriods)}
	}
	if c.VolumeThreshold < 0 || math.IsNaN(c.VolumeThreshold) || math.IsInf(c.VolumeThreshold, 0) {
		return &model.ConfigError{Component: "breakout", Field: "volume_threshold", Reason: "must be a finite value >= 0"}
	}
	return nil
}

// Oscillators accepted by DivergenceConfig.Oscillator.
const (
	OscillatorRSI      = "rsi"
	OscillatorMACD     = "macd"
	OscillatorMACDHist = "macd_hist"
)

// DivergenceConfig controls DetectDivergences.
type DivergenceConfig struct {
	Enabled               bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	LookbackPeriods       int     `mapstructure:"lookback_periods" yaml:"lookback_periods" json:"lookback_periods"`
	MinDivergenceStrength float64 `mapstructure:"min_divergence_strength" yaml:"min_divergence_strength" json:"min_divergence_strength"`
	Oscillator            string  `mapstructure:"oscillator" yaml:"oscillator" json:"oscillator"`
}

// Validate checks the window and strength bounds and the oscillator name.
func (c DivergenceConfig) Validate() error {
	if c.LookbackPeriods < 3 {
		return &model.ConfigError{Component: "divergence", Field: "lookback_periods", Reason: fmt.Sprintf("must be >= 3 to hold an extremum, got %d", c.LookbackPeriods)}
	}
	if !(c.MinDivergenceStrength >= 0 && c.MinDivergenceStrength <= 1) {
		return &model.ConfigError{Component: "divergence", Field: "min_divergence_strength", Reason: "must be within [0,1]"}
	}
	switch c.oscillator() {
	case OscillatorRSI, OscillatorMACD, OscillatorMACDHist:
	default:
		return &model.ConfigError{Component: "divergence", Field: "oscillator", Reason: "unknown oscillator " + c.Oscillator}
	}
	return nil
}

func (c DivergenceConfig) oscillator() string {
	if c.Oscillator == "" {
		return OscillatorRSI
	}
	return c.Oscillator
}

// TrendConfig controls DetectTrendChanges. MAPair holds the short and long
// SMA periods; MACD mirrors the indicator config ([fast, slow, signal]).
type TrendConfig struct {
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MAPair        []int   `mapstructure:"ma_pair" yaml:"ma_pair" json:"ma_pair"`
	MACD          []int   `mapstructure:"macd" yaml:"macd" json:"macd"`
	RSIOverbought float64 `mapstructure:"rsi_overbought" yaml:"rsi_overbought" json:"rsi_overbought"`
	RSIOversold   float64 `mapstructure:"rsi_oversold" yaml:"rsi_oversold" json:"rsi_oversold"`
}

// Validate checks the MA pair ordering and the RSI band.
func (c TrendConfig) Validate() error {
	if len(c.MAPair) != 2 {
		return &model.ConfigError{Component: "trend", Field: "ma_pair", Reason: "want [short, long]"}
	}
	if c.MAPair[0] <= 0 || c.MAPair[1] <= 0 {
		return &model.ConfigError{Component: "trend", Field: "ma_pair", Reason: "periods must be positive"}
	}
	if c.MAPair[0] >= c.MAPair[1] {
		return &model.ConfigError{Component: "trend", Field: "ma_pair", Reason: "short period must be less than long period"}
	}
	if len(c.MACD) != 0 && len(c.MACD) != 3 {
		return &model.ConfigError{Component: "trend", Field: "macd", Reason: "want [fast, slow, signal]"}
	}
	if !(c.RSIOversold > 0 && c.RSIOversold < c.RSIOverbought && c.RSIOverbought < 100) {
		return &model.ConfigError{Component: "trend", Field: "rsi_overbought", Reason: "need 0 < rsi_oversold < rsi_overbought < 100"}
	}
	return nil
}

// AggregateOptions controls how Aggregate merges same-type events. With
// MergeBars > 0 the window is measured in bar positions, otherwise
// MergeWindow is a time delta. Both zero means exact timestamp match.
type AggregateOptions struct {
	MergeBars   int           `mapstructure:"merge_bars" yaml:"merge_bars" json:"merge_bars"`
	MergeWindow time.Duration `mapstructure:"merge_window" yaml:"merge_window" json:"merge_window"`
}

// Validate rejects negative windows.
func (o AggregateOptions) Validate() error {
	if o.MergeBars < 0 || o.MergeWindow < 0 {
		return &model.ConfigError{Component: "aggregation", Field: "merge_window", Reason: "must not be negative"}
	}
	return nil
}

// LevelsConfig controls FindLevels.
type LevelsConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Window     int     `mapstructure:"window" yaml:"window" json:"window"`
	Tolerance  float64 `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
	MinTouches int     `mapstructure:"min_touches" yaml:"min_touches" json:"min_touches"`
}

// Validate checks the clustering parameters.
func (c LevelsConfig) Validate() error {
	if c.Window < 1 {
		return &model.ConfigError{Component: "levels", Field: "window", Reason: "must be >= 1"}
	}
	if !(c.Tolerance > 0 && c.Tolerance < 1) {
		return &model.ConfigError{Component: "levels", Field: "tolerance", Reason: "must be within (0,1)"}
	}
	if c.MinTouches < 1 {
		return &model.ConfigError{Component: "levels", Field: "min_touches", Reason: "must be >= 1"}
	}
	return nil
}

// VolumeConfig controls FindVolumeAnomalies.
type VolumeConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Window     int     `mapstructure:"window" yaml:"window" json:"window"`
	Deviations float64 `mapstructure:"deviations" yaml:"deviations" json:"deviations"` // σ above the rolling mean
}

// Validate checks the rolling window and the deviation multiplier.
func (c VolumeConfig) Validate() error {
	if c.Window < 2 {
		return &model.ConfigError{Component: "volume", Field: "window", Reason: "must be >= 2"}
	}
	if !(c.Deviations > 0) {
		return &model.ConfigError{Component: "volume", Field: "deviations", Reason: "must be > 0"}
	}
	return nil
}
