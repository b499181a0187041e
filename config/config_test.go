package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chart-snapshot-analyzer/internal/model"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if c.Breakout.LookbackPeriods != 20 || c.Breakout.VolumeThreshold != 1.5 {
		t.Errorf("breakout defaults = %+v", c.Breakout)
	}
	if c.Divergence.LookbackPeriods != 30 || c.Divergence.MinDivergenceStrength != 0.3 {
		t.Errorf("divergence defaults = %+v", c.Divergence)
	}
	if len(c.Trend.MAPair) != 2 || c.Trend.MAPair[0] != 20 || c.Trend.MAPair[1] != 50 {
		t.Errorf("trend ma_pair = %v", c.Trend.MAPair)
	}
	if len(c.Indicators.SMA) != 3 || c.Indicators.RSI != 14 {
		t.Errorf("indicator defaults = %+v", c.Indicators)
	}
	if c.Aggregation.MergeWindow != 0 {
		t.Errorf("merge window = %v", c.Aggregation.MergeWindow)
	}
	if !c.Volume.Enabled || c.Volume.Window != 20 || c.Volume.Deviations != 2 {
		t.Errorf("volume defaults = %+v", c.Volume)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeYAML(t, `
data:
  provider: file
  dir: /tmp/bars
  timeframe: 4h
breakout:
  enabled: true
  lookback_periods: 10
  volume_threshold: 0
trend:
  enabled: true
  ma_pair: [5, 15]
  rsi_overbought: 80
  rsi_oversold: 20
aggregation:
  merge_window: 2h
batch:
  symbols: [AAA, BBB, CCC]
  workers: 2
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Data.Provider != ProviderFile || c.Data.Timeframe != "4h" {
		t.Errorf("data = %+v", c.Data)
	}
	if c.Breakout.LookbackPeriods != 10 || c.Breakout.VolumeThreshold != 0 {
		t.Errorf("breakout = %+v", c.Breakout)
	}
	if c.Trend.MAPair[0] != 5 || c.Trend.RSIOverbought != 80 {
		t.Errorf("trend = %+v", c.Trend)
	}
	if c.Aggregation.MergeWindow != 2*time.Hour {
		t.Errorf("merge_window = %v, want 2h", c.Aggregation.MergeWindow)
	}
	if len(c.Batch.Symbols) != 3 || c.Batch.Workers != 2 {
		t.Errorf("batch = %+v", c.Batch)
	}
	// untouched sections keep defaults
	if c.Divergence.LookbackPeriods != 30 {
		t.Errorf("divergence lookback = %d, want default 30", c.Divergence.LookbackPeriods)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PATTERN_BREAKOUT_LOOKBACK_PERIODS", "7")
	t.Setenv("PATTERN_DATA_PROVIDER", "binance")
	c, err := Load(writeYAML(t, "log:\n  level: debug\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Breakout.LookbackPeriods != 7 {
		t.Errorf("lookback = %d, want 7 from env", c.Breakout.LookbackPeriods)
	}
	if c.Data.Provider != ProviderBinance {
		t.Errorf("provider = %q", c.Data.Provider)
	}
	if c.Log.Level != "debug" {
		t.Errorf("log level = %q", c.Log.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit path")
	}
}

func TestLoad_InvalidReturnsConfigError(t *testing.T) {
	cases := map[string]string{
		"ma pair order":    "trend:\n  ma_pair: [50, 20]\n",
		"bad oscillator":   "divergence:\n  oscillator: stoch\n",
		"macd mismatch":    "trend:\n  macd: [5, 35, 5]\n",
		"unknown source":   "data:\n  provider: ftp\n",
		"zero workers":     "batch:\n  workers: 0\n",
		"short macd":       "indicators:\n  macd: [12, 26]\n",
		"negative merges":  "aggregation:\n  merge_bars: -1\n",
		"volume window":    "volume:\n  window: 1\n",
		"alert type":       "notify:\n  enabled: true\n  types: [head_and_shoulders]\n",
		"telegram no chat": "notify:\n  enabled: true\n  telegram_token: abc\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeYAML(t, body))
			var ce *model.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("want ConfigError, got %v", err)
			}
		})
	}
}

func TestValidate_DisabledDetectorSkipsChecks(t *testing.T) {
	c := Default()
	c.Divergence.Enabled = false
	c.Divergence.LookbackPeriods = 0
	if err := c.Validate(); err != nil {
		t.Errorf("disabled detector should not be validated: %v", err)
	}
}
