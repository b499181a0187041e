package patternd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/config"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/provider"
	"chart-snapshot-analyzer/internal/provider/binance"
	"chart-snapshot-analyzer/internal/provider/file"
	"chart-snapshot-analyzer/internal/provider/synthetic"
	"chart-snapshot-analyzer/internal/resample"
	sqlitestore "chart-snapshot-analyzer/internal/store/sqlite"
)

// BuildProvider returns the configured bar source. With
// data.base_timeframe set, bars are fetched at that timeframe and
// resampled. When data.sqlite_path is set the source is wrapped in a
// read-through SQLite cache and the store is returned as well so the
// caller can close it; otherwise the store is nil.
func BuildProvider(cfg config.DataConfig) (model.Provider, *sqlitestore.Store, error) {
	var upstream model.Provider
	switch cfg.Provider {
	case config.ProviderBinance:
		upstream = binance.New(cfg.BinanceURL, cfg.RatePerSec, cfg.Burst)
	case config.ProviderFile:
		upstream = file.New(cfg.Dir)
	case config.ProviderSynthetic:
		upstream = liveSynthetic(cfg.Seed)
	default:
		return nil, nil, &model.ConfigError{Component: "data", Field: "provider", Reason: "unknown provider " + cfg.Provider}
	}

	if cfg.BaseTF != "" {
		if _, err := provider.ParseTimeframe(cfg.BaseTF); err != nil {
			return nil, nil, &model.ConfigError{Component: "data", Field: "base_timeframe", Reason: err.Error()}
		}
		upstream = &resample.Provider{Upstream: upstream, Base: cfg.BaseTF}
	}

	if cfg.SQLitePath == "" {
		return upstream, nil, nil
	}

	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("bar cache dir: %w", err)
		}
	}
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		return nil, nil, err
	}

	// Cached bars stay fresh for one bar of the default timeframe.
	maxAge, err := provider.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	zap.L().Info("bar cache enabled",
		zap.String("path", cfg.SQLitePath), zap.Duration("max_age", maxAge))
	return provider.NewCached(upstream, store, maxAge), store, nil
}

// liveSynthetic ends every generated series at the last whole bar before
// now, so repeated batches see the walk advance.
func liveSynthetic(seed int64) model.Provider {
	return model.ProviderFunc(func(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
		step, err := provider.ParseTimeframe(timeframe)
		if err != nil {
			return nil, err
		}
		end := time.Now().UTC().Truncate(step).Add(-step)
		return synthetic.New(seed, end).Fetch(ctx, symbol, timeframe, limit)
	})
}
