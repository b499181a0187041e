package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the analysis core from concrete data sources
// and result sinks (REST APIs, files, SQLite, Redis, websockets).

// Provider fetches bar series. Implementations may block on I/O and must
// honour ctx cancellation.
type Provider interface {
	// Fetch returns at most limit of the most recent bars for symbol/timeframe.
	// limit <= 0 means provider default.
	Fetch(ctx context.Context, symbol, timeframe string, limit int) (*Series, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, symbol, timeframe string, limit int) (*Series, error)

func (f ProviderFunc) Fetch(ctx context.Context, symbol, timeframe string, limit int) (*Series, error) {
	return f(ctx, symbol, timeframe, limit)
}

// BarWriter persists bars for later reads (e.g. a local bar cache).
type BarWriter interface {
	SaveBars(ctx context.Context, s *Series) error
	Close() error
}
