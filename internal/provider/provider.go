// Package provider holds the bar-source plumbing shared by the concrete
// providers: timeframe parsing, the not-found sentinel and a read-through
// cache decorator.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/model"
)

// ErrNotFound is returned when a provider has no bars for a symbol.
var ErrNotFound = errors.New("provider: symbol not found")

// ParseTimeframe converts an exchange-style interval ("1m", "15m", "4h",
// "1d", "1w") into a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("provider: bad timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("provider: bad timeframe %q", tf)
	}
	unit := map[byte]time.Duration{
		'm': time.Minute,
		'h': time.Hour,
		'd': 24 * time.Hour,
		'w': 7 * 24 * time.Hour,
	}[tf[len(tf)-1]]
	if unit == 0 {
		return 0, fmt.Errorf("provider: bad timeframe unit in %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// BarStore is a bar cache keyed by (symbol, timeframe).
type BarStore interface {
	LoadBars(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error)
	SaveBars(ctx context.Context, s *model.Series) error
}

// Cached reads through a BarStore to an upstream provider. A cache hit
// needs at least limit bars whose last bar is no older than MaxAge.
type Cached struct {
	Upstream model.Provider
	Store    BarStore
	MaxAge   time.Duration // 0 means cached bars never go stale

	now func() time.Time
}

// NewCached wires a read-through cache in front of upstream.
func NewCached(upstream model.Provider, store BarStore, maxAge time.Duration) *Cached {
	return &Cached{Upstream: upstream, Store: store, MaxAge: maxAge, now: time.Now}
}

// Fetch implements model.Provider.
func (c *Cached) Fetch(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	s, err := c.Store.LoadBars(ctx, symbol, timeframe, limit)
	switch {
	case err == nil && c.fresh(s, limit):
		return s, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		zap.L().Warn("bar cache read failed, going upstream",
			zap.String("symbol", symbol), zap.String("timeframe", timeframe), zap.Error(err))
	}

	s, err = c.Upstream.Fetch(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	if err := c.Store.SaveBars(ctx, s); err != nil {
		zap.L().Warn("bar cache write failed",
			zap.String("symbol", symbol), zap.Error(err))
	}
	return s, nil
}

func (c *Cached) fresh(s *model.Series, limit int) bool {
	if s == nil || s.Len() < limit {
		return false
	}
	if c.MaxAge == 0 {
		return true
	}
	now := c.now
	if now == nil {
		now = time.Now
	}
	last, _ := s.Last()
	return now().Sub(last.Time) <= c.MaxAge
}
