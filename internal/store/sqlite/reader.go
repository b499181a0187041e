package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/provider"
)

// LoadBars returns the newest limit bars for symbol/timeframe in time
// order. limit <= 0 returns every cached bar. It returns
// provider.ErrNotFound when nothing is cached.
func (s *Store) LoadBars(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM bars
			WHERE symbol = ? AND timeframe = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsMs int64
		if err := rows.Scan(&tsMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.Time = time.UnixMilli(tsMs).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s not cached", provider.ErrNotFound, symbol, timeframe)
	}
	return model.NewSeries(symbol, timeframe, bars)
}

// Fetch implements model.Provider over the cached bars.
func (s *Store) Fetch(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	return s.LoadBars(ctx, symbol, timeframe, limit)
}

// LastTimestamp returns the open time of the newest cached bar. ok is
// false when nothing is cached.
func (s *Store) LastTimestamp(ctx context.Context, symbol, timeframe string) (time.Time, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE symbol = ? AND timeframe = ?`,
		symbol, timeframe,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), true, nil
}

// Symbols lists the cached symbols for a timeframe.
func (s *Store) Symbols(ctx context.Context, timeframe string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars WHERE timeframe = ? ORDER BY symbol`, timeframe)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
