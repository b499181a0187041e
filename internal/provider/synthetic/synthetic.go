// Package synthetic generates deterministic random-walk bar series. The same
// (seed, symbol, timeframe, limit) always yields identical bars, which makes
// it suitable for demos and pipeline tests.
package synthetic

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/provider"
)

// DefaultLimit is used when Fetch is called with limit <= 0.
const DefaultLimit = 500

// Provider is a seeded random-walk bar source.
type Provider struct {
	Seed  int64
	End   time.Time // open time of the last generated bar
	Start float64   // first open price
	Vol   float64   // per-bar return stddev
}

// New returns a provider whose series end at end.
func New(seed int64, end time.Time) *Provider {
	return &Provider{Seed: seed, End: end, Start: 100, Vol: 0.01}
}

// Fetch implements model.Provider.
func (p *Provider) Fetch(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step, err := provider.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(timeframe))
	rng := rand.New(rand.NewSource(p.Seed ^ int64(h.Sum64())))

	bars := make([]model.Bar, limit)
	price := p.Start
	end := p.End.Truncate(step)
	for i := range bars {
		// slow cycle so the walk produces swings, crosses and divergences
		drift := 0.002 * math.Sin(2*math.Pi*float64(i)/60)
		ret := drift + p.Vol*rng.NormFloat64()

		open := price
		closePx := open * (1 + ret)
		if closePx <= 0 {
			closePx = open
		}
		wick := math.Abs(rng.NormFloat64()) * p.Vol * 0.5
		bars[i] = model.Bar{
			Time:   end.Add(time.Duration(i-limit+1) * step),
			Open:   open,
			High:   math.Max(open, closePx) * (1 + wick),
			Low:    math.Min(open, closePx) * (1 - wick),
			Close:  closePx,
			Volume: 1000 * (1 + math.Abs(rng.NormFloat64())),
		}
		price = closePx
	}
	return model.NewSeries(symbol, timeframe, bars)
}
