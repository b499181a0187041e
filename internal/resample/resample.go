// Package resample builds higher-timeframe bars from lower-timeframe ones.
// A bar belongs to the bucket that starts at its open time truncated to
// the target duration (time.Truncate), so intraday and daily buckets start
// on UTC boundaries and weekly buckets on Mondays. When a bar arrives in
// a new bucket the previous one is finalized.
package resample

import (
	"context"
	"fmt"
	"time"

	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/provider"
)

// Builder merges bars of one instrument into buckets of Step. It is not
// safe for concurrent use.
type Builder struct {
	Step time.Duration

	bucket  time.Time
	forming model.Bar
	count   int

	// OnStale is called for a bar older than the forming bucket. The bar
	// is dropped.
	OnStale func(b model.Bar)
}

// NewBuilder returns a builder for buckets of step.
func NewBuilder(step time.Duration) *Builder {
	return &Builder{Step: step}
}

// Add merges b into the forming bucket. When b opens a new bucket the
// previous bucket is returned with ok=true.
func (r *Builder) Add(b model.Bar) (done model.Bar, ok bool) {
	bucket := b.Time.Truncate(r.Step)

	if r.count > 0 && bucket.Before(r.bucket) {
		if r.OnStale != nil {
			r.OnStale(b)
		}
		return model.Bar{}, false
	}

	if r.count > 0 && bucket.After(r.bucket) {
		done, ok = r.forming, true
		r.count = 0
	}

	if r.count == 0 {
		r.bucket = bucket
		r.forming = model.Bar{Time: bucket, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
		r.count = 1
		return done, ok
	}

	// same bucket
	f := &r.forming
	if b.High > f.High {
		f.High = b.High
	}
	if b.Low < f.Low {
		f.Low = b.Low
	}
	f.Close = b.Close
	f.Volume += b.Volume
	r.count++
	return done, ok
}

// Forming returns the bucket being built and how many source bars it holds.
func (r *Builder) Forming() (model.Bar, int) {
	return r.forming, r.count
}

// Series resamples s into timeframe. Partial buckets at either end are
// dropped: the leading one when s starts after its bucket start, the
// trailing one when its last source bar closes before the bucket end.
func Series(s *model.Series, timeframe string) (*model.Series, error) {
	base, err := provider.ParseTimeframe(s.Timeframe())
	if err != nil {
		return nil, err
	}
	step, err := provider.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if step == base {
		return s, nil
	}
	if step < base || step%base != 0 {
		return nil, &model.ConfigError{Component: "resample", Field: "timeframe",
			Reason: fmt.Sprintf("%s is not a multiple of %s", timeframe, s.Timeframe())}
	}

	// A series that starts mid-bucket would make a short first bar.
	skipLead := false
	if s.Len() > 0 {
		first := s.Bar(0).Time
		skipLead = !first.Equal(first.Truncate(step))
	}
	keep := func(out []model.Bar, bar model.Bar) []model.Bar {
		if skipLead {
			skipLead = false
			return out
		}
		return append(out, bar)
	}

	b := NewBuilder(step)
	out := make([]model.Bar, 0, s.Len()*int(base)/int(step)+1)
	for _, bar := range s.Bars() {
		if done, ok := b.Add(bar); ok {
			out = keep(out, done)
		}
	}
	if last, ok := s.Last(); ok {
		if forming, n := b.Forming(); n > 0 && !last.Time.Add(base).Before(forming.Time.Add(step)) {
			out = keep(out, forming)
		}
	}
	return model.NewSeries(s.Symbol(), timeframe, out)
}

// Provider serves any multiple of Base by fetching Base bars from
// Upstream and resampling them.
type Provider struct {
	Upstream model.Provider
	Base     string
}

// Fetch implements model.Provider.
func (p *Provider) Fetch(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	if timeframe == p.Base {
		return p.Upstream.Fetch(ctx, symbol, timeframe, limit)
	}
	base, err := provider.ParseTimeframe(p.Base)
	if err != nil {
		return nil, err
	}
	step, err := provider.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	need := 0
	if limit > 0 {
		// two extra buckets cover partial buckets at both ends
		need = (limit + 2) * int(step/base)
	}
	s, err := p.Upstream.Fetch(ctx, symbol, p.Base, need)
	if err != nil {
		return nil, err
	}
	out, err := Series(s, timeframe)
	if err != nil {
		return nil, err
	}
	return out.Tail(limit), nil
}
