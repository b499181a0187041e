package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Bar represents one OHLCV observation for a single instrument.
type Bar struct {
	Time   time.Time `json:"ts"` // bucket start time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks the price/volume invariants of a single bar.
func (b Bar) Validate() error {
	for name, v := range map[string]float64{"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close, "volume": b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &NumericError{Component: "bar", Index: -1, Reason: name + " is not finite"}
		}
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("bar %s: prices must be positive", b.Time.Format(time.RFC3339))
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume %.4f", b.Time.Format(time.RFC3339), b.Volume)
	}
	if b.Low > math.Min(b.Open, b.Close) || b.High < math.Max(b.Open, b.Close) {
		return fmt.Errorf("bar %s: high/low do not bracket open/close", b.Time.Format(time.RFC3339))
	}
	return nil
}

// JSON returns the JSON-encoded bar.
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// Series is an immutable, strictly time-ordered bar sequence for one
// symbol and timeframe. Construct it with NewSeries.
type Series struct {
	symbol    string
	timeframe string
	bars      []Bar
}

// NewSeries copies bars into a new Series after validating every bar and
// the strictly increasing timestamp invariant.
func NewSeries(symbol, timeframe string, bars []Bar) (*Series, error) {
	if symbol == "" {
		return nil, fmt.Errorf("series: empty symbol")
	}
	own := make([]Bar, len(bars))
	copy(own, bars)
	for i := range own {
		if err := own[i].Validate(); err != nil {
			var ne *NumericError
			if errors.As(err, &ne) {
				ne.Index = i
				return nil, ne
			}
			return nil, fmt.Errorf("series %s: bar %d: %w", symbol, i, err)
		}
		if i > 0 && !own[i].Time.After(own[i-1].Time) {
			return nil, fmt.Errorf("series %s: bar %d timestamp %s not after %s",
				symbol, i, own[i].Time.Format(time.RFC3339), own[i-1].Time.Format(time.RFC3339))
		}
	}
	return &Series{symbol: symbol, timeframe: timeframe, bars: own}, nil
}

func (s *Series) Symbol() string    { return s.symbol }
func (s *Series) Timeframe() string { return s.timeframe }
func (s *Series) Len() int          { return len(s.bars) }

// Bar returns the bar at position i by value.
func (s *Series) Bar(i int) Bar { return s.bars[i] }

// Bars returns a copy of the underlying bars.
func (s *Series) Bars() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Last returns the most recent bar. ok is false for an empty series.
func (s *Series) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

func (s *Series) Closes() []float64  { return s.column(func(b Bar) float64 { return b.Close }) }
func (s *Series) Highs() []float64   { return s.column(func(b Bar) float64 { return b.High }) }
func (s *Series) Lows() []float64    { return s.column(func(b Bar) float64 { return b.Low }) }
func (s *Series) Opens() []float64   { return s.column(func(b Bar) float64 { return b.Open }) }
func (s *Series) Volumes() []float64 { return s.column(func(b Bar) float64 { return b.Volume }) }

func (s *Series) column(pick func(Bar) float64) []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = pick(b)
	}
	return out
}

// Tail returns a new Series holding at most the last n bars.
func (s *Series) Tail(n int) *Series {
	if n <= 0 || n >= len(s.bars) {
		return s
	}
	own := make([]Bar, n)
	copy(own, s.bars[len(s.bars)-n:])
	return &Series{symbol: s.symbol, timeframe: s.timeframe, bars: own}
}
