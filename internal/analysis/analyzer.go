// Package analysis runs the per-symbol pipeline (indicators, detectors,
// levels, volume anomalies, aggregation) and fans it out across symbols.
package analysis

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/config"
	"chart-snapshot-analyzer/internal/indicator"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/pattern"
)

// Options is the analysis slice of the application config.
type Options struct {
	Indicators  indicator.Config
	Breakout    pattern.BreakoutConfig
	Divergence  pattern.DivergenceConfig
	Trend       pattern.TrendConfig
	Levels      pattern.LevelsConfig
	Volume      pattern.VolumeConfig
	Aggregation pattern.AggregateOptions
}

// OptionsFromConfig extracts the analysis options from a loaded config.
func OptionsFromConfig(c config.Config) Options {
	return Options{
		Indicators:  c.Indicators,
		Breakout:    c.Breakout,
		Divergence:  c.Divergence,
		Trend:       c.Trend,
		Levels:      c.Levels,
		Volume:      c.Volume,
		Aggregation: c.Aggregation,
	}
}

// Result is the outcome of analysing one symbol.
type Result struct {
	RunID           string                  `json:"run_id,omitempty"`
	Symbol          string                  `json:"symbol"`
	Timeframe       string                  `json:"timeframe"`
	Bars            int                     `json:"bars"`
	Events          []model.PatternEvent    `json:"events"`
	Levels          []pattern.Level         `json:"levels,omitempty"`
	VolumeAnomalies []pattern.VolumeAnomaly `json:"volume_anomalies,omitempty"`
	Signals         *Signals                `json:"signals,omitempty"` // last-bar indicator snapshot
	Skipped         []string                `json:"skipped,omitempty"` // components lacking data
	Err             error                   `json:"-"`
	Error           string                  `json:"error,omitempty"`
	Took            time.Duration           `json:"took_ns"`
}

// Failed reports whether the symbol could not be analysed at all.
func (r Result) Failed() bool { return r.Err != nil }

func (r *Result) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// Recorder observes pipeline activity. internal/metrics implements it.
type Recorder interface {
	IndicatorComputed(name string, took time.Duration)
	DetectorRan(detector string, events int, took time.Duration)
	Skipped(component string)
	SymbolAnalyzed(symbol string, events int, took time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) IndicatorComputed(string, time.Duration)         {}
func (nopRecorder) DetectorRan(string, int, time.Duration)          {}
func (nopRecorder) Skipped(string)                                  {}
func (nopRecorder) SymbolAnalyzed(string, int, time.Duration, error) {}

// Analyzer runs the full pipeline over a series. It is immutable after
// construction and safe for concurrent use.
type Analyzer struct {
	opts     Options
	engine   *indicator.Engine
	maShort  string
	maLong   string
	recorder Recorder
}

// NewAnalyzer validates opts and prepares the indicator engine. The MA pair
// and trend MACD are added to the indicator set when the trend detector
// needs them. rec may be nil.
func NewAnalyzer(opts Options, rec Recorder) (*Analyzer, error) {
	specs, err := opts.Indicators.Specs()
	if err != nil {
		return nil, err
	}
	if opts.Breakout.Enabled {
		if err := opts.Breakout.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Divergence.Enabled {
		if err := opts.Divergence.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Levels.Enabled {
		if err := opts.Levels.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.Volume.Enabled {
		if err := opts.Volume.Validate(); err != nil {
			return nil, err
		}
	}
	if err := opts.Aggregation.Validate(); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = nopRecorder{}
	}

	a := &Analyzer{opts: opts, recorder: rec}
	if opts.Trend.Enabled {
		if err := opts.Trend.Validate(); err != nil {
			return nil, err
		}
		short := indicator.Spec{Kind: indicator.KindSMA, Period: opts.Trend.MAPair[0]}
		long := indicator.Spec{Kind: indicator.KindSMA, Period: opts.Trend.MAPair[1]}
		a.maShort, a.maLong = short.Name(), long.Name()
		specs = append(specs, short, long)

		if len(opts.Trend.MACD) == 3 {
			trendMACD := indicator.Spec{Kind: indicator.KindMACD, Fast: opts.Trend.MACD[0], Slow: opts.Trend.MACD[1], Signal: opts.Trend.MACD[2]}
			if m, ok := opts.Indicators.MACDSpec(); ok && m.Name() != trendMACD.Name() {
				return nil, &model.ConfigError{Component: "trend", Field: "macd", Reason: "must match indicators.macd when both are set"}
			}
			if err := trendMACD.Validate(); err != nil {
				return nil, err
			}
			specs = append(specs, trendMACD)
		}
	}
	if opts.Divergence.Enabled && opts.Divergence.Oscillator != "" && opts.Divergence.Oscillator != pattern.OscillatorRSI {
		if _, ok := opts.Indicators.MACDSpec(); !ok && len(opts.Trend.MACD) != 3 {
			return nil, &model.ConfigError{Component: "divergence", Field: "oscillator", Reason: "macd oscillator needs indicators.macd"}
		}
	}

	a.engine = indicator.NewEngine(specs)
	a.engine.OnCompute = func(s indicator.Spec, took time.Duration) {
		a.recorder.IndicatorComputed(s.Name(), took)
	}
	return a, nil
}

// Options returns the analyzer's options.
func (a *Analyzer) Options() Options { return a.opts }

// Analyze runs every enabled detector over the series. Components lacking
// data are listed in Result.Skipped; a configuration failure sets Result.Err.
// The same series always yields the same Result (apart from Took).
func (a *Analyzer) Analyze(series *model.Series) Result {
	start := time.Now()
	res := Result{Symbol: series.Symbol(), Timeframe: series.Timeframe(), Bars: series.Len()}
	defer func() {
		res.Took = time.Since(start)
		a.recorder.SymbolAnalyzed(res.Symbol, len(res.Events), res.Took, res.Err)
	}()

	enriched, errs := a.engine.Enrich(series)
	for _, err := range errs {
		if fatal := a.classify(&res, err); fatal != nil {
			res.fail(fatal)
			return res
		}
	}
	if _, ok := enriched.Indicators[a.maShort]; ok {
		enriched.SetRole(model.RoleMAShort, a.maShort)
	}
	if _, ok := enriched.Indicators[a.maLong]; ok {
		enriched.SetRole(model.RoleMALong, a.maLong)
	}

	var lists [][]model.PatternEvent
	run := func(name string, enabled bool, detect func() ([]model.PatternEvent, error)) error {
		if !enabled {
			return nil
		}
		t := time.Now()
		evs, err := detect()
		a.recorder.DetectorRan(name, len(evs), time.Since(t))
		if err != nil {
			if fatal := a.classify(&res, err); fatal != nil {
				return fatal
			}
		}
		lists = append(lists, evs)
		return nil
	}

	steps := []struct {
		name    string
		enabled bool
		detect  func() ([]model.PatternEvent, error)
	}{
		{"breakout", a.opts.Breakout.Enabled, func() ([]model.PatternEvent, error) {
			return pattern.DetectBreakouts(series, enriched, a.opts.Breakout)
		}},
		{"divergence", a.opts.Divergence.Enabled, func() ([]model.PatternEvent, error) {
			return pattern.DetectDivergences(series, enriched, a.opts.Divergence)
		}},
		{"trend", a.opts.Trend.Enabled, func() ([]model.PatternEvent, error) {
			return pattern.DetectTrendChanges(series, enriched, a.opts.Trend)
		}},
	}
	for _, s := range steps {
		if err := run(s.name, s.enabled, s.detect); err != nil {
			res.fail(err)
			return res
		}
	}

	if a.opts.Levels.Enabled {
		levels, err := pattern.FindLevels(series, a.opts.Levels)
		if err != nil {
			if fatal := a.classify(&res, err); fatal != nil {
				res.fail(fatal)
				return res
			}
		}
		res.Levels = levels
	}

	if a.opts.Volume.Enabled {
		t := time.Now()
		anomalies, err := pattern.FindVolumeAnomalies(series, a.opts.Volume)
		a.recorder.DetectorRan("volume", len(anomalies), time.Since(t))
		if err != nil {
			if fatal := a.classify(&res, err); fatal != nil {
				res.fail(fatal)
				return res
			}
		}
		res.VolumeAnomalies = anomalies
	}

	overbought, oversold := a.rsiThresholds()
	if sig := BuildSignals(enriched, overbought, oversold); !sig.Empty() {
		res.Signals = &sig
	}

	res.Events = pattern.Aggregate(lists, a.opts.Aggregation)
	if len(res.Skipped) > 0 {
		zap.L().Debug("analysis: components skipped",
			zap.String("symbol", res.Symbol),
			zap.Strings("skipped", res.Skipped))
	}
	return res
}

// rsiThresholds are the trend detector's RSI bounds, or 70/30 when unset.
func (a *Analyzer) rsiThresholds() (overbought, oversold float64) {
	overbought, oversold = a.opts.Trend.RSIOverbought, a.opts.Trend.RSIOversold
	if overbought <= 0 || oversold <= 0 {
		return 70, 30
	}
	return overbought, oversold
}

// classify records insufficient-data errors on res and returns whatever
// else is fatal. Joined errors are walked one by one.
func (a *Analyzer) classify(res *Result, err error) error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if fatal := a.classify(res, e); fatal != nil {
				return fatal
			}
		}
		return nil
	}
	var ide *model.InsufficientDataError
	if errors.As(err, &ide) {
		res.Skipped = append(res.Skipped, ide.Error())
		a.recorder.Skipped(ide.Component)
		return nil
	}
	return err
}
