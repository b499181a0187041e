package indicator

import (
	"math"
	"strconv"
	"time"

	"chart-snapshot-analyzer/internal/model"
)

// Config lists the indicators to compute for every series. Zero or empty
// fields disable that indicator.
type Config struct {
	SMA       []int     `mapstructure:"sma" yaml:"sma" json:"sma"`
	EMA       []int     `mapstructure:"ema" yaml:"ema" json:"ema"`
	RSI       int       `mapstructure:"rsi" yaml:"rsi" json:"rsi"`
	MACD      []int     `mapstructure:"macd" yaml:"macd" json:"macd"`                // [fast, slow, signal]
	Bollinger []float64 `mapstructure:"bollinger" yaml:"bollinger" json:"bollinger"` // [period, k]
	ATR       int       `mapstructure:"atr" yaml:"atr" json:"atr"`
}

// DefaultConfig returns the stock indicator set.
func DefaultConfig() Config {
	return Config{
		SMA:       []int{20, 50, 200},
		EMA:       []int{12, 26},
		RSI:       14,
		MACD:      []int{12, 26, 9},
		Bollinger: []float64{20, 2},
		ATR:       14,
	}
}

// MACDSpec returns the MACD spec of the config, ok=false when MACD is disabled.
func (c Config) MACDSpec() (Spec, bool) {
	if len(c.MACD) != 3 {
		return Spec{}, false
	}
	return Spec{Kind: KindMACD, Fast: c.MACD[0], Slow: c.MACD[1], Signal: c.MACD[2]}, true
}

// Specs converts the config into validated specs.
func (c Config) Specs() ([]Spec, error) {
	var specs []Spec
	for _, p := range c.SMA {
		specs = append(specs, Spec{Kind: KindSMA, Period: p})
	}
	for _, p := range c.EMA {
		specs = append(specs, Spec{Kind: KindEMA, Period: p})
	}
	if c.RSI != 0 {
		specs = append(specs, Spec{Kind: KindRSI, Period: c.RSI})
	}
	if len(c.MACD) > 0 {
		s, ok := c.MACDSpec()
		if !ok {
			return nil, &model.ConfigError{Component: "indicators", Field: "macd", Reason: "want [fast, slow, signal], got " + strconv.Itoa(len(c.MACD)) + " values"}
		}
		specs = append(specs, s)
	}
	if len(c.Bollinger) > 0 {
		if len(c.Bollinger) != 2 {
			return nil, &model.ConfigError{Component: "indicators", Field: "bollinger", Reason: "want [period, k]"}
		}
		p := c.Bollinger[0]
		if p != math.Trunc(p) {
			return nil, &model.ConfigError{Component: "indicators", Field: "bollinger", Reason: "period must be an integer"}
		}
		specs = append(specs, Spec{Kind: KindBollinger, Period: int(p), K: c.Bollinger[1]})
	}
	if c.ATR != 0 {
		specs = append(specs, Spec{Kind: KindATR, Period: c.ATR})
	}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// Engine computes a fixed list of indicator specs over any number of series.
// It holds no per-series state and is safe for concurrent use.
type Engine struct {
	specs []Spec

	// OnCompute, when set, observes the wall time of every computed spec.
	OnCompute func(spec Spec, took time.Duration)
}

// NewEngine creates an indicator engine for the given specs. Duplicate specs
// (same output name) are computed once.
func NewEngine(specs []Spec) *Engine {
	seen := make(map[string]bool, len(specs))
	uniq := make([]Spec, 0, len(specs))
	for _, s := range specs {
		if seen[s.Name()] {
			continue
		}
		seen[s.Name()] = true
		uniq = append(uniq, s)
	}
	return &Engine{specs: uniq}
}

// Specs returns the engine's specs.
func (e *Engine) Specs() []Spec { return append([]Spec(nil), e.specs...) }

// Enrich computes every spec over the series. Specs whose window exceeds the
// series are skipped with a *model.InsufficientDataError; invalid specs are
// reported as *model.ConfigError. The first RSI, MACD and ATR specs are
// registered under their model.Role* aliases.
func (e *Engine) Enrich(series *model.Series) (*model.Enriched, []error) {
	var errs []error
	out := model.NewEnriched(series, make(model.IndicatorSet, len(e.specs)))
	n := series.Len()

	for _, spec := range e.specs {
		if err := spec.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if p := spec.maxPeriod(); p > n {
			errs = append(errs, &model.InsufficientDataError{Component: spec.Name(), Need: p, Have: n})
			continue
		}

		start := time.Now()
		set, err := Compute(series, spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if e.OnCompute != nil {
			e.OnCompute(spec, time.Since(start))
		}
		out.Indicators.Merge(set)

		switch spec.Kind {
		case KindRSI:
			setRoleOnce(out, model.RoleRSI, spec.Name())
		case KindATR:
			setRoleOnce(out, model.RoleATR, spec.Name())
		case KindMACD:
			if out.RoleName(model.RoleMACD) == "" {
				out.SetRole(model.RoleMACD, spec.Name())
				out.SetRole(model.RoleMACDSignal, spec.SignalName())
				out.SetRole(model.RoleMACDHist, spec.HistName())
			}
		}
	}
	return out, errs
}

func setRoleOnce(e *model.Enriched, role, name string) {
	if e.RoleName(role) == "" {
		e.SetRole(role, name)
	}
}
