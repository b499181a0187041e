package indicator

import (
	"math"
	"strconv"

	"chart-snapshot-analyzer/internal/model"
)

// Kind names an indicator family.
type Kind string

const (
	KindSMA       Kind = "SMA"
	KindEMA       Kind = "EMA"
	KindRSI       Kind = "RSI"
	KindMACD      Kind = "MACD"
	KindBollinger Kind = "BB"
	KindATR       Kind = "ATR"
)

// Spec selects one indicator and its parameters. Period applies to SMA, EMA,
// RSI, ATR and Bollinger; Fast/Slow/Signal to MACD; K to Bollinger.
type Spec struct {
	Kind   Kind
	Period int
	Fast   int
	Slow   int
	Signal int
	K      float64
}

// Name returns the canonical name of the primary output line,
// e.g. "SMA_20", "MACD_12_26_9", "BB_MIDDLE_20_2".
func (s Spec) Name() string {
	switch s.Kind {
	case KindMACD:
		return "MACD_" + s.macdSuffix()
	case KindBollinger:
		return "BB_MIDDLE_" + s.bbSuffix()
	default:
		return string(s.Kind) + "_" + strconv.Itoa(s.Period)
	}
}

// SignalName and HistName return the secondary MACD line names.
func (s Spec) SignalName() string { return "MACD_SIGNAL_" + s.macdSuffix() }
func (s Spec) HistName() string   { return "MACD_HIST_" + s.macdSuffix() }

// UpperName and LowerName return the Bollinger band line names.
func (s Spec) UpperName() string { return "BB_UPPER_" + s.bbSuffix() }
func (s Spec) LowerName() string { return "BB_LOWER_" + s.bbSuffix() }

func (s Spec) macdSuffix() string {
	return strconv.Itoa(s.Fast) + "_" + strconv.Itoa(s.Slow) + "_" + strconv.Itoa(s.Signal)
}

func (s Spec) bbSuffix() string {
	return strconv.Itoa(s.Period) + "_" + strconv.FormatFloat(s.K, 'f', -1, 64)
}

// Validate checks parameter ranges that do not depend on the series.
func (s Spec) Validate() error {
	comp := string(s.Kind)
	switch s.Kind {
	case KindSMA, KindEMA, KindRSI, KindATR:
		if s.Period <= 0 {
			return &model.ConfigError{Component: comp, Field: "period", Reason: "must be positive, got " + strconv.Itoa(s.Period)}
		}
	case KindBollinger:
		if s.Period <= 0 {
			return &model.ConfigError{Component: comp, Field: "period", Reason: "must be positive, got " + strconv.Itoa(s.Period)}
		}
		if !(s.K > 0) || math.IsInf(s.K, 0) {
			return &model.ConfigError{Component: comp, Field: "k", Reason: "multiplier must be positive and finite"}
		}
	case KindMACD:
		if s.Fast <= 0 || s.Slow <= 0 || s.Signal <= 0 {
			return &model.ConfigError{Component: comp, Reason: "fast, slow and signal periods must be positive"}
		}
		if s.Fast >= s.Slow {
			return &model.ConfigError{Component: comp, Field: "fast", Reason: "fast period must be shorter than slow period"}
		}
	default:
		return &model.ConfigError{Component: "indicator", Field: "kind", Reason: "unknown indicator " + comp}
	}
	return nil
}

// maxPeriod is the longest window the indicator consumes from the raw series.
func (s Spec) maxPeriod() int {
	if s.Kind == KindMACD {
		return s.Slow
	}
	return s.Period
}

// Compute derives the indicator described by spec from the series. The
// result holds one line per output (three for MACD and Bollinger), each the
// length of the series. A period that is non-positive or longer than the
// series is a *model.ConfigError and nothing is computed.
func Compute(series *model.Series, spec Spec) (model.IndicatorSet, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	n := series.Len()
	if p := spec.maxPeriod(); p > n {
		return nil, &model.ConfigError{
			Component: string(spec.Kind),
			Field:     "period",
			Reason:    "period " + strconv.Itoa(p) + " exceeds series length " + strconv.Itoa(n),
		}
	}

	closes := series.Closes()
	switch spec.Kind {
	case KindSMA:
		return model.IndicatorSet{spec.Name(): feed(NewSMA(spec.Period), closes)}, nil
	case KindEMA:
		return model.IndicatorSet{spec.Name(): feed(NewEMA(spec.Period), closes)}, nil
	case KindRSI:
		return model.IndicatorSet{spec.Name(): feed(NewRSI(spec.Period), closes)}, nil
	case KindMACD:
		macd, signal, hist := MACD(closes, spec.Fast, spec.Slow, spec.Signal)
		return model.IndicatorSet{
			spec.Name():       macd,
			spec.SignalName(): signal,
			spec.HistName():   hist,
		}, nil
	case KindBollinger:
		upper, middle, lower := Bollinger(closes, spec.Period, spec.K)
		return model.IndicatorSet{
			spec.UpperName(): upper,
			spec.Name():      middle,
			spec.LowerName(): lower,
		}, nil
	case KindATR:
		return model.IndicatorSet{spec.Name(): ATR(series.Highs(), series.Lows(), closes, spec.Period)}, nil
	}
	return nil, &model.ConfigError{Component: "indicator", Field: "kind", Reason: "unknown indicator " + string(spec.Kind)}
}

// feed runs values through ind and records Value() once Ready, leaving the
// warm-up positions undefined.
func feed(ind Indicator, values []float64) model.Line {
	out := model.NewLine(len(values))
	for i, v := range values {
		ind.Update(v)
		if ind.Ready() {
			out[i] = ind.Value()
		}
	}
	return out
}

// feedDefined is feed for inputs that carry their own warm-up: undefined
// positions are skipped and stay undefined in the output.
func feedDefined(ind Indicator, values model.Line) model.Line {
	out := model.NewLine(len(values))
	for i, v := range values {
		if model.IsUndefined(v) {
			continue
		}
		ind.Update(v)
		if ind.Ready() {
			out[i] = ind.Value()
		}
	}
	return out
}

// MACD returns the macd line (EMA(fast) - EMA(slow)), its signal line
// (EMA(signal) of the macd line) and the histogram (macd - signal).
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist model.Line) {
	fastLine := feed(NewEMA(fast), closes)
	slowLine := feed(NewEMA(slow), closes)

	macd = model.NewLine(len(closes))
	for i := range closes {
		if model.IsUndefined(fastLine[i]) || model.IsUndefined(slowLine[i]) {
			continue
		}
		macd[i] = fastLine[i] - slowLine[i]
	}

	sig = feedDefined(NewEMA(signal), macd)

	hist = model.NewLine(len(closes))
	for i := range closes {
		if model.IsUndefined(macd[i]) || model.IsUndefined(sig[i]) {
			continue
		}
		hist[i] = macd[i] - sig[i]
	}
	return macd, sig, hist
}

// Bollinger returns upper, middle and lower bands: SMA(period) ± k·σ, with
// σ the population standard deviation of the same window.
func Bollinger(closes []float64, period int, k float64) (upper, middle, lower model.Line) {
	sma := NewSMA(period)
	sd := NewStdDev(period)
	upper = model.NewLine(len(closes))
	middle = model.NewLine(len(closes))
	lower = model.NewLine(len(closes))
	for i, c := range closes {
		sma.Update(c)
		sd.Update(c)
		if !sma.Ready() {
			continue
		}
		m := sma.Value()
		dev := k * sd.Value()
		middle[i] = m
		upper[i] = m + dev
		lower[i] = m - dev
	}
	return upper, middle, lower
}

// ATR returns the Average True Range using Wilder smoothing. The first
// value sits at position period (period true ranges after the first bar).
func ATR(highs, lows, closes []float64, period int) model.Line {
	out := model.NewLine(len(closes))
	smma := NewSMMA(period)
	for i := 1; i < len(closes); i++ {
		smma.Update(trueRange(highs[i], lows[i], closes[i-1]))
		if smma.Ready() {
			out[i] = smma.Value()
		}
	}
	return out
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}
