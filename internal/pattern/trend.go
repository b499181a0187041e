package pattern

import (
	"errors"
	"math"

	"chart-snapshot-analyzer/internal/model"
)

// rsiZone is the hysteresis state of the RSI extreme detector.
type rsiZone int

const (
	zoneNeutral rsiZone = iota
	zoneOverbought
	zoneOversold
)

// DetectTrendChanges runs the MA crossover, MACD crossover and RSI extreme
// scans over the enriched series and concatenates their events. A scan
// whose lines are missing is skipped; its *model.InsufficientDataError is
// joined into the returned error while the other scans still report.
func DetectTrendChanges(series *model.Series, enriched *model.Enriched, cfg TrendConfig) ([]model.PatternEvent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if enriched == nil {
		enriched = model.NewEnriched(series, nil)
	}
	closes := series.Closes()
	var events []model.PatternEvent
	var errs []error

	short, okS := enriched.Line(model.RoleMAShort)
	long, okL := enriched.Line(model.RoleMALong)
	if okS && okL {
		events = append(events, maCrosses(series, closes, short, long)...)
	} else {
		errs = append(errs, &model.InsufficientDataError{Component: "trend ma_cross", Need: cfg.MAPair[1], Have: series.Len()})
	}

	macd, okM := enriched.Line(model.RoleMACD)
	signal, okSig := enriched.Line(model.RoleMACDSignal)
	if okM && okSig {
		events = append(events, macdCrosses(series, closes, macd, signal)...)
	} else if len(cfg.MACD) == 3 {
		errs = append(errs, &model.InsufficientDataError{Component: "trend macd_cross", Need: cfg.MACD[1] + cfg.MACD[2] - 1, Have: series.Len()})
	}

	if rsi, ok := enriched.Line(model.RoleRSI); ok {
		events = append(events, rsiExtremes(series, closes, rsi, cfg.RSIOverbought, cfg.RSIOversold)...)
	} else {
		errs = append(errs, &model.InsufficientDataError{Component: "trend rsi", Need: 2, Have: series.Len()})
	}

	sortByIndex(events)
	return events, errors.Join(errs...)
}

// crossScan walks a difference series and reports each bar where its sign
// flips relative to the last defined, non-zero sign.
func crossScan(n int, diffAt func(i int) (float64, bool), emit func(i int, diff float64, bullish bool)) {
	lastSign := 0
	for i := 0; i < n; i++ {
		d, ok := diffAt(i)
		if !ok {
			continue
		}
		sign := 0
		switch {
		case d > 0:
			sign = 1
		case d < 0:
			sign = -1
		}
		if sign == 0 {
			continue
		}
		if lastSign != 0 && sign != lastSign {
			emit(i, d, sign > 0)
		}
		lastSign = sign
	}
}

func maCrosses(series *model.Series, closes []float64, short, long model.Line) []model.PatternEvent {
	var out []model.PatternEvent
	diffAt := func(i int) (float64, bool) {
		s, ok1 := short.At(i)
		l, ok2 := long.At(i)
		return s - l, ok1 && ok2
	}
	crossScan(series.Len(), diffAt, func(i int, diff float64, bullish bool) {
		l := long[i]
		typ := model.TrendMACrossBearish
		confirmed := closes[i] < l
		if bullish {
			typ = model.TrendMACrossBullish
			confirmed = closes[i] > l
		}
		metrics := map[string]float64{"ma_short": short[i], "ma_long": l, "spread": diff}
		strength := 100 * math.Abs(diff) / math.Abs(l)
		out = append(out, model.NewPatternEvent(typ, series.Symbol(), series.Bar(i), i, strength, metrics, confirmed))
	})
	return out
}

func macdCrosses(series *model.Series, closes []float64, macd, signal model.Line) []model.PatternEvent {
	var out []model.PatternEvent
	diffAt := func(i int) (float64, bool) {
		m, ok1 := macd.At(i)
		s, ok2 := signal.At(i)
		return m - s, ok1 && ok2
	}
	crossScan(series.Len(), diffAt, func(i int, hist float64, bullish bool) {
		typ := model.TrendMACDCrossBearish
		confirmed := macd[i] < 0
		if bullish {
			typ = model.TrendMACDCrossBullish
			confirmed = macd[i] > 0
		}
		metrics := map[string]float64{"macd": macd[i], "signal": signal[i], "histogram": hist}
		strength := 100 * math.Abs(hist) / closes[i]
		out = append(out, model.NewPatternEvent(typ, series.Symbol(), series.Bar(i), i, strength, metrics, confirmed))
	})
	return out
}

// rsiExtremes carries an explicit zone across the scan. Entering overbought
// or oversold emits and leaving is silent. The neutral band includes both
// thresholds, so RSI exactly at overbought or oversold is neutral.
func rsiExtremes(series *model.Series, closes []float64, rsi model.Line, overbought, oversold float64) []model.PatternEvent {
	var out []model.PatternEvent
	zone := zoneNeutral
	for i := 0; i < series.Len(); i++ {
		v, ok := rsi.At(i)
		if !ok {
			continue
		}
		next := zoneNeutral
		switch {
		case v > overbought:
			next = zoneOverbought
		case v < oversold:
			next = zoneOversold
		}
		if next != zone && next != zoneNeutral {
			var typ model.PatternType
			var strength float64
			confirmed := false
			if next == zoneOverbought {
				typ = model.TrendRSIOverbought
				strength = (v - overbought) / (100 - overbought)
				confirmed = i > 0 && closes[i] > closes[i-1]
			} else {
				typ = model.TrendRSIOversold
				strength = (oversold - v) / oversold
				confirmed = i > 0 && closes[i] < closes[i-1]
			}
			metrics := map[string]float64{"rsi": v, "threshold": overbought}
			if next == zoneOversold {
				metrics["threshold"] = oversold
			}
			out = append(out, model.NewPatternEvent(typ, series.Symbol(), series.Bar(i), i, strength, metrics, confirmed))
		}
		zone = next
	}
	return out
}
