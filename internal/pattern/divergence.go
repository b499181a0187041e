package pattern

import (
	"math"

	"chart-snapshot-analyzer/internal/model"
)

type extremaPair struct {
	kind          extremumKind
	first, second int
}

// DetectDivergences compares the two most recent local extrema of close
// inside every LookbackPeriods window with the oscillator at the same bars.
// A lower price low with a higher oscillator low is bullish; a higher price
// high with a lower oscillator high is bearish. Each extrema pair is judged
// once no matter how many windows contain it.
func DetectDivergences(series *model.Series, enriched *model.Enriched, cfg DivergenceConfig) ([]model.PatternEvent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lb := cfg.LookbackPeriods
	n := series.Len()
	if n < lb {
		return nil, &model.InsufficientDataError{Component: "divergence", Need: lb, Have: n}
	}
	osc, ok := oscillatorLine(enriched, cfg.oscillator())
	if !ok || len(osc) != n {
		// not computed upstream, either unconfigured or longer than the series
		return nil, &model.InsufficientDataError{Component: "divergence: " + cfg.oscillator() + " line not computed", Need: lb, Have: n}
	}

	closes := series.Closes()
	troughs := localExtrema(closes, trough)
	peaks := localExtrema(closes, peak)
	seen := make(map[extremaPair]bool)

	var events []model.PatternEvent
	for end := lb - 1; end < n; end++ {
		// Both neighbours of an extremum must sit inside [end-lb+1, end].
		lo, hi := end-lb+2, end-1
		for _, kind := range []extremumKind{trough, peak} {
			idx := troughs
			if kind == peak {
				idx = peaks
			}
			a, b, found := lastTwoIn(idx, lo, hi)
			if !found {
				continue
			}
			key := extremaPair{kind: kind, first: a, second: b}
			if seen[key] {
				continue
			}
			seen[key] = true

			if ev, ok := judgeDivergence(series, closes, osc, key, cfg.MinDivergenceStrength); ok {
				events = append(events, ev)
			}
		}
	}

	sortByIndex(events)
	return events, nil
}

func oscillatorLine(e *model.Enriched, name string) (model.Line, bool) {
	if e == nil {
		return nil, false
	}
	switch name {
	case OscillatorMACD:
		return e.Line(model.RoleMACD)
	case OscillatorMACDHist:
		return e.Line(model.RoleMACDHist)
	default:
		return e.Line(model.RoleRSI)
	}
}

// judgeDivergence classifies one extrema pair. Undefined oscillator values
// at either extremum mean no signal.
func judgeDivergence(series *model.Series, closes []float64, osc model.Line, pair extremaPair, minStrength float64) (model.PatternEvent, bool) {
	o1, ok1 := osc.At(pair.first)
	o2, ok2 := osc.At(pair.second)
	if !ok1 || !ok2 {
		return model.PatternEvent{}, false
	}
	p1, p2 := closes[pair.first], closes[pair.second]

	var typ model.PatternType
	switch {
	case pair.kind == trough && p2 < p1 && o2 > o1:
		typ = model.DivergenceBullish
	case pair.kind == peak && p2 > p1 && o2 < o1:
		typ = model.DivergenceBearish
	default:
		return model.PatternEvent{}, false
	}

	strength, ok := divergenceStrength(p1, p2, o1, o2)
	if !ok || strength < minStrength {
		return model.PatternEvent{}, false
	}

	metrics := map[string]float64{
		"price_first":  p1,
		"price_second": p2,
		"osc_first":    o1,
		"osc_second":   o2,
		"bars_apart":   float64(pair.second - pair.first),
	}
	confirmed := isLocalExtremum(osc, pair.second, pair.kind)
	return model.NewPatternEvent(typ, series.Symbol(), series.Bar(pair.second), pair.second, strength, metrics, confirmed), true
}

// divergenceStrength is the gap between the oscillator's and the price's
// relative change across the pair, clipped to [0,1]. Price moves relative to
// the first extremum; the oscillator relative to its larger magnitude so
// that signed oscillators (MACD) stay bounded. ok is false when the
// oscillator is zero at both ends.
func divergenceStrength(p1, p2, o1, o2 float64) (float64, bool) {
	den := math.Max(math.Abs(o1), math.Abs(o2))
	if den == 0 || p1 <= 0 {
		return 0, false
	}
	oscRel := (o2 - o1) / den
	priceRel := (p2 - p1) / p1
	return model.Clamp01(math.Abs(oscRel - priceRel)), true
}
