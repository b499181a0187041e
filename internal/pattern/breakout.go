// Package pattern turns enriched bar series into labeled pattern events.
//
// Every detector is a pure function of a series, its indicators and a
// detector config. Detectors never read package state, so concurrent calls
// on different series are safe.
package pattern

import (
	"math"

	"chart-snapshot-analyzer/internal/model"
)

// DetectBreakouts flags closes that leave the rolling high/low channel of
// the previous LookbackPeriods bars (the current bar is excluded). Each
// direction fires once and re-arms only after a close back inside the
// channel.
func DetectBreakouts(series *model.Series, enriched *model.Enriched, cfg BreakoutConfig) ([]model.PatternEvent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lb := cfg.LookbackPeriods
	n := series.Len()
	if n <= lb {
		return nil, &model.InsufficientDataError{Component: "breakout", Need: lb + 1, Have: n}
	}

	highs, lows, vols := series.Highs(), series.Lows(), series.Volumes()
	var atr model.Line
	if enriched != nil {
		atr, _ = enriched.Line(model.RoleATR)
	}

	var events []model.PatternEvent
	upArmed, downArmed := true, true

	for i := lb; i < n; i++ {
		bar := series.Bar(i)
		chHigh, chLow, volSum := highs[i-lb], lows[i-lb], 0.0
		for j := i - lb; j < i; j++ {
			chHigh = math.Max(chHigh, highs[j])
			chLow = math.Min(chLow, lows[j])
			volSum += vols[j]
		}
		avgVol := volSum / float64(lb)

		if bar.Close <= chHigh {
			upArmed = true
		}
		if bar.Close >= chLow {
			downArmed = true
		}

		if bar.Close > chHigh && upArmed && volumeOK(bar.Volume, avgVol, cfg.VolumeThreshold) {
			events = append(events, breakoutEvent(series, i, model.BreakoutResistance, chHigh, avgVol, atr, lb, bar.Close > bar.Open))
			upArmed = false
		}
		if bar.Close < chLow && downArmed && volumeOK(bar.Volume, avgVol, cfg.VolumeThreshold) {
			events = append(events, breakoutEvent(series, i, model.BreakoutSupport, chLow, avgVol, atr, lb, bar.Close < bar.Open))
			downArmed = false
		}
	}
	return events, nil
}

// volumeOK applies the optional volume filter: with threshold > 0 the bar's
// volume must exceed threshold × the channel's mean volume.
func volumeOK(vol, avgVol, threshold float64) bool {
	if threshold <= 0 {
		return true
	}
	return vol > threshold*avgVol
}

func breakoutEvent(series *model.Series, i int, typ model.PatternType, level, avgVol float64, atr model.Line, lookback int, confirmed bool) model.PatternEvent {
	bar := series.Bar(i)
	metrics := map[string]float64{
		"level":    level,
		"close":    bar.Close,
		"lookback": float64(lookback),
	}
	if avgVol > 0 {
		metrics["volume_ratio"] = bar.Volume / avgVol
	}
	if v, ok := atr.At(i); ok {
		metrics["atr"] = v
	}
	strength := math.Min(1, math.Abs(bar.Close-level)/level)
	return model.NewPatternEvent(typ, series.Symbol(), bar, i, strength, metrics, confirmed)
}
