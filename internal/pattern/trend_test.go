package pattern

import (
	"errors"
	"math"
	"testing"

	"chart-snapshot-analyzer/internal/model"
)

func defaultTrend() TrendConfig {
	return TrendConfig{Enabled: true, MAPair: []int{5, 10}, RSIOverbought: 70, RSIOversold: 30}
}

func flatCloses(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// ────────────────────────────────────────────────────────────
// MA crossover
// ────────────────────────────────────────────────────────────

func TestTrend_MACross_ExactlyOnce(t *testing.T) {
	// long = 100 flat; short = 100 + (i-24.5)*0.1 → negative spread up to
	// bar 24, positive from bar 25. Both undefined for the first 5 bars.
	const n = 50
	s := closeSeries(t, flatCloses(n, 101))
	short, long := model.NewLine(n), model.NewLine(n)
	for i := 5; i < n; i++ {
		short[i] = 100 + (float64(i)-24.5)*0.1
		long[i] = 100
	}
	e := model.NewEnriched(s, model.IndicatorSet{"SMA_5": short, "SMA_10": long})
	e.SetRole(model.RoleMAShort, "SMA_5")
	e.SetRole(model.RoleMALong, "SMA_10")

	evs, _ := DetectTrendChanges(s, e, defaultTrend())
	if got := countType(evs, model.TrendMACrossBullish) + countType(evs, model.TrendMACrossBearish); got != 1 {
		t.Fatalf("ma crosses = %d, want 1: %+v", got, evs)
	}
	ev := evs[0]
	if ev.Type != model.TrendMACrossBullish || ev.Index != 25 {
		t.Fatalf("got %s at %d, want bullish at 25", ev.Type, ev.Index)
	}
	// spread 0.05 on a long MA of 100 → 0.05%·100 = 0.05
	assertClose(t, "strength", ev.Strength, 0.05, 1e-9)
	if !ev.Confirmed {
		t.Error("close 101 above long MA should confirm")
	}
}

func TestTrend_MACross_ZeroSpreadDoesNotFlip(t *testing.T) {
	// spread: -1, 0, -1 → no event; -1, 0, +1 → one event at the +1 bar
	s := closeSeries(t, flatCloses(4, 100))
	short := model.Line{99, 100, 99, 101}
	long := model.Line{100, 100, 100, 100}
	e := model.NewEnriched(s, model.IndicatorSet{"s": short, "l": long})
	e.SetRole(model.RoleMAShort, "s")
	e.SetRole(model.RoleMALong, "l")

	evs, _ := DetectTrendChanges(s, e, defaultTrend())
	if len(evs) != 1 || evs[0].Index != 3 {
		t.Fatalf("want one event at bar 3, got %+v", evs)
	}
}

// ────────────────────────────────────────────────────────────
// MACD crossover
// ────────────────────────────────────────────────────────────

func TestTrend_MACDCross(t *testing.T) {
	s := closeSeries(t, flatCloses(6, 100))
	nan := math.NaN()
	macd := model.Line{nan, nan, 0.5, 0.6, 0.2, -0.1}
	signal := model.Line{nan, nan, nan, 0.4, 0.3, 0.2}
	e := model.NewEnriched(s, model.IndicatorSet{"m": macd, "s": signal})
	e.SetRole(model.RoleMACD, "m")
	e.SetRole(model.RoleMACDSignal, "s")

	evs, _ := DetectTrendChanges(s, e, defaultTrend())
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1: %+v", len(evs), evs)
	}
	if evs[0].Type != model.TrendMACDCrossBearish || evs[0].Index != 4 {
		t.Errorf("got %s at %d, want bearish at 4", evs[0].Type, evs[0].Index)
	}
	if evs[0].Confirmed {
		t.Error("macd line still above zero; bearish cross unconfirmed")
	}
}

// ────────────────────────────────────────────────────────────
// RSI hysteresis
// ────────────────────────────────────────────────────────────

func TestTrend_RSIHysteresis(t *testing.T) {
	nan := math.NaN()
	rsi := model.Line{nan, 50, 72, 75, 71, 69, 71, 50, 29, 25, 31, 28, 50}
	s := closeSeries(t, flatCloses(len(rsi), 100))
	e := model.NewEnriched(s, model.IndicatorSet{"RSI_14": rsi})
	e.SetRole(model.RoleRSI, "RSI_14")

	evs, _ := DetectTrendChanges(s, e, defaultTrend())
	wantIdx := []int{2, 6, 8, 11}
	wantTyp := []model.PatternType{model.TrendRSIOverbought, model.TrendRSIOverbought, model.TrendRSIOversold, model.TrendRSIOversold}
	if len(evs) != len(wantIdx) {
		t.Fatalf("events = %d, want %d: %+v", len(evs), len(wantIdx), evs)
	}
	for k := range wantIdx {
		if evs[k].Index != wantIdx[k] || evs[k].Type != wantTyp[k] {
			t.Errorf("event %d: %s at %d, want %s at %d", k, evs[k].Type, evs[k].Index, wantTyp[k], wantIdx[k])
		}
	}
	// (72-70)/30
	assertClose(t, "overbought strength", evs[0].Strength, 2.0/30.0, 1e-9)
	// (30-29)/30
	assertClose(t, "oversold strength", evs[2].Strength, 1.0/30.0, 1e-9)
}

func TestTrend_RSIJumpAcrossBand(t *testing.T) {
	rsi := model.Line{75, 25}
	s := closeSeries(t, flatCloses(2, 100))
	e := model.NewEnriched(s, model.IndicatorSet{"r": rsi})
	e.SetRole(model.RoleRSI, "r")

	evs, _ := DetectTrendChanges(s, e, defaultTrend())
	if len(evs) != 2 || evs[0].Type != model.TrendRSIOverbought || evs[1].Type != model.TrendRSIOversold {
		t.Fatalf("want overbought then oversold, got %+v", evs)
	}
}

// A value exactly at a threshold is neutral: 70 ends the overbought
// stretch, so the return to 75 fires again. Same for 30.
func TestTrend_RSIThresholdIsNeutral(t *testing.T) {
	rsi := model.Line{50, 75, 70, 75, 50, 25, 30, 25}
	s := closeSeries(t, flatCloses(len(rsi), 100))
	e := model.NewEnriched(s, model.IndicatorSet{"RSI_14": rsi})
	e.SetRole(model.RoleRSI, "RSI_14")

	evs, _ := DetectTrendChanges(s, e, defaultTrend())
	wantIdx := []int{1, 3, 5, 7}
	if len(evs) != len(wantIdx) {
		t.Fatalf("events = %d, want %d: %+v", len(evs), len(wantIdx), evs)
	}
	for k, i := range wantIdx {
		if evs[k].Index != i {
			t.Errorf("event %d at bar %d, want %d", k, evs[k].Index, i)
		}
	}
	if countType(evs, model.TrendRSIOverbought) != 2 || countType(evs, model.TrendRSIOversold) != 2 {
		t.Errorf("overbought=%d oversold=%d, want 2 and 2",
			countType(evs, model.TrendRSIOverbought), countType(evs, model.TrendRSIOversold))
	}
}

// ────────────────────────────────────────────────────────────
// Missing lines and config
// ────────────────────────────────────────────────────────────

func TestTrend_MissingLinesReportedButOthersRun(t *testing.T) {
	rsi := model.Line{50, 75}
	s := closeSeries(t, flatCloses(2, 100))
	e := model.NewEnriched(s, model.IndicatorSet{"r": rsi})
	e.SetRole(model.RoleRSI, "r")

	evs, err := DetectTrendChanges(s, e, defaultTrend())
	var ide *model.InsufficientDataError
	if !errors.As(err, &ide) {
		t.Fatalf("want InsufficientDataError for the MA pair, got %v", err)
	}
	if len(evs) != 1 || evs[0].Type != model.TrendRSIOverbought {
		t.Errorf("RSI scan should still report, got %+v", evs)
	}
}

func TestTrendConfig_Validate(t *testing.T) {
	bad := []TrendConfig{
		{MAPair: []int{50, 20}, RSIOverbought: 70, RSIOversold: 30},
		{MAPair: []int{0, 20}, RSIOverbought: 70, RSIOversold: 30},
		{MAPair: []int{20}, RSIOverbought: 70, RSIOversold: 30},
		{MAPair: []int{20, 50}, RSIOverbought: 30, RSIOversold: 70},
		{MAPair: []int{20, 50}, RSIOverbought: 100, RSIOversold: 30},
		{MAPair: []int{20, 50}, MACD: []int{12, 26}, RSIOverbought: 70, RSIOversold: 30},
	}
	for i, c := range bad {
		var ce *model.ConfigError
		if err := c.Validate(); !errors.As(err, &ce) {
			t.Errorf("case %d: want ConfigError, got %v", i, err)
		}
	}
	if err := defaultTrend().Validate(); err != nil {
		t.Errorf("default config: %v", err)
	}
}
