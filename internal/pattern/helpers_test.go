package pattern

import (
	"math"
	"testing"
	"time"

	"chart-snapshot-analyzer/internal/model"
)

var t0 = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func at(i int) time.Time { return t0.Add(time.Duration(i) * time.Hour) }

func mustSeries(t *testing.T, bars []model.Bar) *model.Series {
	t.Helper()
	for i := range bars {
		bars[i].Time = at(i)
	}
	s, err := model.NewSeries("TEST", "1h", bars)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	return s
}

// closeSeries builds bars whose open equals close with a ±0.5 range.
func closeSeries(t *testing.T, closes []float64) *model.Series {
	t.Helper()
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 1000}
	}
	return mustSeries(t, bars)
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

func countType(evs []model.PatternEvent, typ model.PatternType) int {
	n := 0
	for _, e := range evs {
		if e.Type == typ {
			n++
		}
	}
	return n
}
