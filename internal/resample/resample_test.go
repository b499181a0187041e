package resample

import (
	"context"
	"errors"
	"testing"
	"time"

	"chart-snapshot-analyzer/internal/model"
)

var base = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC) // a Monday

// minuteBars creates n 1m bars starting at start. Bar i has
// open=100+i, high=110+i, low=90+i, close=105+i, volume=10.
func minuteBars(t *testing.T, start time.Time, n int) *model.Series {
	t.Helper()
	bars := make([]model.Bar, n)
	for i := range bars {
		f := float64(i)
		bars[i] = model.Bar{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   100 + f,
			High:   110 + f,
			Low:    90 + f,
			Close:  105 + f,
			Volume: 10,
		}
	}
	s, err := model.NewSeries("BTCUSDT", "1m", bars)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// ──────────────────────────────────────────────────────────────
// Builder
// ──────────────────────────────────────────────────────────────

func TestBuilder_FinalizesOnNewBucket(t *testing.T) {
	b := NewBuilder(5 * time.Minute)
	src := minuteBars(t, base, 6)

	for i := 0; i < 5; i++ {
		if _, ok := b.Add(src.Bar(i)); ok {
			t.Fatalf("bar %d finalized a bucket early", i)
		}
	}
	done, ok := b.Add(src.Bar(5))
	if !ok {
		t.Fatal("expected the first bucket to close")
	}
	// open=100 (bar 0), high=114 (bar 4), low=90 (bar 0), close=109 (bar 4), volume=5*10
	want := model.Bar{Time: base, Open: 100, High: 114, Low: 90, Close: 109, Volume: 50}
	if done != want {
		t.Errorf("bucket = %+v, want %+v", done, want)
	}

	forming, n := b.Forming()
	if n != 1 || !forming.Time.Equal(base.Add(5*time.Minute)) || forming.Open != 105 {
		t.Errorf("forming = %+v (%d bars)", forming, n)
	}
}

func TestBuilder_StaleBarDropped(t *testing.T) {
	b := NewBuilder(5 * time.Minute)
	src := minuteBars(t, base, 7)
	var stale []time.Time
	b.OnStale = func(bar model.Bar) { stale = append(stale, bar.Time) }

	b.Add(src.Bar(5)) // opens bucket 00:05
	if _, ok := b.Add(src.Bar(1)); ok {
		t.Error("stale bar finalized a bucket")
	}
	if len(stale) != 1 || !stale[0].Equal(src.Bar(1).Time) {
		t.Errorf("stale = %v", stale)
	}
	if _, n := b.Forming(); n != 1 {
		t.Errorf("stale bar merged: %d bars", n)
	}
}

// ──────────────────────────────────────────────────────────────
// Series
// ──────────────────────────────────────────────────────────────

func TestSeries_CompleteBuckets(t *testing.T) {
	out, err := Series(minuteBars(t, base, 15), "5m")
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 3 || out.Timeframe() != "5m" || out.Symbol() != "BTCUSDT" {
		t.Fatalf("len=%d tf=%s", out.Len(), out.Timeframe())
	}
	// third bucket: bars 10..14
	last, _ := out.Last()
	if last.Open != 110 || last.Close != 119 || last.High != 124 || last.Low != 100 {
		t.Errorf("last = %+v", last)
	}
}

func TestSeries_DropsPartialEnds(t *testing.T) {
	// 00:02 .. 00:13: bucket 00:00 misses two bars, bucket 00:10 ends at 00:13
	out, err := Series(minuteBars(t, base.Add(2*time.Minute), 12), "5m")
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 1 {
		t.Fatalf("len = %d, want 1", out.Len())
	}
	if b := out.Bar(0); !b.Time.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("kept bucket %v", b.Time)
	}
}

func TestSeries_SameTimeframeIsIdentity(t *testing.T) {
	src := minuteBars(t, base, 3)
	out, err := Series(src, "1m")
	if err != nil || out != src {
		t.Errorf("out=%p src=%p err=%v", out, src, err)
	}
}

func TestSeries_NotAMultiple(t *testing.T) {
	src5, err := Series(minuteBars(t, base, 30), "5m")
	if err != nil {
		t.Fatal(err)
	}
	for _, tf := range []string{"12m", "1m"} {
		_, err := Series(src5, tf)
		var cfgErr *model.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("5m -> %s: err = %v", tf, err)
		}
	}
	if _, err := Series(src5, "5x"); err == nil {
		t.Error("bad timeframe accepted")
	}
}

// ──────────────────────────────────────────────────────────────
// Provider
// ──────────────────────────────────────────────────────────────

func TestProvider_FetchesEnoughBaseBars(t *testing.T) {
	var asked []int
	upstream := model.ProviderFunc(func(_ context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
		asked = append(asked, limit)
		if timeframe != "1m" {
			t.Errorf("upstream asked for %s", timeframe)
		}
		// 3 minutes into a bucket, like a live fetch
		return minuteBars(t, base.Add(3*time.Minute), limit), nil
	})
	p := &Provider{Upstream: upstream, Base: "1m"}

	s, err := p.Fetch(context.Background(), "BTCUSDT", "5m", 4)
	if err != nil {
		t.Fatal(err)
	}
	// (4+2)*5 = 30 bars from 00:03 to 00:32: complete buckets 00:05..00:25,
	// the last 4 of which start at 00:10
	if len(asked) != 1 || asked[0] != 30 {
		t.Errorf("asked = %v", asked)
	}
	if s.Len() != 4 || !s.Bar(0).Time.Equal(base.Add(10*time.Minute)) {
		t.Errorf("len=%d first=%v", s.Len(), s.Bar(0).Time)
	}

	// base timeframe passes straight through
	s, err = p.Fetch(context.Background(), "BTCUSDT", "1m", 7)
	if err != nil || s.Len() != 7 {
		t.Errorf("passthrough len=%d err=%v", s.Len(), err)
	}
}
