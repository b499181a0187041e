package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chart-snapshot-analyzer/config"
	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/provider/synthetic"
)

var end = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func newRunner(t *testing.T) *Runner {
	t.Helper()
	a, err := analysis.NewAnalyzer(analysis.OptionsFromConfig(config.Default()), nil)
	if err != nil {
		t.Fatal(err)
	}
	return &Runner{
		Analyzer: a,
		Provider: synthetic.New(3, end),
		Symbols:  []string{"BTCUSDT", "ETHUSDT"},
		Batch:    analysis.BatchOptions{Timeframe: "1h", Limit: 250, Workers: 2},
	}
}

func TestRunner_DefaultsAndSink(t *testing.T) {
	r := newRunner(t)
	var sunk []string
	var gotTrigger, gotRunID string
	r.Sink = func(res analysis.Result) { sunk = append(sunk, res.Symbol) }
	r.OnBatch = func(trigger, runID string, results []analysis.Result, _ time.Duration) {
		gotTrigger, gotRunID = trigger, runID
	}

	results := r.Run(context.Background(), Request{Trigger: "startup"})
	if len(results) != 2 || results[0].Symbol != "BTCUSDT" || results[1].Symbol != "ETHUSDT" {
		t.Fatalf("results = %+v", results)
	}
	for _, res := range results {
		if res.Failed() || res.Bars != 250 || res.Timeframe != "1h" {
			t.Errorf("%s: failed=%v bars=%d tf=%s", res.Symbol, res.Failed(), res.Bars, res.Timeframe)
		}
		if res.RunID != gotRunID {
			t.Errorf("%s run id %q, batch run id %q", res.Symbol, res.RunID, gotRunID)
		}
	}
	if len(sunk) != 2 || sunk[0] != "BTCUSDT" {
		t.Errorf("sunk = %v", sunk)
	}
	if gotTrigger != "startup" || !strings.HasPrefix(gotRunID, "startup-") {
		t.Errorf("trigger=%q run id=%q", gotTrigger, gotRunID)
	}
}

func TestRunner_RequestOverrides(t *testing.T) {
	r := newRunner(t)
	results := r.Run(context.Background(), Request{Symbols: []string{" solusdt", "SOLUSDT", ""}, Timeframe: "4h", Limit: 120})
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 after dedupe", len(results))
	}
	res := results[0]
	if res.Symbol != "SOLUSDT" || res.Timeframe != "4h" || res.Bars != 120 {
		t.Errorf("result = %s %s %d", res.Symbol, res.Timeframe, res.Bars)
	}
}

func TestRunner_SerialisesBatches(t *testing.T) {
	r := newRunner(t)
	var inFlight, maxInFlight int32
	r.Provider = model.ProviderFunc(func(ctx context.Context, sym, tf string, limit int) (*model.Series, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return synthetic.New(3, end).Fetch(ctx, sym, tf, limit)
	})
	r.Symbols = []string{"AAA"}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(context.Background(), Request{})
		}()
	}
	wg.Wait()
	if maxInFlight != 1 {
		t.Errorf("max concurrent fetches = %d, want 1", maxInFlight)
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	if _, err := New(context.Background(), "not a cron", newRunner(t)); err == nil {
		t.Fatal("expected error")
	}
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	r := newRunner(t)
	r.Symbols = []string{"BTCUSDT"}
	fired := make(chan string, 4)
	r.OnBatch = func(trigger, _ string, _ []analysis.Result, _ time.Duration) { fired <- trigger }

	s, err := New(context.Background(), "@every 1s", r)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop(context.Background())

	if s.Next().IsZero() {
		t.Error("next run not scheduled")
	}
	select {
	case trig := <-fired:
		if trig != "cron" {
			t.Errorf("trigger = %q", trig)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cron job did not fire")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s, err := New(context.Background(), "@hourly", newRunner(t))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.RunNow("startup"); len(got) != 2 {
		t.Errorf("results = %d", len(got))
	}
}
