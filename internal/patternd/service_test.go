package patternd

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"chart-snapshot-analyzer/config"
	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/notify"
	redisstore "chart-snapshot-analyzer/internal/store/redis"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Data.Provider = config.ProviderSynthetic
	cfg.Data.Limit = 300
	cfg.Batch.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.MetricsAddr = ""
	cfg.Schedule.Cron = "@every 1h"
	return cfg
}

// ──────────────────────────────────────────────────────────────
// Provider construction
// ──────────────────────────────────────────────────────────────

func TestBuildProvider_Synthetic(t *testing.T) {
	p, store, err := BuildProvider(testConfig().Data)
	if err != nil {
		t.Fatal(err)
	}
	if store != nil {
		t.Error("bar cache opened without sqlite_path")
	}
	s, err := p.Fetch(context.Background(), "BTCUSDT", "1h", 50)
	if err != nil {
		t.Fatal(err)
	}
	last, _ := s.Last()
	if s.Len() != 50 || !last.Time.Before(time.Now()) {
		t.Errorf("len=%d last=%v", s.Len(), last.Time)
	}
}

func TestBuildProvider_UnknownProvider(t *testing.T) {
	data := testConfig().Data
	data.Provider = "carrier-pigeon"
	_, _, err := BuildProvider(data)
	var cfgErr *model.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "provider" {
		t.Errorf("err = %v", err)
	}
}

func TestBuildProvider_Resampled(t *testing.T) {
	data := testConfig().Data
	data.BaseTF = "15m"
	p, _, err := BuildProvider(data)
	if err != nil {
		t.Fatal(err)
	}
	s, err := p.Fetch(context.Background(), "BTCUSDT", "1h", 24)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 24 || s.Timeframe() != "1h" {
		t.Errorf("len=%d tf=%s", s.Len(), s.Timeframe())
	}
	for i := 0; i < s.Len(); i++ {
		if b := s.Bar(i); b.Time.Minute() != 0 {
			t.Fatalf("bar %d not hour aligned: %v", i, b.Time)
		}
	}

	data.BaseTF = "fortnight"
	if _, _, err := BuildProvider(data); err == nil {
		t.Error("bad base timeframe accepted")
	}
}

func TestBuildProvider_CachesToSQLite(t *testing.T) {
	data := testConfig().Data
	data.SQLitePath = filepath.Join(t.TempDir(), "cache", "bars.db")
	p, store, err := BuildProvider(data)
	if err != nil {
		t.Fatal(err)
	}
	if store == nil {
		t.Fatal("expected a bar cache")
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := p.Fetch(ctx, "ETHUSDT", "1h", 40); err != nil {
		t.Fatal(err)
	}
	cached, err := store.LoadBars(ctx, "ETHUSDT", "1h", 40)
	if err != nil {
		t.Fatal(err)
	}
	if cached.Len() != 40 {
		t.Errorf("cached %d bars, want 40", cached.Len())
	}
}

// ──────────────────────────────────────────────────────────────
// Restore and origins
// ──────────────────────────────────────────────────────────────

type fakeSnapshots map[string]error

func (f fakeSnapshots) Latest(_ context.Context, symbol, timeframe string) (analysis.Result, error) {
	if err := f[symbol]; err != nil {
		return analysis.Result{}, err
	}
	return analysis.Result{Symbol: symbol, Timeframe: timeframe, Bars: 10}, nil
}

func TestRestoreFrom(t *testing.T) {
	src := fakeSnapshots{
		"ETHUSDT": redisstore.ErrNoSnapshot,
		"SOLUSDT": errors.New("i/o timeout"),
	}
	var got []string
	n := restoreFrom(context.Background(), src, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT"}, "4h", func(r analysis.Result) {
		got = append(got, r.Symbol+":"+r.Timeframe)
	})
	if n != 2 || len(got) != 2 || got[0] != "BTCUSDT:4h" || got[1] != "ADAUSDT:4h" {
		t.Errorf("restored %d: %v", n, got)
	}
}

func TestOrigins(t *testing.T) {
	if corsOrigins([]string{"https://a.example", "*"}) != nil {
		t.Error("wildcard should allow every origin")
	}
	if originChecker(nil) != nil {
		t.Error("empty list should allow every origin")
	}
	check := originChecker([]string{"https://a.example"})
	if !check("https://a.example") || check("https://evil.example") {
		t.Error("origin check mismatch")
	}
}

// ──────────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────────

func TestService_StartupBatchAndShutdown(t *testing.T) {
	svc, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(svc.collector.All()) < 2 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("startup batch not collected: %d results", len(svc.collector.All()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	rep := svc.collector.Report(time.Now())
	if rep.Totals.Symbols != 2 || rep.Totals.Failed != 0 || rep.RunID == "" {
		t.Errorf("report totals = %+v run=%q", rep.Totals, rep.RunID)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := testutil.ToFloat64(svc.prom.BatchRuns.WithLabelValues("startup")); got != 1 {
		t.Errorf("startup batches = %v", got)
	}
	if h := svc.health.Snapshot(); h.LastRunID == "" {
		t.Error("health has no last run")
	}
}

func TestNew_InvalidAnalyzerConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Indicators.RSI = -1
	if _, err := New(cfg); err == nil {
		t.Error("expected config error")
	}
}

func TestNew_NotifyWiring(t *testing.T) {
	cfg := testConfig()
	svc, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if svc.alerter != nil {
		t.Error("alerter built with notify disabled")
	}

	cfg.Notify.Enabled = true
	cfg.Notify.WebhookURL = "http://127.0.0.1:1/hook"
	cfg.Notify.TelegramToken = "TOKEN"
	cfg.Notify.TelegramChatID = "1"
	svc, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if svc.alerter == nil || svc.alerter.MinStrength != 0.5 || svc.alerter.RecentBars != 1 {
		t.Fatalf("alerter = %+v", svc.alerter)
	}
	if n, ok := buildNotifier(cfg.Notify).(notify.Multi); !ok || len(n) != 3 {
		t.Errorf("notifier = %#v", buildNotifier(cfg.Notify))
	}
}
