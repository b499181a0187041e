package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/model"
)

// recorder captures alerts and can fail on demand.
type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, a)
	return nil
}

var t0 = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func event(typ model.PatternType, index int, strength float64) model.PatternEvent {
	return model.PatternEvent{
		Type:     typ,
		Symbol:   "BTCUSDT",
		Time:     t0.Add(time.Duration(index) * time.Hour),
		Index:    index,
		Strength: strength,
	}
}

func result(events ...model.PatternEvent) analysis.Result {
	return analysis.Result{Symbol: "BTCUSDT", Timeframe: "1h", Bars: 100, Events: events}
}

// ──────────────────────────────────────────────────────────────
// Alerter
// ──────────────────────────────────────────────────────────────

func TestAlerter_OnlyRecentAndStrongEnough(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, 0.5, 2, nil)

	// Bars=100, RecentBars=2: indexes 98 and 99 are fresh
	n := a.Handle(context.Background(), result(
		event(model.BreakoutResistance, 97, 0.9),
		event(model.BreakoutResistance, 98, 0.9),
		event(model.DivergenceBullish, 99, 0.4),
		event(model.TrendRSIOversold, 99, 0.6),
	))
	if n != 2 || len(rec.alerts) != 2 {
		t.Fatalf("sent %d: %+v", n, rec.alerts)
	}
	if rec.alerts[0].Level != AlertCritical || rec.alerts[1].Level != AlertWarning {
		t.Errorf("levels = %s, %s", rec.alerts[0].Level, rec.alerts[1].Level)
	}
	if rec.alerts[0].Title != "BTCUSDT 1h breakout_resistance" {
		t.Errorf("title = %q", rec.alerts[0].Title)
	}
}

func TestAlerter_SendsEachEventOnce(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, 0, 1, nil)
	res := result(event(model.TrendMACrossBullish, 99, 0.3))

	a.Handle(context.Background(), res)
	a.Handle(context.Background(), res)
	if len(rec.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(rec.alerts))
	}
	if rec.alerts[0].Level != AlertInfo {
		t.Errorf("level = %s", rec.alerts[0].Level)
	}

	// same type on another timeframe is a different alert
	res.Timeframe = "4h"
	a.Handle(context.Background(), res)
	if len(rec.alerts) != 2 {
		t.Errorf("alerts = %d, want 2", len(rec.alerts))
	}
}

func TestAlerter_TypeFilter(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, 0, 1, []string{string(model.DivergenceBearish)})
	a.Handle(context.Background(), result(
		event(model.DivergenceBearish, 99, 0.7),
		event(model.BreakoutSupport, 99, 0.7),
	))
	if len(rec.alerts) != 1 || !strings.Contains(rec.alerts[0].Title, "divergence_bearish") {
		t.Errorf("alerts = %+v", rec.alerts)
	}
}

func TestAlerter_SkipsFailedResults(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, 0, 1, nil)
	res := result(event(model.BreakoutSupport, 99, 1))
	res.Err = errors.New("fetch failed")
	if n := a.Handle(context.Background(), res); n != 0 {
		t.Errorf("sent %d for a failed result", n)
	}
}

func TestAlerter_CountsDeliveries(t *testing.T) {
	rec := &recorder{err: errors.New("down")}
	a := NewAlerter(rec, 0, 1, nil)
	var statuses []string
	a.OnSent = func(s string) { statuses = append(statuses, s) }

	a.Handle(context.Background(), result(event(model.BreakoutSupport, 99, 1)))
	rec.err = nil
	a.Handle(context.Background(), result(event(model.BreakoutResistance, 99, 1)))

	if len(statuses) != 2 || statuses[0] != "failed" || statuses[1] != "sent" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestAlerter_FailedDeliveryRetriedNextResult(t *testing.T) {
	rec := &recorder{err: errors.New("down")}
	a := NewAlerter(rec, 0, 1, nil)
	res := result(event(model.BreakoutSupport, 99, 0.9))

	if n := a.Handle(context.Background(), res); n != 0 {
		t.Fatalf("sent %d while the channel is down", n)
	}
	rec.err = nil
	if n := a.Handle(context.Background(), res); n != 1 {
		t.Fatalf("sent %d after recovery, want 1", n)
	}
	// delivered once, never again
	if n := a.Handle(context.Background(), res); n != 0 || len(rec.alerts) != 1 {
		t.Errorf("sent %d, alerts %d", n, len(rec.alerts))
	}
}

func TestAlerter_RunStopsOnClose(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, 0, 1, nil)
	in := make(chan analysis.Result, 1)
	in <- result(event(model.BreakoutSupport, 99, 1))
	close(in)

	done := make(chan struct{})
	go func() { a.Run(context.Background(), in); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after close")
	}
	if len(rec.alerts) != 1 {
		t.Errorf("alerts = %d", len(rec.alerts))
	}
}

// ──────────────────────────────────────────────────────────────
// Delivery
// ──────────────────────────────────────────────────────────────

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls int32
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(srv.URL)
	w.InitialBackoff = time.Millisecond
	if err := w.Send(context.Background(), Alert{Level: AlertWarning, Title: "t", Message: "m"}); err != nil {
		t.Fatal(err)
	}
	if calls := atomic.LoadInt32(&calls); calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got["level"] != "WARNING" || got["title"] != "t" || got["ts"] == nil {
		t.Errorf("body = %v", got)
	}
}

func TestWebhook_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(srv.URL)
	w.InitialBackoff = time.Millisecond
	if err := w.Send(context.Background(), Alert{}); err == nil {
		t.Fatal("expected error")
	}
	if calls := atomic.LoadInt32(&calls); calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestTelegram_SendsMarkdown(t *testing.T) {
	var path string
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("TOKEN", "42")
	tg.baseURL = srv.URL
	if err := tg.Send(context.Background(), Alert{Level: AlertCritical, Title: "BTCUSDT 1h", Message: "strength 0.91"}); err != nil {
		t.Fatal(err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", path)
	}
	if got["chat_id"] != "42" || got["parse_mode"] != "MarkdownV2" {
		t.Errorf("body = %v", got)
	}
	if text, _ := got["text"].(string); !strings.Contains(text, `strength 0\.91`) {
		t.Errorf("text = %q", text)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b (1.5)!"); got != `a\_b \(1\.5\)\!` {
		t.Errorf("got %q", got)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("down")}
	err := Multi{bad, ok}.Send(context.Background(), Alert{Title: "x"})
	if err == nil || len(ok.alerts) != 1 {
		t.Errorf("err=%v ok=%d", err, len(ok.alerts))
	}
}
