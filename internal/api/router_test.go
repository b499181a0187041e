package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/gateway"
	"chart-snapshot-analyzer/internal/metrics"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/report"
	"chart-snapshot-analyzer/internal/scheduler"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var t0 = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func ev(t model.PatternType, hour int, strength float64) model.PatternEvent {
	return model.NewPatternEvent(t, "BTCUSDT", model.Bar{Time: t0.Add(time.Duration(hour) * time.Hour)}, hour, strength, nil, true)
}

type fakeRunner struct {
	got []scheduler.Request
}

func (f *fakeRunner) Run(_ context.Context, req scheduler.Request) []analysis.Result {
	f.got = append(f.got, req)
	out := make([]analysis.Result, len(req.Symbols))
	for i, s := range req.Symbols {
		out[i] = analysis.Result{Symbol: strings.ToUpper(s), Timeframe: req.Timeframe, Bars: req.Limit}
	}
	return out
}

type fakeSnapshots map[string]analysis.Result

func (f fakeSnapshots) Latest(_ context.Context, symbol, tf string) (analysis.Result, error) {
	if r, ok := f[symbol+":"+tf]; ok {
		return r, nil
	}
	return analysis.Result{}, errors.New("no stored result")
}

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeRunner) {
	t.Helper()
	col := report.NewCollector()
	col.Add(analysis.Result{
		RunID: "run-1", Symbol: "BTCUSDT", Timeframe: "1h", Bars: 300,
		Events: []model.PatternEvent{
			ev(model.BreakoutResistance, 10, 0.2),
			ev(model.TrendRSIOverbought, 12, 0.7),
		},
	})
	col.Add(analysis.Result{RunID: "run-1", Symbol: "ETHUSDT", Timeframe: "1h", Bars: 300})
	runner := &fakeRunner{}
	srv := NewServer(cfg, Deps{
		Collector: col,
		Runner:    runner,
		Hub:       gateway.NewHub(nil),
		Health:    metrics.NewHealthStatus(),
		Snapshots: fakeSnapshots{"SOLUSDT:1h": {Symbol: "SOLUSDT", Timeframe: "1h", Bars: 77}},
	})
	return srv, runner
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Error   bool            `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	return env
}

// ──────────────────────────────────────────────────────────────
// Read endpoints
// ──────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	w := do(srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "healthy" || body["ws_clients"] != float64(0) {
		t.Errorf("body = %v", body)
	}
}

func TestSymbolPatterns(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	w := do(srv, http.MethodGet, "/api/v1/patterns/btcusdt", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	var res analysis.Result
	json.Unmarshal(decode(t, w).Data, &res)
	if res.Symbol != "BTCUSDT" || len(res.Events) != 2 {
		t.Errorf("result = %+v", res)
	}

	w = do(srv, http.MethodGet, "/api/v1/patterns/BTCUSDT?min_strength=0.5", "")
	json.Unmarshal(decode(t, w).Data, &res)
	if len(res.Events) != 1 || res.Events[0].Type != model.TrendRSIOverbought {
		t.Errorf("min_strength filter: %+v", res.Events)
	}

	w = do(srv, http.MethodGet, "/api/v1/patterns/BTCUSDT?type=breakout_resistance,breakout_support", "")
	json.Unmarshal(decode(t, w).Data, &res)
	if len(res.Events) != 1 || res.Events[0].Type != model.BreakoutResistance {
		t.Errorf("type filter: %+v", res.Events)
	}
}

func TestSymbolPatterns_FallsBackToSnapshots(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	w := do(srv, http.MethodGet, "/api/v1/patterns/SOLUSDT", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var res analysis.Result
	json.Unmarshal(decode(t, w).Data, &res)
	if res.Bars != 77 {
		t.Errorf("result = %+v", res)
	}
}

func TestSymbolPatterns_Errors(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/patterns/NOPE", http.StatusNotFound},
		{"/api/v1/patterns/BTCUSDT?timeframe=2x", http.StatusBadRequest},
		{"/api/v1/patterns/BTCUSDT?type=head_and_shoulders", http.StatusBadRequest},
		{"/api/v1/patterns/BTCUSDT?min_strength=2", http.StatusBadRequest},
		{"/api/v1/patterns/BTCUSDT?timeframe=4h", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := do(srv, http.MethodGet, tt.path, "")
		if w.Code != tt.code {
			t.Errorf("%s: code = %d, want %d", tt.path, w.Code, tt.code)
		}
		if env := decode(t, w); !env.Error || env.Message == "" {
			t.Errorf("%s: body = %s", tt.path, w.Body.String())
		}
	}
}

func TestListPatternsAndReport(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	w := do(srv, http.MethodGet, "/api/v1/patterns", "")
	var summaries []report.SymbolSummary
	json.Unmarshal(decode(t, w).Data, &summaries)
	if len(summaries) != 2 || summaries[0].Symbol != "BTCUSDT" || summaries[0].Strongest == nil {
		t.Errorf("summaries = %+v", summaries)
	}

	w = do(srv, http.MethodGet, "/api/v1/report", "")
	var rep report.Report
	json.Unmarshal(w.Body.Bytes(), &rep)
	if rep.RunID != "run-1" || rep.Totals.Events != 2 {
		t.Errorf("report = %+v", rep.Totals)
	}

	w = do(srv, http.MethodGet, "/api/v1/report?format=text", "")
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") || !strings.Contains(w.Body.String(), "PATTERN REPORT run-1") {
		t.Errorf("text report: %s\n%s", w.Header().Get("Content-Type"), w.Body.String())
	}
}

// ──────────────────────────────────────────────────────────────
// POST /api/v1/analyze
// ──────────────────────────────────────────────────────────────

func TestAnalyze(t *testing.T) {
	srv, runner := newTestServer(t, Config{})
	w := do(srv, http.MethodPost, "/api/v1/analyze", `{"symbols":["adausdt"],"timeframe":"4h","limit":100}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	if len(runner.got) != 1 || runner.got[0].Trigger != "api" || runner.got[0].Limit != 100 {
		t.Errorf("runner got %+v", runner.got)
	}
	var results []analysis.Result
	json.Unmarshal(decode(t, w).Data, &results)
	if len(results) != 1 || results[0].Symbol != "ADAUSDT" || results[0].Timeframe != "4h" {
		t.Errorf("results = %+v", results)
	}
}

func TestAnalyze_Validation(t *testing.T) {
	srv, runner := newTestServer(t, Config{})
	many := `{"symbols":[` + strings.TrimSuffix(strings.Repeat(`"X",`, maxAnalyzeSymbols+1), ",") + `]}`
	for _, body := range []string{
		`{}`,
		`{"symbols":[]}`,
		`{"symbols":["BTCUSDT"],"timeframe":"7x"}`,
		`{"symbols":["BTCUSDT"],"limit":5000}`,
		`not json`,
		many,
	} {
		if w := do(srv, http.MethodPost, "/api/v1/analyze", body); w.Code != http.StatusBadRequest {
			t.Errorf("%.40s: code = %d", body, w.Code)
		}
	}
	if len(runner.got) != 0 {
		t.Errorf("runner called %d times", len(runner.got))
	}
}

func TestAnalyze_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t, Config{AnalyzeRate: 0.001})
	body := `{"symbols":["BTCUSDT"]}`
	if w := do(srv, http.MethodPost, "/api/v1/analyze", body); w.Code != http.StatusOK {
		t.Fatalf("first call: %d", w.Code)
	}
	if w := do(srv, http.MethodPost, "/api/v1/analyze", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("second call: %d", w.Code)
	}
}

func TestAnalyze_DisabledWithoutRunner(t *testing.T) {
	srv := NewServer(Config{}, Deps{Collector: report.NewCollector()})
	if w := do(srv, http.MethodPost, "/api/v1/analyze", `{"symbols":["X"]}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", w.Code)
	}
	// no hub: /ws is not routed
	if w := do(srv, http.MethodGet, "/ws", ""); w.Code != http.StatusNotFound {
		t.Errorf("/ws code = %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, Config{AllowOrigins: []string{"http://chart.local"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://chart.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://chart.local" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign origin code = %d", w.Code)
	}
}
