package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus collectors for the analyzer. It implements
// analysis.Recorder.
type Metrics struct {
	SymbolsAnalyzed *prometheus.CounterVec // labels: status=ok|failed
	SymbolDur       prometheus.Histogram
	EventsTotal     prometheus.Counter

	IndicatorComputeDur *prometheus.HistogramVec // labels: indicator
	DetectorDur         *prometheus.HistogramVec // labels: detector
	DetectorEvents      *prometheus.CounterVec   // labels: detector
	SkippedTotal        *prometheus.CounterVec   // labels: component

	BatchRuns     *prometheus.CounterVec // labels: trigger
	BatchDur      prometheus.Histogram
	LastBatchUnix prometheus.Gauge

	// Circuit breaker on the redis publisher
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisHeldResults         prometheus.Counter

	FanoutDropsTotal *prometheus.CounterVec // labels: sink
	WSClients        prometheus.Gauge

	AlertsTotal *prometheus.CounterVec // labels: status=sent|failed
}

var fastBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SymbolsAnalyzed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patterns_symbols_analyzed_total",
			Help: "Symbols analysed, by outcome",
		}, []string{"status"}),
		SymbolDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patterns_symbol_duration_seconds",
			Help:    "Full pipeline latency per symbol",
			Buckets: prometheus.DefBuckets,
		}),
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patterns_events_total",
			Help: "Pattern events emitted after aggregation",
		}),

		IndicatorComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patterns_indicator_compute_duration_seconds",
			Help:    "Indicator compute latency per series",
			Buckets: fastBuckets,
		}, []string{"indicator"}),
		DetectorDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patterns_detector_duration_seconds",
			Help:    "Detector latency per series",
			Buckets: fastBuckets,
		}, []string{"detector"}),
		DetectorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patterns_detector_events_total",
			Help: "Raw events emitted per detector, before aggregation",
		}, []string{"detector"}),
		SkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patterns_skipped_total",
			Help: "Components skipped for lack of history",
		}, []string{"component"}),

		BatchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patterns_batch_runs_total",
			Help: "Batch runs, by trigger",
		}, []string{"trigger"}),
		BatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "patterns_batch_duration_seconds",
			Help:    "Batch wall-clock duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		LastBatchUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patterns_last_batch_timestamp_seconds",
			Help: "Completion time of the last batch",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patterns_redis_circuit_breaker_state",
			Help: "Redis publisher breaker: 0=closed, 1=open, 2=half-open",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patterns_redis_circuit_breaker_trips_total",
			Help: "Times the redis breaker opened",
		}),
		RedisHeldResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patterns_redis_held_results_total",
			Help: "Results held back while the breaker was open",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patterns_fanout_drops_total",
			Help: "Results dropped because a sink was full",
		}, []string{"sink"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patterns_ws_clients",
			Help: "Connected websocket clients",
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patterns_alerts_total",
			Help: "Pattern alert deliveries",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.SymbolsAnalyzed,
		m.SymbolDur,
		m.EventsTotal,
		m.IndicatorComputeDur,
		m.DetectorDur,
		m.DetectorEvents,
		m.SkippedTotal,
		m.BatchRuns,
		m.BatchDur,
		m.LastBatchUnix,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisHeldResults,
		m.FanoutDropsTotal,
		m.WSClients,
		m.AlertsTotal,
	)
	return m
}

func (m *Metrics) IndicatorComputed(name string, took time.Duration) {
	m.IndicatorComputeDur.WithLabelValues(name).Observe(took.Seconds())
}

func (m *Metrics) DetectorRan(detector string, events int, took time.Duration) {
	m.DetectorDur.WithLabelValues(detector).Observe(took.Seconds())
	m.DetectorEvents.WithLabelValues(detector).Add(float64(events))
}

func (m *Metrics) Skipped(component string) {
	m.SkippedTotal.WithLabelValues(component).Inc()
}

func (m *Metrics) SymbolAnalyzed(_ string, events int, took time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.SymbolsAnalyzed.WithLabelValues(status).Inc()
	m.SymbolDur.Observe(took.Seconds())
	m.EventsTotal.Add(float64(events))
}

// BatchFinished records one completed batch.
func (m *Metrics) BatchFinished(trigger string, took time.Duration, at time.Time) {
	m.BatchRuns.WithLabelValues(trigger).Inc()
	m.BatchDur.Observe(took.Seconds())
	m.LastBatchUnix.Set(float64(at.Unix()))
}

// BreakerStateChanged tracks a redis breaker transition. to is the
// numeric state (0 closed, 1 open, 2 half-open).
func (m *Metrics) BreakerStateChanged(to int) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if to == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// AlertSent counts an alert delivery attempt.
func (m *Metrics) AlertSent(status string) {
	m.AlertsTotal.WithLabelValues(status).Inc()
}

// FanoutDropped counts a result a sink could not accept.
func (m *Metrics) FanoutDropped(sink string) {
	m.FanoutDropsTotal.WithLabelValues(sink).Inc()
}

// HealthStatus is the state reported on /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool
	RedisConnected bool
	SQLiteEnabled  bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time

	LastRunID      string
	LastRunAt      time.Time
	LastRunSymbols int
	LastRunFailed  int

	StartedAt time.Time
}

// NewHealthStatus returns a status with no dependencies configured.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// EnableRedis marks redis as a dependency to report on.
func (h *HealthStatus) EnableRedis() {
	h.mu.Lock()
	h.RedisEnabled = true
	h.mu.Unlock()
}

// EnableSQLite marks the bar cache as a dependency to report on.
func (h *HealthStatus) EnableSQLite() {
	h.mu.Lock()
	h.SQLiteEnabled = true
	h.mu.Unlock()
}

// RecordRun stores the outcome of the latest batch.
func (h *HealthStatus) RecordRun(runID string, at time.Time, symbols, failed int) {
	h.mu.Lock()
	h.LastRunID = runID
	h.LastRunAt = at
	h.LastRunSymbols = symbols
	h.LastRunFailed = failed
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the bar cache and records latency and health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the configured dependencies every interval
// until ctx is cancelled. Nil dependencies are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

// Report is the /healthz body.
type Report struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	RedisConnected  *bool   `json:"redis_connected,omitempty"`
	RedisLatencyMs  float64 `json:"redis_latency_ms,omitempty"`
	SQLiteOK        *bool   `json:"sqlite_ok,omitempty"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms,omitempty"`
	LastRunID       string  `json:"last_run_id,omitempty"`
	LastRunAt       string  `json:"last_run_at,omitempty"`
	LastRunSymbols  int     `json:"last_run_symbols"`
	LastRunFailed   int     `json:"last_run_failed"`
}

// Snapshot computes the current report. Status is "degraded" when a
// configured dependency is down or every symbol of the last run failed,
// and "unhealthy" when all configured dependencies are down.
func (h *HealthStatus) Snapshot() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := Report{
		Status:         "healthy",
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		LastRunID:      h.LastRunID,
		LastRunSymbols: h.LastRunSymbols,
		LastRunFailed:  h.LastRunFailed,
	}
	if !h.LastRunAt.IsZero() {
		r.LastRunAt = h.LastRunAt.UTC().Format(time.RFC3339)
	}

	configured, down := 0, 0
	if h.RedisEnabled {
		ok := h.RedisConnected
		r.RedisConnected, r.RedisLatencyMs = &ok, h.RedisLatencyMs
		configured++
		if !ok {
			down++
		}
	}
	if h.SQLiteEnabled {
		ok := h.SQLiteOK
		r.SQLiteOK, r.SQLiteLatencyMs = &ok, h.SQLiteLatencyMs
		configured++
		if !ok {
			down++
		}
	}

	switch {
	case configured > 0 && down == configured:
		r.Status = "unhealthy"
	case down > 0, h.LastRunSymbols > 0 && h.LastRunFailed == h.LastRunSymbols:
		r.Status = "degraded"
	}
	return r
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if rep.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(rep)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. A nil gatherer serves
// the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		zap.L().Info("metrics: server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Error("metrics: server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
