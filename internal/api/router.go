// Package api is the HTTP surface: REST endpoints over the latest
// analysis results, on-demand batches and the websocket stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/gateway"
	"chart-snapshot-analyzer/internal/metrics"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/provider"
	"chart-snapshot-analyzer/internal/report"
	"chart-snapshot-analyzer/internal/scheduler"
)

const maxAnalyzeSymbols = 50

// BatchRunner runs an on-demand batch. *scheduler.Runner implements it.
type BatchRunner interface {
	Run(ctx context.Context, req scheduler.Request) []analysis.Result
}

// SnapshotStore serves results this process has not seen, e.g. ones
// published to redis by another instance.
type SnapshotStore interface {
	Latest(ctx context.Context, symbol, timeframe string) (analysis.Result, error)
}

// Config configures the HTTP server.
type Config struct {
	Addr             string
	AllowOrigins     []string // empty allows any origin
	ProductionMode   bool
	DefaultTimeframe string
	AnalyzeRate      float64 // on-demand batches per second; 0 disables the limit
}

// Deps are the collaborators the handlers use. Only Collector is required.
type Deps struct {
	Collector *report.Collector
	Runner    BatchRunner
	Hub       *gateway.Hub
	Health    *metrics.HealthStatus
	Snapshots SnapshotStore
}

// Server is the gin HTTP server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        Config
	deps       Deps
	limiter    *rate.Limiter
}

// NewServer builds the router.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.DefaultTimeframe == "" {
		cfg.DefaultTimeframe = "1h"
	}

	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		cfg:     cfg,
		deps:    deps,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	if cfg.AnalyzeRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AnalyzeRate), 1)
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.GET("/patterns", s.handleListPatterns)
	v1.GET("/patterns/:symbol", s.handleSymbolPatterns)
	v1.GET("/report", s.handleReport)
	v1.POST("/analyze", s.handleAnalyze)

	if s.deps.Hub != nil {
		s.router.GET("/ws", func(c *gin.Context) { s.deps.Hub.HandleWS(c.Writer, c.Request) })
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown. It returns nil after a clean shutdown,
// including one that happened before Start was called.
func (s *Server) Start() error {
	zap.L().Info("api: listening", zap.String("addr", s.cfg.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ──────────────────────────────────────────────────────────────
// Handlers
// ──────────────────────────────────────────────────────────────

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "healthy"}
	code := http.StatusOK
	if s.deps.Health != nil {
		rep := s.deps.Health.Snapshot()
		body["status"] = rep.Status
		body["health"] = rep
		if rep.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
	}
	if s.deps.Hub != nil {
		body["ws_clients"] = s.deps.Hub.ClientCount()
	}
	c.JSON(code, body)
}

func (s *Server) handleListPatterns(c *gin.Context) {
	results := s.deps.Collector.All()
	summaries := make([]report.SymbolSummary, 0, len(results))
	for _, res := range results {
		summaries = append(summaries, report.Summarize(res))
	}
	successResponse(c, summaries)
}

// handleSymbolPatterns serves GET /api/v1/patterns/:symbol with optional
// timeframe, type (comma separated) and min_strength filters.
func (s *Server) handleSymbolPatterns(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	tf := c.DefaultQuery("timeframe", s.cfg.DefaultTimeframe)
	if _, err := provider.ParseTimeframe(tf); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	filter, err := parseEventFilter(c.Query("type"), c.Query("min_strength"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	res, ok := s.deps.Collector.Latest(symbol, tf)
	if !ok && s.deps.Snapshots != nil {
		stored, err := s.deps.Snapshots.Latest(c.Request.Context(), symbol, tf)
		if err == nil {
			res, ok = stored, true
		} else {
			zap.L().Debug("api: snapshot lookup failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	if !ok {
		errorResponse(c, http.StatusNotFound, "no analysis for "+symbol+" "+tf)
		return
	}

	res.Events = filter.apply(res.Events)
	successResponse(c, res)
}

func (s *Server) handleReport(c *gin.Context) {
	rep := s.deps.Collector.Report(time.Now())
	if c.Query("format") == "text" {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Status(http.StatusOK)
		if err := report.WriteText(c.Writer, rep); err != nil {
			zap.L().Warn("api: write report", zap.Error(err))
		}
		return
	}
	c.JSON(http.StatusOK, rep)
}

// AnalyzeRequest is the body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	Symbols   []string `json:"symbols" binding:"required,min=1"`
	Timeframe string   `json:"timeframe"`
	Limit     int      `json:"limit" binding:"omitempty,min=1,max=1000"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	if s.deps.Runner == nil {
		errorResponse(c, http.StatusServiceUnavailable, "on-demand analysis is disabled")
		return
	}
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if len(req.Symbols) > maxAnalyzeSymbols {
		errorResponse(c, http.StatusBadRequest, "too many symbols (max "+strconv.Itoa(maxAnalyzeSymbols)+")")
		return
	}
	if req.Timeframe != "" {
		if _, err := provider.ParseTimeframe(req.Timeframe); err != nil {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if !s.limiter.Allow() {
		errorResponse(c, http.StatusTooManyRequests, "analysis rate limit exceeded")
		return
	}

	results := s.deps.Runner.Run(c.Request.Context(), scheduler.Request{
		Trigger:   "api",
		Symbols:   req.Symbols,
		Timeframe: req.Timeframe,
		Limit:     req.Limit,
	})
	successResponse(c, results)
}

// ──────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────

type eventFilter struct {
	types       map[model.PatternType]bool
	minStrength float64
}

func parseEventFilter(types, minStrength string) (eventFilter, error) {
	f := eventFilter{}
	if types != "" {
		f.types = make(map[model.PatternType]bool)
		for _, t := range strings.Split(types, ",") {
			pt := model.PatternType(strings.TrimSpace(t))
			if !pt.Valid() {
				return f, errors.New("unknown pattern type " + string(pt))
			}
			f.types[pt] = true
		}
	}
	if minStrength != "" {
		v, err := strconv.ParseFloat(minStrength, 64)
		if err != nil || v < 0 || v > 1 {
			return f, errors.New("min_strength must be a number in [0,1]")
		}
		f.minStrength = v
	}
	return f, nil
}

func (f eventFilter) apply(events []model.PatternEvent) []model.PatternEvent {
	if f.types == nil && f.minStrength == 0 {
		return events
	}
	out := make([]model.PatternEvent, 0, len(events))
	for _, e := range events {
		if f.types != nil && !f.types[e.Type] {
			continue
		}
		if e.Strength < f.minStrength {
			continue
		}
		out = append(out, e)
	}
	return out
}

// requestLogger logs each request with zap.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
