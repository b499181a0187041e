// Package patternd is the pattern daemon. It runs analysis batches on a
// cron schedule and fans the results out to the websocket hub, the redis
// publisher, the in-memory report collector and the alerter, while
// serving the REST API and the metrics endpoint.
package patternd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chart-snapshot-analyzer/config"
	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/api"
	"chart-snapshot-analyzer/internal/bus"
	"chart-snapshot-analyzer/internal/gateway"
	"chart-snapshot-analyzer/internal/metrics"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/notify"
	"chart-snapshot-analyzer/internal/report"
	"chart-snapshot-analyzer/internal/scheduler"
	redisstore "chart-snapshot-analyzer/internal/store/redis"
	sqlitestore "chart-snapshot-analyzer/internal/store/sqlite"
)

const (
	sinkBuffer       = 256
	livenessInterval = 15 * time.Second
	pruneInterval    = time.Hour
	shutdownTimeout  = 10 * time.Second
)

// Service is the top-level orchestrator. It wires all dependencies,
// manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg config.Config

	registry *prometheus.Registry
	prom     *metrics.Metrics
	health   *metrics.HealthStatus

	provider  model.Provider
	bars      *sqlitestore.Store    // nil without data.sqlite_path
	publisher *redisstore.Publisher // nil without redis.addr
	fanout    *bus.FanOut
	hub       *gateway.Hub
	collector *report.Collector
	alerter   *notify.Alerter // nil unless notify.enabled
	runner    *scheduler.Runner

	apiServer     *api.Server
	metricsServer *metrics.Server
}

// New builds the service from cfg. It opens the bar cache and connects
// to redis when they are configured; a redis that cannot be reached is
// logged and the daemon runs without it.
func New(cfg config.Config) (*Service, error) {
	svc := &Service{
		cfg:       cfg,
		registry:  prometheus.NewRegistry(),
		health:    metrics.NewHealthStatus(),
		fanout:    bus.New(sinkBuffer),
		collector: report.NewCollector(),
	}
	svc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc.prom = metrics.NewMetrics(svc.registry)

	analyzer, err := analysis.NewAnalyzer(analysis.OptionsFromConfig(cfg), svc.prom)
	if err != nil {
		return nil, err
	}

	// ---- Bar source and cache ----
	svc.provider, svc.bars, err = BuildProvider(cfg.Data)
	if err != nil {
		return nil, err
	}
	if svc.bars != nil {
		svc.health.EnableSQLite()
	}

	// ---- Redis publisher ----
	if cfg.Redis.Addr != "" {
		svc.health.EnableRedis()
		svc.publisher, err = redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			zap.L().Warn("redis unavailable, publishing disabled", zap.Error(err))
			svc.publisher = nil
		}
	}

	// ---- Fan-out and sinks ----
	svc.fanout.OnDrop = svc.prom.FanoutDropped
	svc.hub = gateway.NewHub(originChecker(cfg.Server.AllowOrigins))
	svc.hub.OnClientCount = func(n int) { svc.prom.WSClients.Set(float64(n)) }
	if cfg.Notify.Enabled {
		svc.alerter = notify.NewAlerter(buildNotifier(cfg.Notify), cfg.Notify.MinStrength, cfg.Notify.RecentBars, cfg.Notify.Types)
		svc.alerter.OnSent = svc.prom.AlertSent
	}

	svc.runner = &scheduler.Runner{
		Analyzer: analyzer,
		Provider: svc.provider,
		Symbols:  cfg.Batch.Symbols,
		Batch: analysis.BatchOptions{
			Timeframe:     cfg.Data.Timeframe,
			Limit:         cfg.Data.Limit,
			Workers:       cfg.Batch.Workers,
			SymbolTimeout: cfg.Batch.SymbolTimeout,
		},
		Sink:    svc.fanout.Publish,
		OnBatch: svc.batchFinished,
	}

	// ---- HTTP surfaces ----
	deps := api.Deps{
		Collector: svc.collector,
		Runner:    svc.runner,
		Hub:       svc.hub,
		Health:    svc.health,
	}
	if svc.publisher != nil {
		deps.Snapshots = svc.publisher
	}
	svc.apiServer = api.NewServer(api.Config{
		Addr:             cfg.Server.HTTPAddr,
		AllowOrigins:     corsOrigins(cfg.Server.AllowOrigins),
		ProductionMode:   cfg.Log.Level != "debug",
		DefaultTimeframe: cfg.Data.Timeframe,
		AnalyzeRate:      cfg.Server.AnalyzeRate,
	}, deps)
	if cfg.Server.MetricsAddr != "" {
		svc.metricsServer = metrics.NewServer(cfg.Server.MetricsAddr, svc.health, svc.registry)
	}

	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled or an HTTP
// server fails.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	zap.L().Info("patternd: starting",
		zap.Strings("symbols", cfg.Batch.Symbols),
		zap.String("timeframe", cfg.Data.Timeframe),
		zap.String("provider", cfg.Data.Provider),
		zap.String("schedule", cfg.Schedule.Cron))

	g, ctx := errgroup.WithContext(ctx)
	sched, err := scheduler.New(ctx, cfg.Schedule.Cron, svc.runner)
	if err != nil {
		return err
	}

	// ---- Restore the last published results ----
	svc.restoreLatest(ctx)

	// ---- Sinks ----
	hubCh := svc.fanout.Subscribe("ws")
	collectorCh := svc.fanout.Subscribe("collector")
	g.Go(func() error { svc.hub.Run(ctx, hubCh); return nil })
	g.Go(func() error { svc.collector.Run(ctx, collectorCh); return nil })
	if svc.alerter != nil {
		alertCh := svc.fanout.Subscribe("notify")
		g.Go(func() error { svc.alerter.Run(ctx, alertCh); return nil })
	}

	if svc.publisher != nil {
		out := redisstore.NewBufferedPublisher(ctx, svc.publisher, 0)
		prev := svc.publisher.Breaker().OnStateChange
		svc.publisher.Breaker().OnStateChange = func(from, to redisstore.State) {
			if prev != nil {
				prev(from, to)
			}
			svc.prom.BreakerStateChanged(int(to))
		}
		out.OnBuffer = svc.prom.RedisHeldResults.Inc
		redisCh := svc.fanout.Subscribe("redis")
		g.Go(func() error { svc.publishLoop(ctx, redisCh, out); return nil })
	}

	// ---- Background maintenance ----
	svc.health.StartLivenessChecker(ctx, svc.redisClient(), svc.sqlDB(), livenessInterval)
	if svc.bars != nil && cfg.Data.Retention > 0 {
		g.Go(func() error { svc.pruneLoop(ctx); return nil })
	}

	// ---- Schedule ----
	sched.Start()
	g.Go(func() error {
		sched.RunNow("startup")
		return nil
	})

	// ---- HTTP ----
	g.Go(func() error {
		if err := svc.apiServer.Start(); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	if svc.metricsServer != nil {
		svc.metricsServer.Start()
	}

	zap.L().Info("patternd: all systems running",
		zap.String("api", cfg.Server.HTTPAddr),
		zap.String("metrics", cfg.Server.MetricsAddr),
		zap.Time("next_run", sched.Next()))

	// Block until cancelled or a server fails
	<-ctx.Done()

	// ---- Graceful shutdown ----
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sched.Stop(shutCtx)
	if err := svc.apiServer.Shutdown(shutCtx); err != nil {
		zap.L().Warn("api shutdown", zap.Error(err))
	}
	if svc.metricsServer != nil {
		svc.metricsServer.Stop(shutCtx)
	}
	svc.hub.Close()

	err = g.Wait()
	svc.close()
	zap.L().Info("patternd: shutdown complete")
	return err
}

func (svc *Service) close() {
	if svc.publisher != nil {
		svc.publisher.Close()
	}
	if svc.bars != nil {
		svc.bars.Close()
	}
}

// batchFinished feeds batch outcomes to metrics and /healthz.
func (svc *Service) batchFinished(trigger, runID string, results []analysis.Result, took time.Duration) {
	now := time.Now()
	failed, events := 0, 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
		events += len(r.Events)
	}
	svc.prom.BatchFinished(trigger, took, now)
	svc.health.RecordRun(runID, now, len(results), failed)

	zap.L().Info("batch finished",
		zap.String("run_id", runID),
		zap.String("trigger", trigger),
		zap.Int("symbols", len(results)),
		zap.Int("failed", failed),
		zap.Int("events", events),
		zap.Duration("took", took))
}

// publishLoop hands every result to the redis publisher. Results are held
// by the publisher while its breaker is open.
func (svc *Service) publishLoop(ctx context.Context, in <-chan analysis.Result, out *redisstore.BufferedPublisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-in:
			if !ok {
				return
			}
			pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := out.Publish(pubCtx, res)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				zap.L().Warn("redis publish failed", zap.String("symbol", res.Symbol), zap.Error(err))
			}
		}
	}
}

// buildNotifier always logs alerts and adds the webhook and Telegram
// channels that are configured.
func buildNotifier(cfg config.NotifyConfig) notify.Notifier {
	n := notify.Multi{notify.LogNotifier{}}
	if cfg.WebhookURL != "" {
		n = append(n, notify.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramToken != "" {
		n = append(n, notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	return n
}

func (svc *Service) redisClient() *goredis.Client {
	if svc.publisher == nil {
		return nil
	}
	return svc.publisher.Client()
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.bars == nil {
		return nil
	}
	return svc.bars.DB()
}

// originChecker turns the configured origins into the hub's check. A "*"
// entry or an empty list accepts every origin.
func originChecker(origins []string) func(string) bool {
	allowed := corsOrigins(origins)
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(origin string) bool { return set[origin] }
}

// corsOrigins drops the list entirely when it contains "*".
func corsOrigins(origins []string) []string {
	for _, o := range origins {
		if o == "*" {
			return nil
		}
	}
	return origins
}
