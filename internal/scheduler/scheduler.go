// Package scheduler runs analysis batches on a cron schedule and on
// demand, handing every result to a sink.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/logger"
	"chart-snapshot-analyzer/internal/model"
)

// Request describes one batch. Zero fields fall back to the runner's
// defaults.
type Request struct {
	Trigger   string   // "cron", "startup", "api"
	Symbols   []string
	Timeframe string
	Limit     int
}

// Runner executes batches and dispatches their results.
type Runner struct {
	Analyzer *analysis.Analyzer
	Provider model.Provider
	Symbols  []string
	Batch    analysis.BatchOptions

	// Sink receives every result, in symbol order.
	Sink func(analysis.Result)
	// OnBatch is called once per batch after all results were sunk.
	OnBatch func(trigger, runID string, results []analysis.Result, took time.Duration)

	mu sync.Mutex // one batch at a time
}

// Run executes req and returns its results. Concurrent calls are
// serialised.
func (r *Runner) Run(ctx context.Context, req Request) []analysis.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	opts := r.Batch
	if req.Timeframe != "" {
		opts.Timeframe = req.Timeframe
	}
	if req.Limit > 0 {
		opts.Limit = req.Limit
	}
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = r.Symbols
	}
	symbols = normalize(symbols)
	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	start := time.Now()
	runID := logger.GenerateTraceID(trigger, start)
	ctx = logger.WithTraceID(ctx, runID)

	zap.L().Info("batch starting",
		append(logger.LogWithTrace(ctx),
			zap.String("trigger", trigger),
			zap.Strings("symbols", symbols),
			zap.String("timeframe", opts.Timeframe))...)

	results := r.Analyzer.RunBatch(ctx, r.Provider, symbols, opts)
	if r.Sink != nil {
		for _, res := range results {
			r.Sink(res)
		}
	}
	if r.OnBatch != nil {
		r.OnBatch(trigger, runID, results, time.Since(start))
	}
	return results
}

func normalize(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Scheduler triggers Runner.Run from a cron spec. A tick that fires while
// the previous batch is still running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	ctx    context.Context
	spec   string
}

// New parses spec (standard 5-field cron or a descriptor such as
// "@every 5m") and registers the batch job.
func New(ctx context.Context, spec string, runner *Runner) (*Scheduler, error) {
	log := cronLogger{zap.S()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
		runner: runner,
		ctx:    ctx,
		spec:   spec,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.runner.Run(s.ctx, Request{Trigger: "cron"}) }); err != nil {
		return nil, fmt.Errorf("register batch job %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	zap.L().Info("scheduler started", zap.String("spec", s.spec), zap.Time("next", s.Next()))
}

// Stop stops the cron loop and waits for a running batch to finish or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	zap.L().Info("scheduler stopped")
}

// RunNow runs a batch immediately on the caller's goroutine.
func (s *Scheduler) RunNow(trigger string) []analysis.Result {
	return s.runner.Run(s.ctx, Request{Trigger: trigger})
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
