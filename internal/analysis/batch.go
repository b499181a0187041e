package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chart-snapshot-analyzer/internal/logger"
	"chart-snapshot-analyzer/internal/model"
)

// BatchOptions controls RunBatch.
type BatchOptions struct {
	Timeframe     string
	Limit         int           // bars requested per symbol
	Workers       int           // concurrent symbols; <= 0 means 1
	SymbolTimeout time.Duration // fetch budget per symbol; 0 disables
}

// RunBatch fetches and analyses every symbol with at most opts.Workers in
// flight. Results keep the order of symbols. A failing or panicking symbol
// only marks its own Result; siblings keep running. The run ID comes from
// the context trace ID, or a fresh UUID.
func (a *Analyzer) RunBatch(ctx context.Context, p model.Provider, symbols []string, opts BatchOptions) []Result {
	runID := logger.TraceID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = logger.WithTraceID(ctx, runID)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make([]Result, len(symbols))
	var g errgroup.Group
	g.SetLimit(workers)

	start := time.Now()
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			results[i] = a.runSymbol(ctx, p, sym, opts)
			results[i].RunID = runID
			return nil
		})
	}
	_ = g.Wait()

	failed, events := 0, 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
		events += len(r.Events)
	}
	zap.L().Info("batch complete",
		append(logger.LogWithTrace(ctx),
			zap.Int("symbols", len(symbols)),
			zap.Int("failed", failed),
			zap.Int("events", events),
			zap.Duration("took", time.Since(start)))...)
	return results
}

func (a *Analyzer) runSymbol(ctx context.Context, p model.Provider, symbol string, opts BatchOptions) (res Result) {
	res = Result{Symbol: symbol, Timeframe: opts.Timeframe}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("panic recovered during analysis",
				append(logger.LogWithTrace(ctx), zap.String("symbol", symbol), zap.Any("panic", r))...)
			res = Result{Symbol: symbol, Timeframe: opts.Timeframe}
			res.fail(fmt.Errorf("analysis %s: panic: %v", symbol, r))
		}
	}()

	if err := ctx.Err(); err != nil {
		res.fail(err)
		return res
	}

	fetchCtx := ctx
	if opts.SymbolTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, opts.SymbolTimeout)
		defer cancel()
	}

	series, err := p.Fetch(fetchCtx, symbol, opts.Timeframe, opts.Limit)
	if err != nil {
		zap.L().Warn("fetch failed",
			append(logger.LogWithTrace(ctx), zap.String("symbol", symbol), zap.Error(err))...)
		res.fail(fmt.Errorf("fetch %s: %w", symbol, err))
		return res
	}

	res = a.Analyze(series)
	if res.Failed() {
		zap.L().Warn("analysis failed",
			append(logger.LogWithTrace(ctx), zap.String("symbol", symbol), zap.Error(res.Err))...)
	}
	return res
}
