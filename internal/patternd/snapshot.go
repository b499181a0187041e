package patternd

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/analysis"
	redisstore "chart-snapshot-analyzer/internal/store/redis"
)

// snapshotSource reads the last published result for a symbol.
type snapshotSource interface {
	Latest(ctx context.Context, symbol, timeframe string) (analysis.Result, error)
}

// restoreLatest seeds the collector and the hub with the results the
// previous run left in redis, so the API and new websocket clients have
// data before the first batch completes.
func (svc *Service) restoreLatest(ctx context.Context) {
	if svc.publisher == nil {
		return
	}
	n := restoreFrom(ctx, svc.publisher, svc.cfg.Batch.Symbols, svc.cfg.Data.Timeframe, func(res analysis.Result) {
		svc.collector.Add(res)
		svc.hub.Broadcast(res)
	})
	if n > 0 {
		zap.L().Info("restored published results", zap.Int("symbols", n))
	}
}

func restoreFrom(ctx context.Context, src snapshotSource, symbols []string, timeframe string, add func(analysis.Result)) int {
	restored := 0
	for _, sym := range symbols {
		readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		res, err := src.Latest(readCtx, sym, timeframe)
		cancel()
		switch {
		case errors.Is(err, redisstore.ErrNoSnapshot):
			continue
		case err != nil:
			zap.L().Warn("snapshot read failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		add(res)
		restored++
	}
	return restored
}

// pruneLoop drops cached bars older than data.retention once an hour.
func (svc *Service) pruneLoop(ctx context.Context) {
	prune := func() {
		cutoff := time.Now().Add(-svc.cfg.Data.Retention)
		n, err := svc.bars.Prune(ctx, cutoff)
		if err != nil {
			zap.L().Warn("bar cache prune failed", zap.Error(err))
			return
		}
		if n > 0 {
			zap.L().Info("bar cache pruned", zap.Int64("rows", n), zap.Time("before", cutoff))
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
