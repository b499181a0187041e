package redis

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/analysis"
)

// BufferedPublisher holds results back while the breaker is open and
// replays them when it closes. Only the newest result per
// symbol/timeframe is kept since older ones would be overwritten anyway.
type BufferedPublisher struct {
	pub *Publisher
	ctx context.Context

	mu      sync.Mutex
	pending map[string]analysis.Result
	order   []string
	maxBuf  int

	OnBuffer func()          // a result was held back
	OnFlush  func(count int) // held results were replayed
}

// NewBufferedPublisher wraps p. maxBuffer <= 0 defaults to 1000 symbols.
func NewBufferedPublisher(ctx context.Context, p *Publisher, maxBuffer int) *BufferedPublisher {
	if maxBuffer <= 0 {
		maxBuffer = 1000
	}
	bp := &BufferedPublisher{
		pub:     p,
		ctx:     ctx,
		pending: make(map[string]analysis.Result),
		maxBuf:  maxBuffer,
	}

	prev := p.cb.OnStateChange
	p.cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// Publish publishes res, or holds it if the breaker is open.
func (bp *BufferedPublisher) Publish(ctx context.Context, res analysis.Result) error {
	err := bp.pub.Publish(ctx, res)
	if err == ErrCircuitOpen {
		bp.hold(res)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) hold(res analysis.Result) {
	key := LatestKey(res.Symbol, res.Timeframe)

	bp.mu.Lock()
	defer bp.mu.Unlock()

	if _, ok := bp.pending[key]; !ok {
		if len(bp.order) >= bp.maxBuf {
			oldest := bp.order[0]
			bp.order = bp.order[1:]
			delete(bp.pending, oldest)
		}
		bp.order = append(bp.order, key)
	}
	bp.pending[key] = res

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.order) == 0 {
		bp.mu.Unlock()
		return
	}
	batch := make([]analysis.Result, 0, len(bp.order))
	for _, k := range bp.order {
		batch = append(batch, bp.pending[k])
	}
	bp.pending = make(map[string]analysis.Result)
	bp.order = nil
	bp.mu.Unlock()

	if err := bp.pub.PublishBatch(bp.ctx, batch); err != nil {
		zap.L().Warn("redis: replay of held results failed", zap.Int("results", len(batch)), zap.Error(err))
		for _, r := range batch {
			bp.hold(r)
		}
		return
	}
	zap.L().Info("redis: replayed held results", zap.Int("results", len(batch)))
	if bp.OnFlush != nil {
		bp.OnFlush(len(batch))
	}
}

// PendingCount returns the number of held results.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.order)
}

// Underlying returns the wrapped publisher.
func (bp *BufferedPublisher) Underlying() *Publisher { return bp.pub }
