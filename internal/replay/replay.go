// Package replay walks a bar series forward one bar at a time and runs the
// analyzer on every prefix, so events surface at the bar where a live run
// would first have seen them.
package replay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/provider"
)

// maxSleep caps the simulated gap between two bars.
const maxSleep = 5 * time.Second

// Step is the outcome of one replayed bar.
type Step struct {
	Index int                  `json:"index"`
	Bar   model.Bar            `json:"bar"`
	New   []model.PatternEvent `json:"new"` // events not reported by any earlier step
}

// Replayer replays series through an analyzer.
type Replayer struct {
	analyzer *analysis.Analyzer

	// Warmup is the number of bars analysed before the first step.
	Warmup int
	// Speed controls the playback rate: 1 = one bar per bar duration,
	// 100 = 100x, 0 = as fast as possible.
	Speed float64
}

// New creates a Replayer.
func New(a *analysis.Analyzer, warmup int, speed float64) *Replayer {
	return &Replayer{analyzer: a, Warmup: warmup, Speed: speed}
}

// Run emits one Step per bar from the end of the warm-up into out and
// closes it. The first step carries every event of the warm-up prefix.
// It returns ctx.Err() when cancelled.
func (r *Replayer) Run(ctx context.Context, s *model.Series, out chan<- Step) error {
	defer close(out)

	barDur, err := provider.ParseTimeframe(s.Timeframe())
	if err != nil {
		return err
	}
	start := r.Warmup
	if start < 1 {
		start = 1
	}
	if start > s.Len() {
		start = s.Len()
	}

	bars := s.Bars()
	seen := make(map[eventKey]bool)
	emitted := 0
	for i := start; i <= len(bars); i++ {
		if i > start && r.Speed > 0 {
			gap := time.Duration(float64(barDur) / r.Speed)
			if gap > maxSleep {
				gap = maxSleep
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(gap):
			}
		}

		prefix, err := model.NewSeries(s.Symbol(), s.Timeframe(), bars[:i])
		if err != nil {
			return err
		}
		res := r.analyzer.Analyze(prefix)
		if res.Err != nil {
			return res.Err
		}

		step := Step{Index: i - 1, Bar: bars[i-1]}
		for _, e := range res.Events {
			k := eventKey{e.Type, e.Time.UnixNano()}
			if seen[k] {
				continue
			}
			seen[k] = true
			step.New = append(step.New, e)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- step:
		}
		emitted++
	}

	zap.L().Debug("replay completed", zap.String("symbol", s.Symbol()),
		zap.Int("steps", emitted), zap.Int("events", len(seen)))
	return nil
}

type eventKey struct {
	typ  model.PatternType
	nano int64
}
