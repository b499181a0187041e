package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/model"
)

// maxSeen bounds the dedupe set. It is reset when full.
const maxSeen = 10000

// Alerter turns analysis results into alerts. Only events on the most
// recent bars of a series are sent, and each event is sent once.
type Alerter struct {
	notifier Notifier

	// MinStrength drops events weaker than this.
	MinStrength float64
	// RecentBars is how many trailing bars count as fresh. Zero means 1.
	RecentBars int
	// Types restricts alerts to these pattern types. Empty means all.
	Types map[model.PatternType]bool

	// OnSent reports each delivery attempt as "sent" or "failed".
	OnSent func(status string)

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewAlerter creates an Alerter that delivers through n.
func NewAlerter(n Notifier, minStrength float64, recentBars int, types []string) *Alerter {
	a := &Alerter{
		notifier:    n,
		MinStrength: minStrength,
		RecentBars:  recentBars,
		seen:        make(map[string]struct{}),
	}
	if len(types) > 0 {
		a.Types = make(map[model.PatternType]bool, len(types))
		for _, t := range types {
			a.Types[model.PatternType(t)] = true
		}
	}
	return a
}

// Run consumes results until ctx is cancelled or in is closed.
func (a *Alerter) Run(ctx context.Context, in <-chan analysis.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-in:
			if !ok {
				return
			}
			a.Handle(ctx, res)
		}
	}
}

// Handle sends an alert for every fresh event in res. It returns the
// number of alerts delivered. An event whose delivery failed stays fresh
// and is tried again with the next result.
func (a *Alerter) Handle(ctx context.Context, res analysis.Result) int {
	if res.Failed() {
		return 0
	}
	sent := 0
	for _, c := range a.fresh(res) {
		e := c.event
		err := a.notifier.Send(ctx, alertFor(res.Timeframe, e))
		status := "sent"
		if err != nil {
			status = "failed"
			zap.L().Warn("alert delivery failed",
				zap.String("symbol", e.Symbol),
				zap.String("type", string(e.Type)),
				zap.Error(err))
		} else {
			a.markSent(c.key)
			sent++
		}
		if a.OnSent != nil {
			a.OnSent(status)
		}
	}
	return sent
}

type candidate struct {
	key   string
	event model.PatternEvent
}

// fresh returns the events of res worth alerting on that were not sent yet.
func (a *Alerter) fresh(res analysis.Result) []candidate {
	recent := a.RecentBars
	if recent <= 0 {
		recent = 1
	}
	from := res.Bars - recent

	a.mu.Lock()
	defer a.mu.Unlock()

	var out []candidate
	batch := make(map[string]bool)
	for _, e := range res.Events {
		if e.Index < from || e.Strength < a.MinStrength {
			continue
		}
		if a.Types != nil && !a.Types[e.Type] {
			continue
		}
		key := fmt.Sprintf("%s|%s|%s|%d", e.Symbol, res.Timeframe, e.Type, e.Time.UnixNano())
		if _, dup := a.seen[key]; dup || batch[key] {
			continue
		}
		batch[key] = true
		out = append(out, candidate{key: key, event: e})
	}
	return out
}

func (a *Alerter) markSent(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.seen) >= maxSeen {
		a.seen = make(map[string]struct{})
	}
	a.seen[key] = struct{}{}
}

func levelFor(strength float64) AlertLevel {
	switch {
	case strength >= 0.8:
		return AlertCritical
	case strength >= 0.5:
		return AlertWarning
	default:
		return AlertInfo
	}
}

func alertFor(timeframe string, e model.PatternEvent) Alert {
	return Alert{
		Level: levelFor(e.Strength),
		Title: fmt.Sprintf("%s %s %s", e.Symbol, timeframe, e.Type),
		Message: fmt.Sprintf("%s at %s, strength %.2f",
			e.Type, e.Time.UTC().Format("2006-01-02 15:04"), e.Strength),
	}
}
