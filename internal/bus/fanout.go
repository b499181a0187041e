// Package bus fans analysis results out to the sinks that consume them
// (redis publisher, websocket hub, report collector, alerter).
package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/analysis"
)

// FanOut broadcasts results from a single input channel to named
// subscriber channels. A full subscriber misses the result instead of
// blocking the others.
type FanOut struct {
	mu      sync.RWMutex
	subs    []subscriber
	bufSize int

	// OnDrop is called when a result is dropped for a subscriber.
	OnDrop func(name string)
}

type subscriber struct {
	name string
	ch   chan analysis.Result
}

// New creates a FanOut with the given buffer size for subscriber channels.
func New(bufSize int) *FanOut {
	if bufSize < 0 {
		bufSize = 0
	}
	return &FanOut{bufSize: bufSize}
}

// Subscribe registers a named subscriber. The channel is closed when Run
// returns.
func (f *FanOut) Subscribe(name string) <-chan analysis.Result {
	ch := make(chan analysis.Result, f.bufSize)
	f.mu.Lock()
	f.subs = append(f.subs, subscriber{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run forwards input to every subscriber until ctx is cancelled or input
// is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan analysis.Result) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.subs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-input:
			if !ok {
				return
			}
			f.Publish(res)
		}
	}
}

// Publish delivers res to every subscriber without blocking.
func (f *FanOut) Publish(res analysis.Result) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		select {
		case s.ch <- res:
		default:
			if f.OnDrop != nil {
				f.OnDrop(s.name)
			} else {
				zap.L().Warn("bus: subscriber full, dropping result",
					zap.String("subscriber", s.name), zap.String("symbol", res.Symbol))
			}
		}
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the fill level of every subscriber.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.subs))
	for i, s := range f.subs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
