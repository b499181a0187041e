package report

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chart-snapshot-analyzer/internal/analysis"
)

// Collector keeps the newest result per symbol/timeframe. It is the
// in-process store behind the REST API and the periodic report.
type Collector struct {
	mu     sync.RWMutex
	latest map[string]analysis.Result
	runID  string
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{latest: make(map[string]analysis.Result)}
}

func key(symbol, timeframe string) string {
	return strings.ToUpper(symbol) + ":" + timeframe
}

// Add stores res, replacing an older result for the same symbol and
// timeframe. A failed result does not replace a successful one.
func (c *Collector) Add(res analysis.Result) {
	k := key(res.Symbol, res.Timeframe)
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.latest[k]; ok && res.Failed() && !prev.Failed() {
		return
	}
	c.latest[k] = res
	if res.RunID != "" {
		c.runID = res.RunID
	}
}

// Run adds every result from in until ctx is cancelled or in closes.
func (c *Collector) Run(ctx context.Context, in <-chan analysis.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-in:
			if !ok {
				return
			}
			c.Add(res)
		}
	}
}

// Latest returns the stored result for symbol/timeframe.
func (c *Collector) Latest(symbol, timeframe string) (analysis.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.latest[key(symbol, timeframe)]
	return res, ok
}

// Symbol returns the stored results for symbol across timeframes.
func (c *Collector) Symbol(symbol string) []analysis.Result {
	prefix := strings.ToUpper(symbol) + ":"
	c.mu.RLock()
	var out []analysis.Result
	for k, res := range c.latest {
		if strings.HasPrefix(k, prefix) {
			out = append(out, res)
		}
	}
	c.mu.RUnlock()
	sortResults(out)
	return out
}

// All returns every stored result ordered by symbol then timeframe.
func (c *Collector) All() []analysis.Result {
	c.mu.RLock()
	out := make([]analysis.Result, 0, len(c.latest))
	for _, res := range c.latest {
		out = append(out, res)
	}
	c.mu.RUnlock()
	sortResults(out)
	return out
}

// Report summarises everything collected so far.
func (c *Collector) Report(now time.Time) Report {
	c.mu.RLock()
	runID := c.runID
	c.mu.RUnlock()
	return Build(runID, c.All(), now)
}

func sortResults(rs []analysis.Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Symbol != rs[j].Symbol {
			return rs[i].Symbol < rs[j].Symbol
		}
		return rs[i].Timeframe < rs[j].Timeframe
	})
}
