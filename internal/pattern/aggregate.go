package pattern

import (
	"sort"
	"time"

	"chart-snapshot-analyzer/internal/model"
)

// Aggregate merges detector outputs into one list ordered by (timestamp,
// type, symbol). Events of the same symbol and type that fall within the
// merge window of a cluster's first event collapse to the strongest one;
// on equal strength the earlier event wins. Input slices are not modified.
func Aggregate(lists [][]model.PatternEvent, opts AggregateOptions) []model.PatternEvent {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	all := make([]model.PatternEvent, 0, total)
	for _, l := range lists {
		all = append(all, l...)
	}

	type groupKey struct {
		symbol string
		typ    model.PatternType
	}
	groups := make(map[groupKey][]model.PatternEvent)
	var order []groupKey
	for _, ev := range all {
		k := groupKey{ev.Symbol, ev.Type}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ev)
	}

	out := make([]model.PatternEvent, 0, len(all))
	for _, k := range order {
		g := groups[k]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Time.Before(g[j].Time) })

		anchor, best := g[0], g[0]
		for _, ev := range g[1:] {
			if withinWindow(anchor, ev, opts) {
				if ev.Strength > best.Strength {
					best = ev
				}
				continue
			}
			out = append(out, best)
			anchor, best = ev, ev
		}
		out = append(out, best)
	}

	sortEvents(out)
	return out
}

func withinWindow(anchor, ev model.PatternEvent, opts AggregateOptions) bool {
	switch {
	case opts.MergeBars > 0:
		return ev.Index-anchor.Index <= opts.MergeBars
	case opts.MergeWindow > 0:
		return ev.Time.Sub(anchor.Time) <= opts.MergeWindow
	default:
		return ev.Time.Equal(anchor.Time)
	}
}

// sortEvents orders by timestamp, then type, then symbol.
func sortEvents(evs []model.PatternEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Symbol < b.Symbol
	})
}

func sortByIndex(evs []model.PatternEvent) {
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Index < evs[j].Index })
}

// Span returns the time range covered by evs. ok is false for an empty list.
func Span(evs []model.PatternEvent) (first, last time.Time, ok bool) {
	if len(evs) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, last = evs[0].Time, evs[0].Time
	for _, ev := range evs[1:] {
		if ev.Time.Before(first) {
			first = ev.Time
		}
		if ev.Time.After(last) {
			last = ev.Time
		}
	}
	return first, last, true
}
