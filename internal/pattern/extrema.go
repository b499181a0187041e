package pattern

import "chart-snapshot-analyzer/internal/model"

// extremumKind distinguishes troughs from peaks.
type extremumKind int

const (
	trough extremumKind = iota
	peak
)

// isLocalExtremum applies the ±1 neighbour rule at j: strictly beyond the
// left neighbour and at least as far as the right one. A flat-bottomed
// (or flat-topped) run therefore resolves to its earliest index. Undefined
// values never form an extremum.
func isLocalExtremum(v []float64, j int, kind extremumKind) bool {
	if j <= 0 || j >= len(v)-1 {
		return false
	}
	l, c, r := v[j-1], v[j], v[j+1]
	if model.IsUndefined(l) || model.IsUndefined(c) || model.IsUndefined(r) {
		return false
	}
	if kind == trough {
		return l > c && c <= r
	}
	return l < c && c >= r
}

// localExtrema returns every index of v satisfying isLocalExtremum, ascending.
func localExtrema(v []float64, kind extremumKind) []int {
	var out []int
	for j := 1; j < len(v)-1; j++ {
		if isLocalExtremum(v, j, kind) {
			out = append(out, j)
		}
	}
	return out
}

// lastTwoIn returns the two greatest indices in idx that fall within
// [lo, hi]. idx must be ascending. ok is false when fewer than two qualify.
func lastTwoIn(idx []int, lo, hi int) (first, second int, ok bool) {
	found := 0
	for k := len(idx) - 1; k >= 0; k-- {
		j := idx[k]
		if j > hi {
			continue
		}
		if j < lo {
			break
		}
		if found == 0 {
			second = j
		} else {
			first = j
			return first, second, true
		}
		found++
	}
	return 0, 0, false
}
