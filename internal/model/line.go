package model

import (
	"math"
	"sort"
)

// Undefined returns the marker stored at positions where an indicator has
// no value yet (warm-up) or cannot be computed.
func Undefined() float64 { return math.NaN() }

// IsUndefined reports whether v is the undefined marker (or any non-finite value).
func IsUndefined(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

// Line is one indicator output, index-aligned with the source Series.
type Line []float64

// NewLine returns a line of length n with every position undefined.
func NewLine(n int) Line {
	l := make(Line, n)
	for i := range l {
		l[i] = math.NaN()
	}
	return l
}

// At returns the value at i and whether it is defined.
func (l Line) At(i int) (float64, bool) {
	if i < 0 || i >= len(l) || IsUndefined(l[i]) {
		return 0, false
	}
	return l[i], true
}

// FirstDefined returns the index of the first defined value, or -1.
func (l Line) FirstDefined() int {
	for i, v := range l {
		if !IsUndefined(v) {
			return i
		}
	}
	return -1
}

// IndicatorSet maps indicator names (e.g. "SMA_20", "MACD_SIGNAL_12_26_9")
// to their lines.
type IndicatorSet map[string]Line

// Names returns the indicator names in sorted order.
func (s IndicatorSet) Names() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Merge copies every line of other into s, overwriting duplicates.
func (s IndicatorSet) Merge(other IndicatorSet) {
	for k, v := range other {
		s[k] = v
	}
}

// Roles under which detectors look up lines on an Enriched series.
const (
	RoleRSI        = "rsi"
	RoleMACD       = "macd"
	RoleMACDSignal = "macd_signal"
	RoleMACDHist   = "macd_hist"
	RoleMAShort    = "ma_short"
	RoleMALong     = "ma_long"
	RoleATR        = "atr"
)

// Enriched pairs a Series with its computed indicators. Roles alias
// well-known indicator lines so detectors need not know configured periods.
type Enriched struct {
	Series     *Series
	Indicators IndicatorSet
	roles      map[string]string
}

// NewEnriched wraps a series and indicator set.
func NewEnriched(s *Series, ind IndicatorSet) *Enriched {
	if ind == nil {
		ind = IndicatorSet{}
	}
	return &Enriched{Series: s, Indicators: ind, roles: make(map[string]string)}
}

// SetRole aliases role to the named indicator line.
func (e *Enriched) SetRole(role, name string) { e.roles[role] = name }

// Line returns the line registered under a role or an indicator name.
func (e *Enriched) Line(key string) (Line, bool) {
	if name, ok := e.roles[key]; ok {
		key = name
	}
	l, ok := e.Indicators[key]
	return l, ok
}

// RoleName returns the indicator name a role points to.
func (e *Enriched) RoleName(role string) string { return e.roles[role] }
