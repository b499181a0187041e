package model

import (
	"encoding/json"
	"math"
	"time"
)

// PatternType is the closed set of event labels the detectors produce.
type PatternType string

const (
	BreakoutResistance    PatternType = "breakout_resistance"
	BreakoutSupport       PatternType = "breakout_support"
	DivergenceBullish     PatternType = "divergence_bullish"
	DivergenceBearish     PatternType = "divergence_bearish"
	TrendMACrossBullish   PatternType = "trend_ma_cross_bullish"
	TrendMACrossBearish   PatternType = "trend_ma_cross_bearish"
	TrendMACDCrossBullish PatternType = "trend_macd_cross_bullish"
	TrendMACDCrossBearish PatternType = "trend_macd_cross_bearish"
	TrendRSIOverbought    PatternType = "trend_rsi_overbought"
	TrendRSIOversold      PatternType = "trend_rsi_oversold"
)

// AllPatternTypes lists every PatternType in declaration order.
var AllPatternTypes = []PatternType{
	BreakoutResistance, BreakoutSupport,
	DivergenceBullish, DivergenceBearish,
	TrendMACrossBullish, TrendMACrossBearish,
	TrendMACDCrossBullish, TrendMACDCrossBearish,
	TrendRSIOverbought, TrendRSIOversold,
}

// Valid reports whether t is one of the known pattern types.
func (t PatternType) Valid() bool {
	for _, k := range AllPatternTypes {
		if k == t {
			return true
		}
	}
	return false
}

// PatternEvent is a labeled, timestamped pattern occurrence. Events are
// read-only once built with NewPatternEvent.
type PatternEvent struct {
	Type      PatternType        `json:"type"`
	Symbol    string             `json:"symbol"`
	Time      time.Time          `json:"ts"`    // equals a bar timestamp of the source series
	Index     int                `json:"index"` // bar position in the source series
	Strength  float64            `json:"strength"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Confirmed bool               `json:"confirmed"`
}

// EventKey is the identity of a PatternEvent.
type EventKey struct {
	Type   PatternType
	Symbol string
	Time   int64 // unix nanos
}

// NewPatternEvent builds an event, clamping strength into [0,1] and copying
// metrics so the caller's map can be reused.
func NewPatternEvent(t PatternType, symbol string, bar Bar, index int, strength float64, metrics map[string]float64, confirmed bool) PatternEvent {
	var m map[string]float64
	if len(metrics) > 0 {
		m = make(map[string]float64, len(metrics))
		for k, v := range metrics {
			m[k] = v
		}
	}
	return PatternEvent{
		Type:      t,
		Symbol:    symbol,
		Time:      bar.Time,
		Index:     index,
		Strength:  Clamp01(strength),
		Metrics:   m,
		Confirmed: confirmed,
	}
}

// Key returns the (type, symbol, timestamp) identity of the event.
func (e PatternEvent) Key() EventKey {
	return EventKey{Type: e.Type, Symbol: e.Symbol, Time: e.Time.UnixNano()}
}

// Equal reports identity equality, ignoring strength and metrics.
func (e PatternEvent) Equal(o PatternEvent) bool { return e.Key() == o.Key() }

// Metric returns a named metric and whether it is present.
func (e PatternEvent) Metric(name string) (float64, bool) {
	v, ok := e.Metrics[name]
	return v, ok
}

// JSON returns the JSON-encoded event.
func (e *PatternEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Clamp01 clips v into [0,1]. Non-finite values map to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, -1) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
