package analysis

import "chart-snapshot-analyzer/internal/model"

// Signals is the indicator snapshot at the last bar of a series. A part is
// nil when its lines were not computed or are undefined at the last bar.
type Signals struct {
	RSI   *RSISignal  `json:"rsi,omitempty"`
	MACD  *MACDSignal `json:"macd,omitempty"`
	Trend *TrendBias  `json:"trend,omitempty"`
}

// RSISignal is the last RSI value against the trend thresholds.
type RSISignal struct {
	Value      float64 `json:"value"`
	Overbought bool    `json:"overbought"`
	Oversold   bool    `json:"oversold"`
}

// MACDSignal is the last MACD reading. The cross flags are set only when
// the macd line crossed its signal on the last bar.
type MACDSignal struct {
	MACD         float64 `json:"macd"`
	Signal       float64 `json:"signal"`
	Histogram    float64 `json:"histogram"`
	BullishCross bool    `json:"bullish_cross"`
	BearishCross bool    `json:"bearish_cross"`
}

// TrendBias compares the short and long moving averages at the last bar.
type TrendBias struct {
	Short   string  `json:"short"` // indicator names, e.g. SMA_20
	Long    string  `json:"long"`
	ShortMA float64 `json:"short_ma"`
	LongMA  float64 `json:"long_ma"`
	Bullish bool    `json:"bullish"`
}

// Empty reports whether no part of the snapshot could be built.
func (s Signals) Empty() bool { return s.RSI == nil && s.MACD == nil && s.Trend == nil }

// BuildSignals reads the last bar of every role line in e. RSI flags use
// strict comparisons against overbought and oversold.
func BuildSignals(e *model.Enriched, overbought, oversold float64) Signals {
	var out Signals
	if e == nil || e.Series == nil || e.Series.Len() == 0 {
		return out
	}
	last := e.Series.Len() - 1

	if rsi, ok := e.Line(model.RoleRSI); ok {
		if v, ok := rsi.At(last); ok {
			out.RSI = &RSISignal{Value: v, Overbought: v > overbought, Oversold: v < oversold}
		}
	}

	macd, okM := e.Line(model.RoleMACD)
	signal, okS := e.Line(model.RoleMACDSignal)
	if okM && okS {
		m, ok1 := macd.At(last)
		s, ok2 := signal.At(last)
		if ok1 && ok2 {
			ms := &MACDSignal{MACD: m, Signal: s, Histogram: m - s}
			if h, ok := e.Line(model.RoleMACDHist); ok {
				if v, ok := h.At(last); ok {
					ms.Histogram = v
				}
			}
			if pm, ok := macd.At(last - 1); ok {
				if ps, ok := signal.At(last - 1); ok {
					ms.BullishCross = m > s && pm <= ps
					ms.BearishCross = m < s && pm >= ps
				}
			}
			out.MACD = ms
		}
	}

	short, okS := e.Line(model.RoleMAShort)
	long, okL := e.Line(model.RoleMALong)
	if okS && okL {
		sv, ok1 := short.At(last)
		lv, ok2 := long.At(last)
		if ok1 && ok2 {
			out.Trend = &TrendBias{
				Short:   e.RoleName(model.RoleMAShort),
				Long:    e.RoleName(model.RoleMALong),
				ShortMA: sv,
				LongMA:  lv,
				Bullish: sv > lv,
			}
		}
	}
	return out
}
