// Package report summarises batch results: events grouped by symbol and
// type, the strongest and latest event per symbol, detected levels, volume
// anomalies, the last-bar indicator signals, skipped components and
// failures.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/pattern"
)

// Report is the summary of one batch.
type Report struct {
	RunID       string          `json:"run_id,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
	Symbols     []SymbolSummary `json:"symbols"`
	Totals      Totals          `json:"totals"`
}

// Totals aggregates over every symbol.
type Totals struct {
	Symbols         int                       `json:"symbols"`
	Failed          int                       `json:"failed"`
	Events          int                       `json:"events"`
	ByType          map[model.PatternType]int `json:"by_type"`
	VolumeAnomalies int                       `json:"volume_anomalies"`
}

// SymbolSummary is one symbol's slice of the report.
type SymbolSummary struct {
	Symbol          string                    `json:"symbol"`
	Timeframe       string                    `json:"timeframe"`
	Bars            int                       `json:"bars"`
	Counts          map[model.PatternType]int `json:"counts"`
	Strongest       *model.PatternEvent       `json:"strongest,omitempty"`
	Latest          *model.PatternEvent       `json:"latest,omitempty"`
	Events          []model.PatternEvent      `json:"events"`
	Levels          []pattern.Level           `json:"levels,omitempty"`
	VolumeAnomalies []pattern.VolumeAnomaly   `json:"volume_anomalies,omitempty"`
	Signals         *analysis.Signals         `json:"signals,omitempty"`
	Skipped         []string                  `json:"skipped,omitempty"`
	Error           string                    `json:"error,omitempty"`
}

// Build summarises results. Symbols keep the input order.
func Build(runID string, results []analysis.Result, now time.Time) Report {
	rep := Report{
		RunID:       runID,
		GeneratedAt: now.UTC(),
		Symbols:     make([]SymbolSummary, 0, len(results)),
		Totals:      Totals{ByType: make(map[model.PatternType]int)},
	}
	for _, res := range results {
		s := Summarize(res)
		rep.Symbols = append(rep.Symbols, s)
		rep.Totals.Symbols++
		if s.Error != "" {
			rep.Totals.Failed++
		}
		rep.Totals.Events += len(s.Events)
		rep.Totals.VolumeAnomalies += len(s.VolumeAnomalies)
		for t, n := range s.Counts {
			rep.Totals.ByType[t] += n
		}
		if rep.RunID == "" {
			rep.RunID = res.RunID
		}
	}
	return rep
}

// Summarize builds the summary of a single result.
func Summarize(res analysis.Result) SymbolSummary {
	s := SymbolSummary{
		Symbol:          res.Symbol,
		Timeframe:       res.Timeframe,
		Bars:            res.Bars,
		Counts:          make(map[model.PatternType]int),
		Events:          res.Events,
		Levels:          res.Levels,
		VolumeAnomalies: res.VolumeAnomalies,
		Signals:         res.Signals,
		Skipped:         res.Skipped,
		Error:           res.Error,
	}
	if s.Events == nil {
		s.Events = []model.PatternEvent{}
	}
	if s.Error == "" && res.Err != nil {
		s.Error = res.Err.Error()
	}
	for i := range res.Events {
		e := &res.Events[i]
		s.Counts[e.Type]++
		// first wins on ties: events are time ordered
		if s.Strongest == nil || e.Strength > s.Strongest.Strength {
			s.Strongest = e
		}
		if s.Latest == nil || !e.Time.Before(s.Latest.Time) {
			s.Latest = e
		}
	}
	return s
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

const boxWidth = 72

// WriteText renders the report as boxed text.
func WriteText(w io.Writer, rep Report) error {
	var b strings.Builder
	rule := strings.Repeat("═", boxWidth)
	line := func(format string, args ...interface{}) {
		text := fmt.Sprintf(format, args...)
		if n := len([]rune(text)); n < boxWidth-2 {
			text += strings.Repeat(" ", boxWidth-2-n)
		}
		fmt.Fprintf(&b, "║ %s ║\n", text)
	}

	fmt.Fprintf(&b, "╔%s╗\n", rule)
	line("PATTERN REPORT %s", rep.RunID)
	line("generated %s", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "╠%s╣\n", rule)
	line("symbols: %-6d failed: %-6d events: %-6d volume anomalies: %d",
		rep.Totals.Symbols, rep.Totals.Failed, rep.Totals.Events, rep.Totals.VolumeAnomalies)
	for _, t := range sortedTypes(rep.Totals.ByType) {
		line("  %-28s %d", t, rep.Totals.ByType[t])
	}

	for _, s := range rep.Symbols {
		fmt.Fprintf(&b, "╠%s╣\n", rule)
		line("%s %s (%d bars)", s.Symbol, s.Timeframe, s.Bars)
		if s.Error != "" {
			line("  FAILED: %s", truncate(s.Error, boxWidth-12))
			continue
		}
		if len(s.Events) == 0 {
			line("  no patterns")
		}
		for _, t := range sortedTypes(s.Counts) {
			line("  %-28s %d", t, s.Counts[t])
		}
		if s.Strongest != nil {
			line("  strongest: %s @ %s (%.2f)", s.Strongest.Type, s.Strongest.Time.Format("2006-01-02 15:04"), s.Strongest.Strength)
		}
		if s.Latest != nil {
			line("  latest:    %s @ %s", s.Latest.Type, s.Latest.Time.Format("2006-01-02 15:04"))
		}
		for _, lv := range s.Levels {
			line("  %-10s %.4f (%d touches)", lv.Kind, lv.Price, lv.Touches)
		}
		if n := len(s.VolumeAnomalies); n > 0 {
			last := s.VolumeAnomalies[n-1]
			line("  volume anomalies: %d, last @ %s (%.1fσ)", n, last.Time.Format("2006-01-02 15:04"), last.Deviation)
		}
		if s.Signals != nil {
			signalLines(line, *s.Signals)
		}
		if len(s.Skipped) > 0 {
			line("  skipped: %s", truncate(strings.Join(s.Skipped, ", "), boxWidth-13))
		}
	}
	fmt.Fprintf(&b, "╚%s╝\n", rule)

	_, err := io.WriteString(w, b.String())
	return err
}

func signalLines(line func(string, ...interface{}), sig analysis.Signals) {
	if r := sig.RSI; r != nil {
		note := ""
		switch {
		case r.Overbought:
			note = " (overbought)"
		case r.Oversold:
			note = " (oversold)"
		}
		line("  RSI: %.2f%s", r.Value, note)
	}
	if m := sig.MACD; m != nil {
		note := ""
		switch {
		case m.BullishCross:
			note = " (bullish cross)"
		case m.BearishCross:
			note = " (bearish cross)"
		}
		line("  MACD: %.4f signal: %.4f hist: %.4f%s", m.MACD, m.Signal, m.Histogram, note)
	}
	if tr := sig.Trend; tr != nil {
		bias := "bearish"
		if tr.Bullish {
			bias = "bullish"
		}
		line("  trend: %s %.4f vs %s %.4f (%s)", tr.Short, tr.ShortMA, tr.Long, tr.LongMA, bias)
	}
}

func sortedTypes(m map[model.PatternType]int) []model.PatternType {
	out := make([]model.PatternType, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
