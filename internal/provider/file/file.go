// Package file serves bar series from CSV or YAML files in a directory.
//
// Files are named <SYMBOL>_<timeframe>.csv, .yaml or .yml. CSV files carry a
// header row with timestamp,open,high,low,close,volume; timestamps are
// RFC 3339 or unix epoch (seconds or milliseconds). YAML files hold a
// `bars` list with ts/open/high/low/close/volume keys.
package file

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/provider"
)

// Provider reads bars from Dir.
type Provider struct {
	Dir string
}

// New returns a provider rooted at dir.
func New(dir string) *Provider { return &Provider{Dir: dir} }

type yamlBar struct {
	TS     time.Time `yaml:"ts"`
	Open   float64   `yaml:"open"`
	High   float64   `yaml:"high"`
	Low    float64   `yaml:"low"`
	Close  float64   `yaml:"close"`
	Volume float64   `yaml:"volume"`
}

type yamlFile struct {
	Symbol    string    `yaml:"symbol"`
	Timeframe string    `yaml:"timeframe"`
	Bars      []yamlBar `yaml:"bars"`
}

// Fetch implements model.Provider. It returns provider.ErrNotFound when no
// file exists for symbol/timeframe.
func (p *Provider) Fetch(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := filepath.Join(p.Dir, symbol+"_"+timeframe)
	for _, ext := range []string{".csv", ".yaml", ".yml"} {
		path := base + ext
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("file provider: %w", err)
		}
		var bars []model.Bar
		if ext == ".csv" {
			bars, err = ReadCSV(f)
		} else {
			bars, err = ReadYAML(f)
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("file provider %s: %w", path, err)
		}
		sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
		s, err := model.NewSeries(symbol, timeframe, bars)
		if err != nil {
			return nil, fmt.Errorf("file provider %s: %w", path, err)
		}
		return s.Tail(limit), nil
	}
	return nil, fmt.Errorf("%w: %s %s in %s", provider.ErrNotFound, symbol, timeframe, p.Dir)
}

// Symbols lists the symbols that have a file for timeframe.
func (p *Provider) Symbols(timeframe string) ([]string, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, fmt.Errorf("file provider: %w", err)
	}
	seen := map[string]bool{}
	var out []string
	suffix := "_" + timeframe
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		sym := strings.TrimSuffix(name, suffix)
		if sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadCSV parses bars from CSV with a header row. Column order follows the
// header; unknown columns are ignored.
func ReadCSV(r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["timestamp"]; !ok {
		if i, ok := col["ts"]; ok {
			col["timestamp"] = i
		}
	}
	for _, need := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("csv header: missing column %q", need)
		}
	}

	var bars []model.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		ts, err := parseTime(rec[col["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		var vals [5]float64
		for k, name := range []string{"open", "high", "low", "close", "volume"} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: %s: %w", line, name, err)
			}
			vals[k] = v
		}
		bars = append(bars, model.Bar{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]})
	}
	return bars, nil
}

// ReadYAML parses a YAML bar file.
func ReadYAML(r io.Reader) ([]model.Bar, error) {
	var doc yamlFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	bars := make([]model.Bar, len(doc.Bars))
	for i, b := range doc.Bars {
		bars[i] = model.Bar{Time: b.TS.UTC(), Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	return bars, nil
}

// parseTime accepts RFC 3339 or epoch seconds/milliseconds.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	return t.UTC(), nil
}

// WriteCSV writes bars in the format ReadCSV accepts.
func WriteCSV(w io.Writer, s *model.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, b := range s.Bars() {
		if err := cw.Write([]string{b.Time.UTC().Format(time.RFC3339), f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
