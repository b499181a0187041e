package file

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"chart-snapshot-analyzer/internal/provider"
	"chart-snapshot-analyzer/internal/provider/synthetic"
)

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

const csvBody = `timestamp,open,high,low,close,volume
2024-05-06T02:00:00Z,102,103,101,102.5,900
2024-05-06T00:00:00Z,100,101,99,100.5,1000
1714957200,101,102,100,101.5,1100
`

func TestFetch_CSV(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "BTCUSDT_1h.csv", csvBody)

	s, err := New(dir).Fetch(context.Background(), "BTCUSDT", "1h", 0)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d", s.Len())
	}
	// rows are sorted; 1714957200 is 2024-05-06T01:00Z
	want := []float64{100.5, 101.5, 102.5}
	if got := s.Closes(); !reflect.DeepEqual(got, want) {
		t.Errorf("closes = %v, want %v", got, want)
	}

	tail, err := New(dir).Fetch(context.Background(), "BTCUSDT", "1h", 2)
	if err != nil {
		t.Fatal(err)
	}
	if tail.Len() != 2 || tail.Bar(0).Close != 101.5 {
		t.Errorf("tail = %v", tail.Closes())
	}
}

func TestFetch_YAML(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "ETHUSDT_4h.yaml", `
symbol: ETHUSDT
timeframe: 4h
bars:
  - {ts: 2024-05-06T00:00:00Z, open: 10, high: 11, low: 9, close: 10.5, volume: 5}
  - {ts: 2024-05-06T04:00:00Z, open: 10.5, high: 12, low: 10, close: 11.5, volume: 7}
`)
	s, err := New(dir).Fetch(context.Background(), "ETHUSDT", "4h", 100)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 || s.Bar(1).Close != 11.5 {
		t.Errorf("bars = %+v", s.Bars())
	}
	if !s.Bar(0).Time.Equal(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ts = %v", s.Bar(0).Time)
	}
}

func TestFetch_NotFound(t *testing.T) {
	_, err := New(t.TempDir()).Fetch(context.Background(), "NOPE", "1h", 10)
	if !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFetch_BadRows(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "A_1h.csv", "timestamp,open,high,low,close\n2024-05-06T00:00:00Z,1,1,1,1\n")
	write(t, dir, "B_1h.csv", "timestamp,open,high,low,close,volume\nyesterday,1,1,1,1,1\n")
	write(t, dir, "C_1h.csv", "timestamp,open,high,low,close,volume\n2024-05-06T00:00:00Z,1,0.5,1,1,1\n")
	for _, sym := range []string{"A", "B", "C"} {
		if _, err := New(dir).Fetch(context.Background(), sym, "1h", 0); err == nil {
			t.Errorf("%s: expected error", sym)
		}
	}
}

func TestSymbols(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "BTCUSDT_1h.csv", csvBody)
	write(t, dir, "ETHUSDT_1h.yml", "bars: []\n")
	write(t, dir, "SOLUSDT_4h.csv", csvBody)
	got, err := New(dir).Symbols("1h")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"BTCUSDT", "ETHUSDT"}) {
		t.Errorf("symbols = %v", got)
	}
}

func TestWriteCSV_ReadBack(t *testing.T) {
	src, err := synthetic.New(1, time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)).Fetch(context.Background(), "X", "1h", 20)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, src); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "timestamp,open,high,low,close,volume\n") {
		t.Errorf("header = %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}
	bars, err := ReadCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}
	want := src.Bars()
	if len(bars) != len(want) {
		t.Fatalf("len = %d, want %d", len(bars), len(want))
	}
	for i := range bars {
		if !bars[i].Time.Equal(want[i].Time) || bars[i].Close != want[i].Close || bars[i].Volume != want[i].Volume {
			t.Errorf("bar %d changed through CSV: %+v vs %+v", i, bars[i], want[i])
		}
	}
}
