package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestInit(t *testing.T) {
	l, err := Init(Options{Service: "test-service", Level: "info"})
	if err != nil {
		t.Fatal(err)
	}
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	if zap.L() != l {
		t.Error("Init should replace the global logger")
	}
}

func TestInit_BadLevel(t *testing.T) {
	if _, err := Init(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestInit_FileOutput(t *testing.T) {
	dir := t.TempDir()
	l, err := Init(Options{Service: "filetest", Level: "debug", FilePath: dir, MaxSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hello", zap.String("symbol", "BTCUSDT"))
	_ = l.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "filetest.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"symbol":"BTCUSDT"`) || !strings.Contains(string(data), `"service":"filetest"`) {
		t.Errorf("unexpected log line: %s", data)
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No trace ID set
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("batch", ts)

	if !strings.HasPrefix(tid, "batch-") {
		t.Errorf("expected trace id to start with 'batch-', got %s", tid)
	}
	if !strings.Contains(tid, "123456789") {
		t.Errorf("expected trace id to contain nanoseconds, got %s", tid)
	}
	if GenerateTraceID("batch", ts) == tid {
		t.Error("two ids for the same instant should differ")
	}
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()

	if f := LogWithTrace(ctx); f != nil {
		t.Errorf("expected nil fields when no trace id, got %v", f)
	}

	ctx = WithTraceID(ctx, "abc-123")
	f := LogWithTrace(ctx)
	if len(f) != 1 || f[0].Key != "trace_id" || f[0].String != "abc-123" {
		t.Fatalf("unexpected fields %+v", f)
	}
}
