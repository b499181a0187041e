// Package logger builds the process-wide zap logger. Output is JSON on
// stdout, teed to a lumberjack-rotated file when a path is configured, and
// every line carries the service name. Run IDs travel through
// context.Context so batch log lines can be correlated.
package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Options mirrors the `log` config section.
type Options struct {
	Service    string
	Level      string // debug, info, warn, error
	FilePath   string // directory; empty disables file output
	MaxSize    int    // MB before rotation
	MaxAge     int    // days
	MaxBackups int
	Compress   bool
}

// Init builds a JSON logger, installs it with zap.ReplaceGlobals and
// returns it. Callers should defer Sync.
func Init(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		if opts.Level != "" {
			return nil, fmt.Errorf("logger: %w", err)
		}
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)}
	if opts.FilePath != "" {
		name := opts.Service
		if name == "" {
			name = "pattern"
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(opts.FilePath, name+".log"),
			MaxSize:    opts.MaxSize,
			MaxAge:     opts.MaxAge,
			MaxBackups: opts.MaxBackups,
			Compress:   opts.Compress,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotator), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if opts.Service != "" {
		l = l.With(zap.String("service", opts.Service))
	}
	zap.ReplaceGlobals(l)
	return l, nil
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID for a batch run.
// Format: "{token}-{unixNano}-{uuid prefix}".
func GenerateTraceID(token string, ts time.Time) string {
	return fmt.Sprintf("%s-%d-%s", token, ts.UnixNano(), uuid.NewString()[:8])
}

// LogWithTrace returns zap fields including the trace ID from context.
// Usage: zap.L().Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []zap.Field {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []zap.Field{zap.String("trace_id", tid)}
}
