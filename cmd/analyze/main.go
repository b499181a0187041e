// cmd/analyze runs one analysis batch over a set of symbols and prints a
// pattern report. It can also list the symbols a provider offers and tail
// results published by a running patternd.
//
// Usage:
//
//	go run ./cmd/analyze --symbols=BTCUSDT,ETHUSDT --tf=4h --limit=500
//	go run ./cmd/analyze --provider=file --dir=testdata --json
//	go run ./cmd/analyze --provider=binance --list
//	go run ./cmd/analyze --watch --redis=localhost:6379
//	go run ./cmd/analyze --replay --symbols=BTCUSDT --warmup=200 --speed=100
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/config"
	"chart-snapshot-analyzer/internal/analysis"
	"chart-snapshot-analyzer/internal/logger"
	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/patternd"
	"chart-snapshot-analyzer/internal/provider/binance"
	"chart-snapshot-analyzer/internal/provider/file"
	"chart-snapshot-analyzer/internal/replay"
	"chart-snapshot-analyzer/internal/report"
	redisstore "chart-snapshot-analyzer/internal/store/redis"
)

type options struct {
	configPath string
	provider   string
	symbols    string
	timeframe  string
	limit      int
	dir        string
	sqlitePath string
	redisAddr  string
	jsonOut    bool
	list       bool
	watch      bool
	replay     bool
	warmup     int
	speed      float64
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Path to config YAML")
	flag.StringVar(&o.provider, "provider", "", "Bar source: binance, file or synthetic (default from config)")
	flag.StringVar(&o.symbols, "symbols", "", "Comma-separated symbols (default from config; file provider: every file for the timeframe)")
	flag.StringVar(&o.timeframe, "tf", "", "Timeframe, e.g. 15m, 1h, 1d")
	flag.IntVar(&o.limit, "limit", 0, "Bars per symbol")
	flag.StringVar(&o.dir, "dir", "", "Directory of <SYMBOL>_<tf>.csv|yaml files for the file provider")
	flag.StringVar(&o.sqlitePath, "db", "", "SQLite bar cache path")
	flag.StringVar(&o.redisAddr, "redis", "", "Redis address for --watch")
	flag.BoolVar(&o.jsonOut, "json", false, "Print the report as JSON")
	flag.BoolVar(&o.list, "list", false, "List the provider's symbols and exit")
	flag.BoolVar(&o.watch, "watch", false, "Print results published by patternd until interrupted")
	flag.BoolVar(&o.replay, "replay", false, "Walk each series forward bar by bar and print events as they appear")
	flag.IntVar(&o.warmup, "warmup", 100, "Bars analysed before the first replay step")
	flag.Float64Var(&o.speed, "speed", 0, "Replay speed multiplier (0=max, 1=realtime, 100=100x)")
	flag.Parse()

	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[analyze] %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(logger.Options{Service: "analyze", Level: cfg.Log.Level, FilePath: cfg.Log.FilePath,
		MaxSize: cfg.Log.MaxSize, MaxAge: cfg.Log.MaxAge, MaxBackups: cfg.Log.MaxBackups, Compress: cfg.Log.Compress})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[analyze] logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	switch {
	case o.list:
		err = listSymbols(ctx, cfg, os.Stdout)
	case o.watch:
		err = watch(ctx, cfg, o.jsonOut, os.Stdout)
	case o.replay:
		err = replayBatch(ctx, cfg, o.warmup, o.speed, o.jsonOut, os.Stdout)
	default:
		var failed bool
		failed, err = runBatch(ctx, cfg, o.jsonOut, os.Stdout)
		if err == nil && failed {
			log.Sync()
			os.Exit(2)
		}
	}
	if err != nil {
		log.Error("analyze failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

// loadConfig layers the flags over the config file.
func loadConfig(o options) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.provider != "" {
		cfg.Data.Provider = o.provider
	}
	if o.symbols != "" {
		cfg.Batch.Symbols = splitSymbols(o.symbols)
	} else if o.provider == config.ProviderFile {
		cfg.Batch.Symbols = nil
	}
	if o.timeframe != "" {
		cfg.Data.Timeframe = o.timeframe
	}
	if o.limit > 0 {
		cfg.Data.Limit = o.limit
	}
	if o.dir != "" {
		cfg.Data.Dir = o.dir
	}
	if o.sqlitePath != "" {
		cfg.Data.SQLitePath = o.sqlitePath
	}
	if o.redisAddr != "" {
		cfg.Redis.Addr = o.redisAddr
	}
	return cfg, cfg.Validate()
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// runBatch analyses every configured symbol and writes the report. failed
// is true when no symbol could be analysed.
func runBatch(ctx context.Context, cfg config.Config, jsonOut bool, w io.Writer) (failed bool, err error) {
	p, store, err := patternd.BuildProvider(cfg.Data)
	if err != nil {
		return false, err
	}
	if store != nil {
		defer store.Close()
	}

	symbols := cfg.Batch.Symbols
	if len(symbols) == 0 && cfg.Data.Provider == config.ProviderFile {
		if symbols, err = file.New(cfg.Data.Dir).Symbols(cfg.Data.Timeframe); err != nil {
			return false, err
		}
	}
	if len(symbols) == 0 {
		return false, fmt.Errorf("no symbols to analyse")
	}

	analyzer, err := analysis.NewAnalyzer(analysis.OptionsFromConfig(cfg), nil)
	if err != nil {
		return false, err
	}

	runID := logger.GenerateTraceID("cli", time.Now())
	ctx = logger.WithTraceID(ctx, runID)
	results := analyzer.RunBatch(ctx, p, symbols, analysis.BatchOptions{
		Timeframe:     cfg.Data.Timeframe,
		Limit:         cfg.Data.Limit,
		Workers:       cfg.Batch.Workers,
		SymbolTimeout: cfg.Batch.SymbolTimeout,
	})

	rep := report.Build(runID, results, time.Now().UTC())
	if jsonOut {
		err = report.WriteJSON(w, rep)
	} else {
		err = report.WriteText(w, rep)
	}
	return rep.Totals.Failed == rep.Totals.Symbols, err
}

func listSymbols(ctx context.Context, cfg config.Config, w io.Writer) error {
	var (
		symbols []string
		err     error
	)
	switch cfg.Data.Provider {
	case config.ProviderBinance:
		symbols, err = binance.New(cfg.Data.BinanceURL, cfg.Data.RatePerSec, cfg.Data.Burst).Symbols(ctx)
	case config.ProviderFile:
		symbols, err = file.New(cfg.Data.Dir).Symbols(cfg.Data.Timeframe)
	default:
		symbols = cfg.Batch.Symbols
	}
	if err != nil {
		return err
	}
	for _, s := range symbols {
		fmt.Fprintln(w, s)
	}
	return nil
}

// watch subscribes to the redis event channel and prints every result.
func watch(ctx context.Context, cfg config.Config, jsonOut bool, w io.Writer) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("--watch needs a redis address (--redis or redis.addr)")
	}
	pub, err := redisstore.New(redisstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Channel:  cfg.Redis.Channel,
	})
	if err != nil {
		return err
	}
	defer pub.Close()

	results := make(chan analysis.Result, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- pub.Subscribe(ctx, results) }()

	zap.L().Info("watching published results", zap.String("channel", pub.Channel()))
	for {
		select {
		case err := <-errCh:
			return err
		case res := <-results:
			rep := report.Build(res.RunID, []analysis.Result{res}, time.Now().UTC())
			if jsonOut {
				err = report.WriteJSON(w, rep)
			} else {
				err = report.WriteText(w, rep)
			}
			if err != nil {
				return err
			}
		}
	}
}

// replayBatch replays every symbol in turn and prints each new event.
func replayBatch(ctx context.Context, cfg config.Config, warmup int, speed float64, jsonOut bool, w io.Writer) error {
	p, store, err := patternd.BuildProvider(cfg.Data)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}
	analyzer, err := analysis.NewAnalyzer(analysis.OptionsFromConfig(cfg), nil)
	if err != nil {
		return err
	}
	r := replay.New(analyzer, warmup, speed)
	enc := json.NewEncoder(w)

	for _, sym := range cfg.Batch.Symbols {
		s, err := p.Fetch(ctx, sym, cfg.Data.Timeframe, cfg.Data.Limit)
		if err != nil {
			return fmt.Errorf("%s: %w", sym, err)
		}
		if err := printReplay(ctx, r, s, jsonOut, enc, w); err != nil {
			return fmt.Errorf("%s: %w", sym, err)
		}
	}
	return nil
}

func printReplay(ctx context.Context, r *replay.Replayer, s *model.Series, jsonOut bool, enc *json.Encoder, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	steps := make(chan replay.Step, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx, s, steps) }()

	for st := range steps {
		for _, e := range st.New {
			var err error
			if jsonOut {
				err = enc.Encode(e)
			} else {
				_, err = fmt.Fprintf(w, "%s  bar %-5d %-10s %-28s %.2f\n",
					e.Time.Format("2006-01-02 15:04"), st.Index, e.Symbol, e.Type, e.Strength)
			}
			if err != nil {
				return err
			}
		}
	}
	return <-errCh
}
