// cmd/patternd runs the pattern daemon: scheduled analysis batches with
// results served over REST and websocket and published to redis.
//
// Usage:
//
//	go run ./cmd/patternd --config=configs/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"chart-snapshot-analyzer/config"
	"chart-snapshot-analyzer/internal/logger"
	"chart-snapshot-analyzer/internal/patternd"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML (default: ./configs/config.yaml or ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[patternd] config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(logger.Options{
		Service:    "patternd",
		Level:      cfg.Log.Level,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxAge:     cfg.Log.MaxAge,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[patternd] logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	svc, err := patternd.New(cfg)
	if err != nil {
		log.Fatal("init failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", zap.Stringer("signal", sig))
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}
