// Package redis publishes analysis results: the latest result per
// symbol/timeframe is kept under a TTL'd key and every result is
// broadcast on a pub/sub channel. Publishes go through a circuit breaker.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/analysis"
)

const (
	DefaultChannel = "pattern:events"
	DefaultTTL     = 24 * time.Hour

	latestPrefix = "pattern:latest:"
)

// Config configures the publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // lifetime of the latest-result keys
	Channel  string

	MaxFailures  int           // consecutive failures before the breaker opens
	ResetTimeout time.Duration // breaker cool-down
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 10 * time.Second
	}
}

// LatestKey is the key holding the newest result for symbol/timeframe.
func LatestKey(symbol, timeframe string) string {
	return latestPrefix + strings.ToUpper(symbol) + ":" + timeframe
}

// message is one SET+PUBLISH unit.
type message struct {
	key     string
	payload []byte
}

// Publisher writes analysis results to redis.
type Publisher struct {
	client *goredis.Client
	cfg    Config
	cb     *CircuitBreaker

	exec func(ctx context.Context, msgs []message) error
}

// New connects and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	zap.L().Info("redis: connected", zap.String("addr", cfg.Addr))
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg Config) *Publisher {
	cfg.applyDefaults()
	p := &Publisher{
		client: client,
		cfg:    cfg,
		cb:     NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
	}
	p.exec = p.pipeline
	p.cb.OnStateChange = func(from, to State) {
		zap.L().Warn("redis: circuit breaker state change",
			zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return p
}

// Client returns the underlying client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker so callers can observe it.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// Channel returns the pub/sub channel results are published on.
func (p *Publisher) Channel() string { return p.cfg.Channel }

// Publish stores res as the latest result for its symbol and broadcasts
// it. Failed results are not published so they never replace a good
// snapshot.
func (p *Publisher) Publish(ctx context.Context, res analysis.Result) error {
	return p.PublishBatch(ctx, []analysis.Result{res})
}

// PublishBatch publishes several results in a single pipeline.
func (p *Publisher) PublishBatch(ctx context.Context, results []analysis.Result) error {
	msgs, err := encode(results)
	if err != nil || len(msgs) == 0 {
		return err
	}
	err = p.cb.Execute(func() error { return p.exec(ctx, msgs) })
	if err != nil && err != ErrCircuitOpen {
		zap.L().Error("redis: publish failed", zap.Int("results", len(msgs)), zap.Error(err))
	}
	return err
}

func encode(results []analysis.Result) ([]message, error) {
	msgs := make([]message, 0, len(results))
	for _, res := range results {
		if res.Failed() {
			continue
		}
		b, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode result %s: %w", res.Symbol, err)
		}
		msgs = append(msgs, message{key: LatestKey(res.Symbol, res.Timeframe), payload: b})
	}
	return msgs, nil
}

func (p *Publisher) pipeline(ctx context.Context, msgs []message) error {
	pipe := p.client.Pipeline()
	for _, m := range msgs {
		pipe.Set(ctx, m.key, m.payload, p.cfg.TTL)
		pipe.Publish(ctx, p.cfg.Channel, m.payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
