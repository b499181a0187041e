package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"chart-snapshot-analyzer/internal/analysis"
)

// ErrNoSnapshot is returned by Latest when no result is stored.
var ErrNoSnapshot = errors.New("no stored result")

// Latest reads the stored result for symbol/timeframe.
func (p *Publisher) Latest(ctx context.Context, symbol, timeframe string) (analysis.Result, error) {
	var res analysis.Result
	raw, err := p.client.Get(ctx, LatestKey(symbol, timeframe)).Bytes()
	if err == goredis.Nil {
		return res, fmt.Errorf("%w: %s %s", ErrNoSnapshot, symbol, timeframe)
	}
	if err != nil {
		return res, fmt.Errorf("redis GET %s: %w", LatestKey(symbol, timeframe), err)
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("decode result %s: %w", symbol, err)
	}
	return res, nil
}

// Subscribe feeds results published on the channel into out until ctx
// is cancelled. Undecodable messages are skipped and a full out drops
// the message.
func (p *Publisher) Subscribe(ctx context.Context, out chan<- analysis.Result) error {
	pubsub := p.client.Subscribe(ctx, p.cfg.Channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", p.cfg.Channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			res, err := decodeMessage(msg.Payload)
			if err != nil {
				zap.L().Debug("redis: skipping message", zap.Error(err))
				continue
			}
			select {
			case out <- res:
			default:
			}
		}
	}
}

func decodeMessage(payload string) (analysis.Result, error) {
	var res analysis.Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return res, err
	}
	if res.Symbol == "" {
		return res, errors.New("message has no symbol")
	}
	return res, nil
}
