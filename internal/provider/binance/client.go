// Package binance fetches spot klines from the Binance public REST API.
// Requests are rate limited client-side and retried with exponential
// backoff on network errors, 429/418 and 5xx responses.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chart-snapshot-analyzer/internal/model"
	"chart-snapshot-analyzer/internal/provider"
)

const (
	DefaultBaseURL = "https://api.binance.com"
	maxLimit       = 1000
	maxRetries     = 3
)

// Client is a model.Provider over /api/v3/klines.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration

	now func() time.Time
}

// New creates a client. ratePerSec <= 0 disables client-side limiting.
func New(baseURL string, ratePerSec float64, burst int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		limiter:        lim,
		InitialBackoff: 500 * time.Millisecond,
		now:            time.Now,
	}
}

// apiError is the error body Binance returns on 4xx.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Fetch implements model.Provider. Klines that have not closed yet are
// dropped so every bar is final.
func (c *Client) Fetch(ctx context.Context, symbol, timeframe string, limit int) (*model.Series, error) {
	if _, err := provider.ParseTimeframe(timeframe); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.publicGet(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance klines %s: parse: %w", symbol, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, symbol)
	}

	nowMs := c.now().UnixMilli()
	bars := make([]model.Bar, 0, len(raw))
	for i, k := range raw {
		if len(k) < 7 {
			return nil, fmt.Errorf("binance klines %s: row %d has %d fields", symbol, i, len(k))
		}
		openMs, ok1 := k[0].(float64)
		closeMs, ok2 := k[6].(float64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("binance klines %s: row %d: bad timestamps", symbol, i)
		}
		if int64(closeMs) > nowMs {
			continue
		}
		bars = append(bars, model.Bar{
			Time:   time.UnixMilli(int64(openMs)).UTC(),
			Open:   parseFloat(k[1]),
			High:   parseFloat(k[2]),
			Low:    parseFloat(k[3]),
			Close:  parseFloat(k[4]),
			Volume: parseFloat(k[5]),
		})
	}
	return model.NewSeries(symbol, timeframe, bars)
}

// Symbols lists the trading symbols from /api/v3/exchangeInfo.
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	body, err := c.publicGet(ctx, "/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("binance exchangeInfo: %w", err)
	}
	var info struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("binance exchangeInfo: parse: %w", err)
	}
	out := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "" || s.Status == "TRADING" {
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}

// publicGet performs an unauthenticated GET with rate limiting and retry.
func (c *Client) publicGet(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusOK {
			body = b
			return nil
		}

		var ae apiError
		_ = json.Unmarshal(b, &ae)
		err = fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		switch {
		case ae.Code == -1121:
			return backoff.Permanent(fmt.Errorf("%w: %s", provider.ErrNotFound, ae.Msg))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot || resp.StatusCode >= 500:
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		zap.L().Warn("binance request failed, retrying",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func parseFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	}
	return 0
}
