// Package quotes 对接 chart 形态的历史行情 HTTP 接口（timestamp[] + indicators.quote[0]）。
package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"stuntman/internal/logger"
	"stuntman/internal/market"
)

var ErrRateLimited = errors.New("quote api rate limited")

type Config struct {
	BaseURL    string        `toml:"base_url"`
	Range      string        `toml:"range"`
	UserAgent  string        `toml:"user_agent"`
	Timeout    time.Duration `toml:"-"`
	MaxRetries int           `toml:"max_retries"`
	MinBackoff time.Duration `toml:"-"`
	MaxBackoff time.Duration `toml:"-"`
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://query1.finance.yahoo.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (stuntman)"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

// Client 实现 market.Source。
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	final := cfg.withDefaults()
	return &Client{cfg: final, http: &http.Client{Timeout: final.Timeout}}
}

func (c *Client) Name() string { return "quotes" }

// FetchHistory 拉取 symbol 的历史，跳过含空值的行，只返回最近 limit 根。
func (c *Client) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		interval = "1h"
	}
	rng := c.cfg.Range
	if rng == "" {
		rng = defaultRange(interval)
	}
	q := url.Values{}
	q.Set("interval", interval)
	q.Set("range", rng)
	q.Set("includePrePost", "false")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.cfg.BaseURL, url.PathEscape(symbol), q.Encode())

	b := &backoff.Backoff{Min: c.cfg.MinBackoff, Max: c.cfg.MaxBackoff, Factor: 2}
	for attempt := 0; ; attempt++ {
		body, retryAfter, err := c.get(ctx, endpoint)
		if err == nil {
			candles, perr := parseChart(body, interval)
			if perr != nil {
				return nil, fmt.Errorf("%s %s: %w", symbol, interval, perr)
			}
			if limit > 0 && len(candles) > limit {
				candles = candles[len(candles)-limit:]
			}
			return candles, nil
		}
		if !errors.Is(err, ErrRateLimited) || attempt >= c.cfg.MaxRetries {
			return nil, fmt.Errorf("%s %s: %w", symbol, interval, err)
		}
		wait := b.Duration()
		if retryAfter > wait {
			wait = min(retryAfter, c.cfg.MaxBackoff)
		}
		logger.Warnf("[quotes] %s rate limited, retry %d in %s", symbol, attempt+1, wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	logger.Debugf("[quotes] GET %s", endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, retryAfter(resp.Header.Get("Retry-After")), ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		return nil, 0, fmt.Errorf("quote api error: %s: %s", resp.Status, snippet(body))
	}
	return body, 0, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func parseChart(body []byte, interval string) ([]market.Candle, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed chart response: %w", err)
	}
	if e := resp.Chart.Error; e != nil {
		return nil, fmt.Errorf("quote api: %s: %s", e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, errors.New("chart response has no result")
	}
	res := resp.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	step := intervalDuration(interval).Milliseconds()
	out := make([]market.Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		o, h, l, cl, v := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i), at(quote.Volume, i)
		if o == nil || h == nil || l == nil || cl == nil {
			continue
		}
		vol := 0.0
		if v != nil {
			vol = *v
		}
		open := ts * 1000
		c := market.Candle{OpenTime: open, Open: *o, High: *h, Low: *l, Close: *cl, Volume: vol}
		if step > 0 {
			c.CloseTime = open + step - 1
		}
		out = append(out, c)
	}
	return out, nil
}

func at(xs []*float64, i int) *float64 {
	if i < len(xs) {
		return xs[i]
	}
	return nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "2m":
		return 2 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "60m", "1h":
		return time.Hour
	case "90m":
		return 90 * time.Minute
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}

// defaultRange 分钟级数据上游只保留较短历史。
func defaultRange(interval string) string {
	switch interval {
	case "1m":
		return "7d"
	case "2m", "5m", "15m", "30m", "90m":
		return "60d"
	case "60m", "1h":
		return "730d"
	default:
		return "5y"
	}
}

func retryAfter(h string) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
