package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"

	"stuntman/internal/logger"
	"stuntman/internal/market"
)

const (
	maxHistoryLimit = 1500
	codeRateLimited = -1003
)

// Source 通过 go-binance 的 USDⓈ-M 期货 REST 接口拉取历史 K 线，实现 market.Source。
type Source struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimRight(final.RESTBaseURL, "/")
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

func (s *Source) Name() string { return "binance" }

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}

	b := &backoff.Backoff{Min: s.cfg.MinBackoff, Max: s.cfg.MaxBackoff, Factor: 2, Jitter: false}
	for attempt := 0; ; attempt++ {
		logger.Debugf("[binance] klines %s %s limit=%d attempt=%d", symbol, interval, limit, attempt+1)
		klines, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		if err == nil {
			return convert(klines)
		}
		if !rateLimited(err) || attempt >= s.cfg.MaxRetries {
			return nil, fmt.Errorf("binance klines %s %s: %w", symbol, interval, err)
		}
		wait := b.Duration()
		logger.Warnf("[binance] rate limited, retry in %s", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func rateLimited(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeRateLimited
	}
	return false
}

func convert(klines []*futures.Kline) ([]market.Candle, error) {
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		vals, err := parseFloats(k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", k.OpenTime, err)
		}
		out = append(out, market.Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return out, nil
}

func parseFloats(raw ...string) ([]float64, error) {
	out := make([]float64, len(raw))
	for i, r := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(r), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
