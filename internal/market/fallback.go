package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stuntman/internal/logger"
)

var ErrNoSources = errors.New("no market data source configured")

// Leg 描述回退链中的一环：数据源 + 该源使用的代码 + 价格倍数。
type Leg struct {
	Source Source
	Symbol string
	// Scale 对齐代理标的价位（例如 SPY×10 ≈ ES），0 或 1 表示不缩放。
	Scale float64
}

// FallbackSource 依序尝试每个 Leg，第一个成功且校验通过的结果胜出。
// 全部失败时返回聚合错误，绝不生成合成数据。
type FallbackSource struct {
	legs []Leg
}

func NewFallbackSource(legs ...Leg) *FallbackSource {
	kept := make([]Leg, 0, len(legs))
	for _, l := range legs {
		if l.Source != nil {
			kept = append(kept, l)
		}
	}
	return &FallbackSource{legs: kept}
}

func (f *FallbackSource) Name() string {
	names := make([]string, 0, len(f.legs))
	for _, l := range f.legs {
		names = append(names, l.Source.Name()+":"+l.Symbol)
	}
	return "fallback(" + strings.Join(names, ",") + ")"
}

// FetchHistory 每个 Leg 使用自带代码，未配置时回落到入参 symbol。
func (f *FallbackSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if len(f.legs) == 0 {
		return nil, ErrNoSources
	}
	var errs []error
	for _, leg := range f.legs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sym := leg.Symbol
		if sym == "" {
			sym = symbol
		}
		candles, err := leg.Source.FetchHistory(ctx, sym, interval, limit)
		if err == nil && len(candles) == 0 {
			err = errors.New("empty history")
		}
		if err == nil {
			candles = Scale(candles, leg.Scale)
			err = Validate(candles)
		}
		if err != nil {
			logger.Warnf("[market] %s %s %s failed: %v", leg.Source.Name(), sym, interval, err)
			errs = append(errs, fmt.Errorf("%s %s: %w", leg.Source.Name(), sym, err))
			continue
		}
		logger.Infof("[market] %s %s %s -> %d candles (scale=%.4g)", leg.Source.Name(), sym, interval, len(candles), leg.Scale)
		return candles, nil
	}
	return nil, fmt.Errorf("all market data sources failed: %w", errors.Join(errs...))
}
