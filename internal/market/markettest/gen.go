// Package markettest 提供确定性的合成 K 线，仅供测试使用。
package markettest

import (
	"math"
	"math/rand"
	"time"

	"stuntman/internal/market"
)

// Start 合成序列的起始时间。
var Start = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

// FromCloses 以收盘价生成 K 线：open 取上一根收盘，high/low 向外扩 spread。
func FromCloses(closes []float64, step time.Duration, spread float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		hi := math.Max(open, c) + spread
		lo := math.Min(open, c) - spread
		if lo < 0 {
			lo = 0
		}
		ts := Start.Add(time.Duration(i) * step)
		out[i] = market.Candle{
			OpenTime:  ts.UnixMilli(),
			CloseTime: ts.Add(step).UnixMilli() - 1,
			Open:      open,
			High:      hi,
			Low:       lo,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

// Linear 等差序列。
func Linear(n int, start, slope float64) []market.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + slope*float64(i)
	}
	return FromCloses(closes, time.Hour, 1)
}

// Flat 常数序列。
func Flat(n int, price float64) []market.Candle {
	return Linear(n, price, 0)
}

// Sine 在 mid 附近按周期 period 振荡。
func Sine(n int, mid, amp float64, period int) []market.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = mid + amp*math.Sin(2*math.Pi*float64(i)/float64(period))
	}
	return FromCloses(closes, time.Hour, amp*0.05)
}

// RandomWalk 固定种子的随机游走，成交量也随机。
func RandomWalk(n int, start float64, seed int64) []market.Candle {
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	p := start
	for i := range closes {
		p += rng.NormFloat64() * start * 0.004
		if p < 1 {
			p = 1
		}
		closes[i] = p
	}
	out := FromCloses(closes, time.Hour, start*0.002)
	for i := range out {
		out[i].Volume = 500 + float64(rng.Intn(1500))
	}
	return out
}
