package market

import (
	"errors"
	"fmt"
	"time"
)

// Candle 单根 OHLCV K 线，时间字段为 unix 毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time,omitempty"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Time 返回开盘时间（UTC）。
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// TypicalPrice = (H+L+C)/3
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

var ErrInvalidCandle = errors.New("invalid candle")

// Check 校验单根 K 线的价格关系。
func (c Candle) Check() error {
	hiBody := c.Open
	loBody := c.Close
	if c.Close > c.Open {
		hiBody, loBody = c.Close, c.Open
	}
	switch {
	case c.Low < 0 || c.Volume < 0:
		return fmt.Errorf("%w: negative low/volume at %d", ErrInvalidCandle, c.OpenTime)
	case c.High < hiBody:
		return fmt.Errorf("%w: high %.4f below body at %d", ErrInvalidCandle, c.High, c.OpenTime)
	case loBody < c.Low:
		return fmt.Errorf("%w: low %.4f above body at %d", ErrInvalidCandle, c.Low, c.OpenTime)
	}
	return nil
}

// Validate 检查整段序列：价格关系 + 时间严格递增。
func Validate(candles []Candle) error {
	for i, c := range candles {
		if err := c.Check(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if i > 0 && c.OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("%w: candle %d time %d not after %d", ErrInvalidCandle, i, c.OpenTime, candles[i-1].OpenTime)
		}
	}
	return nil
}

// Scale 按倍数缩放 OHLC（如 ETF 代理价对齐期货价位），返回新切片。
func Scale(candles []Candle, factor float64) []Candle {
	out := make([]Candle, len(candles))
	copy(out, candles)
	if factor == 0 || factor == 1 {
		return out
	}
	for i := range out {
		out[i].Open *= factor
		out[i].High *= factor
		out[i].Low *= factor
		out[i].Close *= factor
	}
	return out
}

// Closes 提取收盘价序列。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// HLC 一次性提取 high/low/close。
func HLC(candles []Candle) (highs, lows, closes []float64) {
	n := len(candles)
	highs = make([]float64, n)
	lows = make([]float64, n)
	closes = make([]float64, n)
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return highs, lows, closes
}
