package indicator

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"stuntman/internal/market"
)

// Neutral values used to left-pad series before their window fills.
const (
	NeutralRSI      = 50.0
	NeutralPercentB = 50.0
)

// EMA seeds with x[0] and applies k = 2/(period+1) from there on.
func EMA(x []float64, period int) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	if period < 1 {
		period = 1
	}
	k := 2.0 / float64(period+1)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = out[i-1] + k*(x[i]-out[i-1])
	}
	return out
}

// SMA is NaN until the window fills.
func SMA(x []float64, period int) []float64 {
	if period < 1 {
		period = 1
	}
	if len(x) < period {
		return nanSeries(len(x))
	}
	out := talib.Sma(x, period)
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}
	return out
}

// StdDev is the population standard deviation over the window, NaN until filled.
func StdDev(x []float64, period int) []float64 {
	if period < 1 {
		period = 1
	}
	if len(x) < period {
		return nanSeries(len(x))
	}
	out := talib.StdDev(x, period, 1)
	for i := range out {
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		if out[i] < 0 || math.IsNaN(out[i]) {
			out[i] = 0
		}
	}
	return out
}

// RSI uses Wilder's average gain/loss. Values before the first full window
// are NeutralRSI; a window with no losses reads exactly 100.
func RSI(x []float64, period int) []float64 {
	out := fill(len(x), NeutralRSI)
	if period < 1 {
		period = 14
	}
	if len(x) <= period {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := x[i] - x[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	p := float64(period)
	avgGain, avgLoss := gain/p, loss/p
	out[period] = rsiValue(avgGain, avgLoss)
	for i := period + 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return clamp(100-100/(1+rs), 0, 100)
}

type MACDSeries struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD builds on EMA. Indices before slow-1 are zeroed.
func MACD(x []float64, fast, slow, signal int) MACDSeries {
	fastEMA := EMA(x, fast)
	slowEMA := EMA(x, slow)
	line := make([]float64, len(x))
	for i := range x {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig := EMA(line, signal)
	hist := make([]float64, len(x))
	for i := range x {
		hist[i] = line[i] - sig[i]
	}
	for i := 0; i < slow-1 && i < len(x); i++ {
		line[i], sig[i], hist[i] = 0, 0, 0
	}
	return MACDSeries{MACD: line, Signal: sig, Histogram: hist}
}

type BollingerSeries struct {
	Upper    []float64
	Middle   []float64
	Lower    []float64
	PercentB []float64
}

// Bollinger bands are NaN and %B is NeutralPercentB until the window fills.
func Bollinger(closes []float64, period int, k float64) BollingerSeries {
	mid := SMA(closes, period)
	sd := StdDev(closes, period)
	n := len(closes)
	out := BollingerSeries{
		Upper:    make([]float64, n),
		Middle:   mid,
		Lower:    make([]float64, n),
		PercentB: fill(n, NeutralPercentB),
	}
	for i := 0; i < n; i++ {
		if math.IsNaN(mid[i]) || math.IsNaN(sd[i]) {
			out.Upper[i], out.Lower[i] = math.NaN(), math.NaN()
			continue
		}
		out.Upper[i] = mid[i] + k*sd[i]
		out.Lower[i] = mid[i] - k*sd[i]
		if width := out.Upper[i] - out.Lower[i]; width > 0 {
			out.PercentB[i] = (closes[i] - out.Lower[i]) / width * 100
		}
	}
	return out
}

// ATR is Wilder-smoothed true range, zero until period+1 bars exist.
func ATR(candles []market.Candle, period int) []float64 {
	if period < 1 {
		period = 14
	}
	if len(candles) <= period {
		return make([]float64, len(candles))
	}
	highs, lows, closes := market.HLC(candles)
	return talib.Atr(highs, lows, closes, period)
}

type ADXSeries struct {
	ADX     []float64
	PlusDI  []float64
	MinusDI []float64
}

// ADX smooths +DM/-DM and true range Wilder-style, then takes EMA(DX, period).
// All three series are zero before index period.
func ADX(candles []market.Candle, period int) ADXSeries {
	n := len(candles)
	out := ADXSeries{ADX: make([]float64, n), PlusDI: make([]float64, n), MinusDI: make([]float64, n)}
	if period < 1 {
		period = 14
	}
	if n <= period {
		return out
	}
	highs, lows, closes := market.HLC(candles)
	tr := talib.TRange(highs, lows, closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}
	var sTR, sPlus, sMinus float64
	for i := 1; i <= period; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}
	p := float64(period)
	dx := make([]float64, 0, n-period)
	for i := period; i < n; i++ {
		if i > period {
			sTR = sTR - sTR/p + tr[i]
			sPlus = sPlus - sPlus/p + plusDM[i]
			sMinus = sMinus - sMinus/p + minusDM[i]
		}
		var pdi, mdi float64
		if sTR > 0 {
			pdi = 100 * sPlus / sTR
			mdi = 100 * sMinus / sTR
		}
		out.PlusDI[i], out.MinusDI[i] = pdi, mdi
		v := 0.0
		if sum := pdi + mdi; sum > 0 {
			v = 100 * math.Abs(pdi-mdi) / sum
		}
		dx = append(dx, v)
	}
	copy(out.ADX[period:], EMA(dx, period))
	return out
}

// VWAP is cumulative typical-price·volume over cumulative volume. Bars with
// no volume so far read their own typical price.
func VWAP(candles []market.Candle) []float64 {
	return vwap(candles, nil)
}

// SessionVWAP resets the accumulation whenever the calendar day in loc changes.
func SessionVWAP(candles []market.Candle, loc *time.Location) []float64 {
	if loc == nil {
		loc = time.UTC
	}
	return vwap(candles, loc)
}

func vwap(candles []market.Candle, loc *time.Location) []float64 {
	out := make([]float64, len(candles))
	var pv, vol float64
	lastDay := ""
	for i, c := range candles {
		if loc != nil {
			day := time.UnixMilli(c.OpenTime).In(loc).Format(time.DateOnly)
			if day != lastDay {
				pv, vol, lastDay = 0, 0, day
			}
		}
		tp := c.TypicalPrice()
		pv += tp * c.Volume
		vol += c.Volume
		if vol > 0 {
			out[i] = pv / vol
		} else {
			out[i] = tp
		}
	}
	return out
}

func nanSeries(n int) []float64 {
	return fill(n, math.NaN())
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func clamp(val, minVal, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
