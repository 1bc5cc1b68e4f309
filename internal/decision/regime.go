package decision

import (
	"math"

	"stuntman/internal/analysis/indicator"
)

// RegimeConfig holds the volatility and trend bucket boundaries.
type RegimeConfig struct {
	// ATRAverageBars is the trailing window for the mean ATR (default: 20).
	ATRAverageBars int     `json:"atr_average_bars,omitempty" toml:"atr_average_bars"`
	LowVolRatio    float64 `json:"low_vol_ratio,omitempty" toml:"low_vol_ratio"`
	NormalVolRatio float64 `json:"normal_vol_ratio,omitempty" toml:"normal_vol_ratio"`
	HighVolRatio   float64 `json:"high_vol_ratio,omitempty" toml:"high_vol_ratio"`
	TrendADX       float64 `json:"trend_adx,omitempty" toml:"trend_adx"`
	StrongTrendADX float64 `json:"strong_trend_adx,omitempty" toml:"strong_trend_adx"`
}

func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		ATRAverageBars: 20,
		LowVolRatio:    0.7,
		NormalVolRatio: 1.3,
		HighVolRatio:   2.0,
		TrendADX:       25,
		StrongTrendADX: 40,
	}
}

// NormalizeRegimeConfig fills in default values for missing fields.
func NormalizeRegimeConfig(cfg RegimeConfig) RegimeConfig {
	def := DefaultRegimeConfig()
	if cfg.ATRAverageBars <= 0 {
		cfg.ATRAverageBars = def.ATRAverageBars
	}
	if cfg.LowVolRatio <= 0 {
		cfg.LowVolRatio = def.LowVolRatio
	}
	if cfg.NormalVolRatio <= 0 {
		cfg.NormalVolRatio = def.NormalVolRatio
	}
	if cfg.HighVolRatio <= 0 {
		cfg.HighVolRatio = def.HighVolRatio
	}
	if cfg.TrendADX <= 0 {
		cfg.TrendADX = def.TrendADX
	}
	if cfg.StrongTrendADX <= 0 {
		cfg.StrongTrendADX = def.StrongTrendADX
	}
	return cfg
}

// ClassifyRegime labels volatility and trend at index i of a computed series.
//
//	volatility = ATR[i] / mean(ATR over the trailing window): <0.7 LOW, <1.3 NORMAL, <2.0 HIGH, else EXTREME
//	trend      = ADX > 40 strong, ADX > 25 trend, else ranging; direction from sign((EMA20-EMA50)/EMA50)
//	strength   = min(100, 2*ADX)
//
// ATR values still in warm-up are left out of the mean; with no usable mean
// the volatility bucket is NORMAL.
func ClassifyRegime(s indicator.Series, i int, cfg RegimeConfig) Regime {
	cfg = NormalizeRegimeConfig(cfg)
	snap := s.At(i)
	out := Regime{
		Type:       RegimeRanging,
		Volatility: VolatilityNormal,
		ATR:        snap.ATR,
		ADX:        snap.ADX,
		Strength:   math.Min(100, snap.ADX*2),
	}
	if s.Len() == 0 || i < 0 || i >= s.Len() {
		return out
	}

	if avg := trailingMean(s.ATR, i, cfg.ATRAverageBars); avg > 0 && snap.ATR > 0 {
		out.ATRRatio = roundFloat(snap.ATR/avg, 4)
		out.Volatility = volatilityBucket(out.ATRRatio, cfg)
	}

	slope := 0.0
	if snap.EMA50 != 0 {
		slope = (snap.EMA20 - snap.EMA50) / snap.EMA50
	}
	switch {
	case snap.ADX > cfg.StrongTrendADX && slope > 0:
		out.Type = RegimeStrongTrendUp
	case snap.ADX > cfg.StrongTrendADX && slope < 0:
		out.Type = RegimeStrongTrendDown
	case snap.ADX > cfg.TrendADX && slope > 0:
		out.Type = RegimeTrendUp
	case snap.ADX > cfg.TrendADX && slope < 0:
		out.Type = RegimeTrendDown
	}
	return out
}

func volatilityBucket(ratio float64, cfg RegimeConfig) Volatility {
	switch {
	case ratio < cfg.LowVolRatio:
		return VolatilityLow
	case ratio < cfg.NormalVolRatio:
		return VolatilityNormal
	case ratio < cfg.HighVolRatio:
		return VolatilityHigh
	default:
		return VolatilityExtreme
	}
}

// trailingMean averages the positive values among the last n elements ending at i.
func trailingMean(series []float64, i, n int) float64 {
	start := i - n + 1
	if start < 0 {
		start = 0
	}
	var sum float64
	var count int
	for j := start; j <= i && j < len(series); j++ {
		v := series[j]
		if v <= 0 || math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func roundFloat(v float64, digits int) float64 {
	factor := math.Pow10(digits)
	return math.Round(v*factor) / factor
}
