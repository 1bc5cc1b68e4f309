package decision

import "math"

// SizingConfig holds the risk-adjustment multipliers for position sizing.
type SizingConfig struct {
	// HighVolMultiplier scales size in HIGH volatility (default: 0.7).
	HighVolMultiplier float64 `json:"high_vol_multiplier,omitempty" toml:"high_vol_multiplier"`
	// ExtremeVolMultiplier scales size in EXTREME volatility (default: 0.5).
	ExtremeVolMultiplier float64 `json:"extreme_vol_multiplier,omitempty" toml:"extreme_vol_multiplier"`
	// LowConfidence is the confidence below which size is cut (default: 70).
	LowConfidence float64 `json:"low_confidence,omitempty" toml:"low_confidence"`
	// LowConfidenceMultiplier scales size when confidence < LowConfidence (default: 0.5).
	LowConfidenceMultiplier float64 `json:"low_confidence_multiplier,omitempty" toml:"low_confidence_multiplier"`
}

// SizeInput is everything the sizer needs for one decision.
type SizeInput struct {
	Balance        float64
	MaxRiskPercent float64
	StopTicks      float64
	TickValue      float64
	MaxContracts   int
	Volatility     Volatility
	Confidence     float64
}

// DefaultSizingConfig returns the default configuration.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		HighVolMultiplier:       0.7,
		ExtremeVolMultiplier:    0.5,
		LowConfidence:           70,
		LowConfidenceMultiplier: 0.5,
	}
}

// NormalizeSizingConfig fills in default values for missing fields.
func NormalizeSizingConfig(cfg SizingConfig) SizingConfig {
	def := DefaultSizingConfig()
	if cfg.HighVolMultiplier <= 0 {
		cfg.HighVolMultiplier = def.HighVolMultiplier
	}
	if cfg.ExtremeVolMultiplier <= 0 {
		cfg.ExtremeVolMultiplier = def.ExtremeVolMultiplier
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = def.LowConfidence
	}
	if cfg.LowConfidenceMultiplier <= 0 {
		cfg.LowConfidenceMultiplier = def.LowConfidenceMultiplier
	}
	return cfg
}

// Size computes a contract count by fixed-fractional risk ("以损订仓").
//
//	base = floor((balance * maxRiskPercent/100) / (stopTicks * tickValue))
//	size = base * volMultiplier * confidenceMultiplier, floored
//	size = clamp(size, 1, maxContracts)
//
// Skipping a setup is a HOLD action, never a zero size. A non-positive stop
// distance or tick value yields the minimum of 1.
func Size(in SizeInput, cfg SizingConfig) int {
	cfg = NormalizeSizingConfig(cfg)
	maxContracts := in.MaxContracts
	if maxContracts < 1 {
		maxContracts = 1
	}
	riskPerContract := in.StopTicks * in.TickValue
	if in.Balance <= 0 || in.MaxRiskPercent <= 0 || riskPerContract <= 0 {
		return 1
	}

	maxLoss := in.Balance * (in.MaxRiskPercent / 100.0)
	size := math.Floor(maxLoss / riskPerContract)

	switch in.Volatility {
	case VolatilityHigh:
		size *= cfg.HighVolMultiplier
	case VolatilityExtreme:
		size *= cfg.ExtremeVolMultiplier
	}
	if in.Confidence < cfg.LowConfidence {
		size *= cfg.LowConfidenceMultiplier
	}

	// 先在 float 上钳制，超大值转 int 会溢出。
	size = math.Min(math.Floor(size), float64(maxContracts))
	if size < 1 {
		return 1
	}
	return int(size)
}

// StopTicks converts the entry/stop distance into whole-or-fractional ticks.
func StopTicks(entry, stop, tickSize float64) float64 {
	if tickSize <= 0 {
		return 0
	}
	return math.Abs(entry-stop) / tickSize
}

// RoundToTick snaps a price to the nearest tick; tickSize <= 0 leaves it unchanged.
func RoundToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	return math.Round(price/tickSize) * tickSize
}
