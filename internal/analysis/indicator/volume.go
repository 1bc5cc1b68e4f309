package indicator

import (
	"math"

	"github.com/shopspring/decimal"

	"stuntman/internal/market"
)

const volumeProfileBins = 12

// VolumeProfile summarizes participation over the trailing lookback.
//   - Ratio: current volume / average volume, 0 while the average is undefined.
//   - POC: typical price of the bin that traded the most volume.
type VolumeProfile struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Ratio   float64 `json:"ratio"`
	POC     float64 `json:"poc"`
}

func (s Series) volumeProfile(i int) VolumeProfile {
	c := s.Candles[i]
	vp := VolumeProfile{Current: c.Volume, Average: finite(s.VolumeAvg[i])}
	if vp.Average > 0 {
		vp.Ratio = c.Volume / vp.Average
	}
	start := i - s.Settings.Volume + 1
	if start < 0 {
		start = 0
	}
	vp.POC = PointOfControl(s.Candles[start : i+1])
	return vp
}

// PointOfControl bins typical prices into equal-width buckets and returns the
// centre of the heaviest bucket. Lower buckets win ties.
func PointOfControl(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range candles {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	if hi <= lo {
		return candles[len(candles)-1].TypicalPrice()
	}
	width := (hi - lo) / volumeProfileBins
	bins := make([]decimal.Decimal, volumeProfileBins)
	for i := range bins {
		bins[i] = decimal.Zero
	}
	for _, c := range candles {
		idx := int((c.TypicalPrice() - lo) / width)
		if idx >= volumeProfileBins {
			idx = volumeProfileBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		bins[idx] = bins[idx].Add(decimal.NewFromFloat(c.Volume))
	}
	best := 0
	for i := 1; i < len(bins); i++ {
		if bins[i].GreaterThan(bins[best]) {
			best = i
		}
	}
	return lo + width*(float64(best)+0.5)
}
