package indicator

import "math"

// Divergence reports regular divergences between price and an oscillator
// across the two most recent confirmed pivots.
type Divergence struct {
	Bullish bool `json:"bullish"`
	Bearish bool `json:"bearish"`
}

const (
	defaultPivotPeriod = 3
	defaultDivLookback = 40
)

// DetectDivergence inspects price[..end] and osc[..end]. A pivot needs
// pivotPeriod bars on both sides, so the latest pivot is at most end-pivotPeriod.
//   - bullish: price makes a lower low while osc makes a higher low.
//   - bearish: price makes a higher high while osc makes a lower high.
func DetectDivergence(price, osc []float64, end, pivotPeriod, lookback int) Divergence {
	if pivotPeriod <= 0 {
		pivotPeriod = defaultPivotPeriod
	}
	if lookback <= 0 {
		lookback = defaultDivLookback
	}
	if end >= len(price) || end >= len(osc) || end < 0 {
		return Divergence{}
	}
	start := end - lookback + 1
	if start < 0 {
		start = 0
	}
	window := price[start : end+1]
	var out Divergence
	if lows := collectPivots(window, pivotPeriod, false, 2); len(lows) == 2 {
		newer, older := lows[0]+start, lows[1]+start
		out.Bullish = price[newer] < price[older] && osc[newer] > osc[older]
	}
	if highs := collectPivots(window, pivotPeriod, true, 2); len(highs) == 2 {
		newer, older := highs[0]+start, highs[1]+start
		out.Bearish = price[newer] > price[older] && osc[newer] < osc[older]
	}
	return out
}

// collectPivots walks backwards and returns up to maxKeep pivot positions,
// newest first.
func collectPivots(values []float64, prd int, isHigh bool, maxKeep int) []int {
	if len(values) < prd*2+1 || prd <= 0 || maxKeep <= 0 {
		return nil
	}
	positions := make([]int, 0, maxKeep)
	for i := len(values) - 1 - prd; i >= prd; i-- {
		if !isPivot(values, i, prd, isHigh) {
			continue
		}
		positions = append(positions, i)
		if len(positions) >= maxKeep {
			break
		}
	}
	return positions
}

func isPivot(values []float64, idx, prd int, isHigh bool) bool {
	if idx-prd < 0 || idx+prd >= len(values) {
		return false
	}
	center := values[idx]
	if math.IsNaN(center) {
		return false
	}
	for i := idx - prd; i <= idx+prd; i++ {
		if i == idx {
			continue
		}
		v := values[i]
		if math.IsNaN(v) {
			return false
		}
		if isHigh && v >= center && i > idx {
			return false
		}
		if isHigh && v > center {
			return false
		}
		if !isHigh && v <= center && i > idx {
			return false
		}
		if !isHigh && v < center {
			return false
		}
	}
	return true
}
