package decision

import (
	"fmt"
	"math"
	"time"

	"stuntman/internal/analysis/indicator"
	"stuntman/internal/market"
)

const reasonInsufficientData = "insufficient data"

// Weights are the per-check contributions to the bull/bear scores.
type Weights struct {
	Trend      float64 `json:"trend,omitempty" toml:"trend"`
	Crossover  float64 `json:"crossover,omitempty" toml:"crossover"`
	RSI        float64 `json:"rsi,omitempty" toml:"rsi"`
	Divergence float64 `json:"divergence,omitempty" toml:"divergence"`
	MACD       float64 `json:"macd,omitempty" toml:"macd"`
	Bollinger  float64 `json:"bollinger,omitempty" toml:"bollinger"`
	VWAP       float64 `json:"vwap,omitempty" toml:"vwap"`
	Volume     float64 `json:"volume,omitempty" toml:"volume"`
}

// ScorerConfig 汇总信号评分的全部可调常量。
type ScorerConfig struct {
	Indicators indicator.Settings `json:"indicators" toml:"indicators"`
	Regime     RegimeConfig       `json:"regime" toml:"regime"`
	Sizing     SizingConfig       `json:"sizing" toml:"sizing"`
	Weights    Weights            `json:"weights" toml:"weights"`

	MinBars int `json:"min_bars,omitempty" toml:"min_bars"`
	// Lookback 只取最近 N 根参与计算，0 表示全部。
	Lookback int `json:"lookback,omitempty" toml:"lookback"`

	BuyThreshold float64 `json:"buy_threshold,omitempty" toml:"buy_threshold"`
	// MinStrength 为负时关闭强度门槛。
	MinStrength  float64 `json:"min_strength,omitempty" toml:"min_strength"`
	StopATR      float64 `json:"stop_atr,omitempty" toml:"stop_atr"`
	TargetATR    float64 `json:"target_atr,omitempty" toml:"target_atr"`

	RSIOversold        float64 `json:"rsi_oversold,omitempty" toml:"rsi_oversold"`
	RSIOverbought      float64 `json:"rsi_overbought,omitempty" toml:"rsi_overbought"`
	VolumeSurge        float64 `json:"volume_surge,omitempty" toml:"volume_surge"`
	CrossLookback      int     `json:"cross_lookback,omitempty" toml:"cross_lookback"`
	MaxADXBoost        float64 `json:"max_adx_boost,omitempty" toml:"max_adx_boost"`
	DivergencePivot    int     `json:"divergence_pivot,omitempty" toml:"divergence_pivot"`
	DivergenceLookback int     `json:"divergence_lookback,omitempty" toml:"divergence_lookback"`
}

func DefaultScorerConfig() ScorerConfig {
	return NormalizeScorerConfig(ScorerConfig{})
}

// NormalizeScorerConfig fills in default values for missing fields.
func NormalizeScorerConfig(cfg ScorerConfig) ScorerConfig {
	cfg.Indicators = indicator.NormalizeSettings(cfg.Indicators)
	cfg.Regime = NormalizeRegimeConfig(cfg.Regime)
	cfg.Sizing = NormalizeSizingConfig(cfg.Sizing)
	if cfg.Weights == (Weights{}) {
		cfg.Weights = Weights{
			Trend:      25,
			Crossover:  15,
			RSI:        15,
			Divergence: 10,
			MACD:       15,
			Bollinger:  10,
			VWAP:       10,
			Volume:     10,
		}
	}
	if cfg.MinBars <= 0 {
		cfg.MinBars = 50
	}
	if cfg.Lookback < 0 {
		cfg.Lookback = 0
	}
	if cfg.Lookback > 0 && cfg.Lookback < cfg.MinBars {
		cfg.Lookback = cfg.MinBars
	}
	if cfg.BuyThreshold <= 0 {
		cfg.BuyThreshold = 60
	}
	if cfg.MinStrength == 0 {
		cfg.MinStrength = 40
	}
	if cfg.StopATR <= 0 {
		cfg.StopATR = 2.0
	}
	if cfg.TargetATR <= 0 {
		cfg.TargetATR = 3.0
	}
	if cfg.RSIOversold <= 0 {
		cfg.RSIOversold = 30
	}
	if cfg.RSIOverbought <= 0 {
		cfg.RSIOverbought = 70
	}
	if cfg.VolumeSurge <= 0 {
		cfg.VolumeSurge = 1.5
	}
	if cfg.CrossLookback <= 0 {
		cfg.CrossLookback = 3
	}
	if cfg.MaxADXBoost <= 0 {
		cfg.MaxADXBoost = 0.3
	}
	if cfg.DivergencePivot <= 0 {
		cfg.DivergencePivot = 3
	}
	if cfg.DivergenceLookback <= 0 {
		cfg.DivergenceLookback = 40
	}
	return cfg
}

// Scorer turns a candle history into a confluence signal. It holds only
// configuration and is safe for concurrent use.
type Scorer struct {
	cfg ScorerConfig
}

func NewScorer(cfg ScorerConfig) *Scorer {
	return &Scorer{cfg: NormalizeScorerConfig(cfg)}
}

func (s *Scorer) Config() ScorerConfig { return s.cfg }

// Score evaluates the last candle of history.
func (s *Scorer) Score(history []market.Candle, acct Account) Signal {
	if len(history) < s.cfg.MinBars {
		return holdInsufficient(history)
	}
	if s.cfg.Lookback > 0 && len(history) > s.cfg.Lookback {
		history = history[len(history)-s.cfg.Lookback:]
	}
	series := indicator.Compute(history, s.cfg.Indicators)
	return s.ScoreAt(series, series.Len()-1, acct)
}

// ScoreAt evaluates index i of a precomputed series.
func (s *Scorer) ScoreAt(series indicator.Series, i int, acct Account) Signal {
	if i < 0 || i >= series.Len() {
		return holdInsufficient(nil)
	}
	if i+1 < s.cfg.MinBars {
		return holdInsufficient(series.Candles[:i+1])
	}
	cfg := s.cfg
	snap := series.At(i)
	regime := ClassifyRegime(series, i, cfg.Regime)
	candle := series.Candles[i]

	t := &tally{}
	s.scoreTrend(t, snap)
	s.scoreCrossover(t, series, i)
	s.scoreRSI(t, series, i, snap)
	s.scoreMACD(t, series, i)
	s.scoreBollinger(t, candle, snap)
	s.scoreVWAP(t, snap)
	s.scoreVolume(t, candle, snap)

	if snap.ADX > cfg.Regime.TrendADX {
		mult := 1 + math.Min(cfg.MaxADXBoost, (snap.ADX-cfg.Regime.TrendADX)/50)
		switch {
		case t.bull > t.bear:
			t.bull *= mult
			t.add(fmt.Sprintf("ADX %.1f boosts bull side x%.2f", snap.ADX, mult))
		case t.bear > t.bull:
			t.bear *= mult
			t.add(fmt.Sprintf("ADX %.1f boosts bear side x%.2f", snap.ADX, mult))
		}
	}
	bull := roundFloat(math.Min(100, t.bull), 2)
	bear := roundFloat(math.Min(100, t.bear), 2)
	net := roundFloat(bull-bear, 2)

	sig := Signal{
		Action:     ActionHold,
		Confidence: math.Min(100, math.Abs(net)),
		Strength:   regime.Strength,
		EntryPrice: candle.Close,
		BullScore:  bull,
		BearScore:  bear,
		NetScore:   net,
		Indicators: snap,
		Regime:     regime,
		Timestamp:  time.UnixMilli(candle.OpenTime).UTC(),
	}

	action := decide(net, regime.Strength, cfg.BuyThreshold, cfg.MinStrength)
	if action != ActionHold && snap.ATR <= 0 {
		t.add("ATR unavailable, no stop distance")
		action = ActionHold
	}
	switch action {
	case ActionBuy:
		sig.StopLoss = RoundToTick(candle.Close-cfg.StopATR*snap.ATR, acct.TickSize)
		sig.TakeProfit = RoundToTick(candle.Close+cfg.TargetATR*snap.ATR, acct.TickSize)
	case ActionSell:
		sig.StopLoss = RoundToTick(candle.Close+cfg.StopATR*snap.ATR, acct.TickSize)
		sig.TakeProfit = RoundToTick(candle.Close-cfg.TargetATR*snap.ATR, acct.TickSize)
	}
	sig.Action = action
	if action != ActionHold {
		sig.RiskReward = roundFloat(cfg.TargetATR/cfg.StopATR, 2)
		sig.PositionSize = Size(SizeInput{
			Balance:        acct.Balance,
			MaxRiskPercent: acct.MaxRiskPercent,
			StopTicks:      StopTicks(sig.EntryPrice, sig.StopLoss, acct.TickSize),
			TickValue:      acct.TickValue,
			MaxContracts:   acct.MaxContracts,
			Volatility:     regime.Volatility,
			Confidence:     sig.Confidence,
		}, cfg.Sizing)
	}
	t.add(fmt.Sprintf("%s: bull %.1f bear %.1f net %.1f strength %.0f (%s, %s volatility)",
		action, bull, bear, net, regime.Strength, regime.Type, regime.Volatility))
	sig.Reasoning = t.reasons
	return sig
}

// decide applies the threshold rule; thresholds mirror for SELL.
func decide(net, strength, threshold, minStrength float64) Action {
	if strength < minStrength {
		return ActionHold
	}
	switch {
	case net >= threshold:
		return ActionBuy
	case net <= -threshold:
		return ActionSell
	default:
		return ActionHold
	}
}

type tally struct {
	bull, bear float64
	reasons    []string
}

func (t *tally) add(reason string) { t.reasons = append(t.reasons, reason) }

func (t *tally) vote(bullish bool, w float64, reason string) {
	if w <= 0 {
		return
	}
	if bullish {
		t.bull += w
	} else {
		t.bear += w
	}
	t.add(fmt.Sprintf("%s (%+.1f %s)", reason, w, side(bullish)))
}

func side(bullish bool) string {
	if bullish {
		return "bull"
	}
	return "bear"
}

func (s *Scorer) scoreTrend(t *tally, snap indicator.Snapshot) {
	w := s.cfg.Weights.Trend
	c := snap.Close
	switch {
	case c > snap.EMA9 && snap.EMA9 > snap.EMA21 && snap.EMA21 > snap.EMA50:
		t.vote(true, w, "trend: price > EMA9 > EMA21 > EMA50")
	case c < snap.EMA9 && snap.EMA9 < snap.EMA21 && snap.EMA21 < snap.EMA50:
		t.vote(false, w, "trend: price < EMA9 < EMA21 < EMA50")
	case c > snap.EMA50 && snap.EMA21 > snap.EMA50:
		t.vote(true, w/2, "trend: price above EMA50 with EMA21 > EMA50")
	case c < snap.EMA50 && snap.EMA21 < snap.EMA50:
		t.vote(false, w/2, "trend: price below EMA50 with EMA21 < EMA50")
	}
}

func (s *Scorer) scoreCrossover(t *tally, series indicator.Series, i int) {
	fast, slow := series.EMAFast, series.EMASlow
	for j := i; j > i-s.cfg.CrossLookback && j >= 1; j-- {
		if fast[j-1] <= slow[j-1] && fast[j] > slow[j] {
			t.vote(true, s.cfg.Weights.Crossover, fmt.Sprintf("EMA9 crossed above EMA21 %d bar(s) ago", i-j))
			return
		}
		if fast[j-1] >= slow[j-1] && fast[j] < slow[j] {
			t.vote(false, s.cfg.Weights.Crossover, fmt.Sprintf("EMA9 crossed below EMA21 %d bar(s) ago", i-j))
			return
		}
	}
}

func (s *Scorer) scoreRSI(t *tally, series indicator.Series, i int, snap indicator.Snapshot) {
	switch {
	case snap.RSI <= s.cfg.RSIOversold:
		t.vote(true, s.cfg.Weights.RSI, fmt.Sprintf("RSI %.1f oversold", snap.RSI))
	case snap.RSI >= s.cfg.RSIOverbought:
		t.vote(false, s.cfg.Weights.RSI, fmt.Sprintf("RSI %.1f overbought", snap.RSI))
	}
	div := indicator.DetectDivergence(series.Closes, series.RSI, i, s.cfg.DivergencePivot, s.cfg.DivergenceLookback)
	if div.Bullish {
		t.vote(true, s.cfg.Weights.Divergence, "bullish RSI divergence")
	}
	if div.Bearish {
		t.vote(false, s.cfg.Weights.Divergence, "bearish RSI divergence")
	}
}

func (s *Scorer) scoreMACD(t *tally, series indicator.Series, i int) {
	if i < 1 {
		return
	}
	h, prev := series.MACD.Histogram[i], series.MACD.Histogram[i-1]
	w := s.cfg.Weights.MACD
	switch {
	case h > 0 && prev <= 0:
		t.vote(true, w, "MACD histogram flipped positive")
	case h < 0 && prev >= 0:
		t.vote(false, w, "MACD histogram flipped negative")
	case h > 0 && h > prev:
		t.vote(true, w/2, "MACD momentum rising")
	case h < 0 && h < prev:
		t.vote(false, w/2, "MACD momentum falling")
	}
}

func (s *Scorer) scoreBollinger(t *tally, c market.Candle, snap indicator.Snapshot) {
	bb := snap.Bollinger
	if bb.Upper <= bb.Lower {
		return
	}
	switch {
	case c.Low <= bb.Lower:
		t.vote(true, s.cfg.Weights.Bollinger, fmt.Sprintf("lower Bollinger band touch (%%B %.0f)", bb.PercentB))
	case c.High >= bb.Upper:
		t.vote(false, s.cfg.Weights.Bollinger, fmt.Sprintf("upper Bollinger band touch (%%B %.0f)", bb.PercentB))
	}
}

func (s *Scorer) scoreVWAP(t *tally, snap indicator.Snapshot) {
	switch {
	case snap.VWAP <= 0:
	case snap.Close > snap.VWAP:
		t.vote(true, s.cfg.Weights.VWAP, fmt.Sprintf("price above VWAP %.2f", snap.VWAP))
	case snap.Close < snap.VWAP:
		t.vote(false, s.cfg.Weights.VWAP, fmt.Sprintf("price below VWAP %.2f", snap.VWAP))
	}
}

func (s *Scorer) scoreVolume(t *tally, c market.Candle, snap indicator.Snapshot) {
	if snap.Volume.Ratio < s.cfg.VolumeSurge || c.Close == c.Open {
		return
	}
	t.vote(c.Close > c.Open, s.cfg.Weights.Volume, fmt.Sprintf("volume %.1fx average confirms bar", snap.Volume.Ratio))
}

func holdInsufficient(history []market.Candle) Signal {
	sig := Signal{
		Action:    ActionHold,
		Reasoning: []string{reasonInsufficientData},
		Regime:    Regime{Type: RegimeRanging, Volatility: VolatilityNormal},
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		sig.EntryPrice = last.Close
		sig.Timestamp = time.UnixMilli(last.OpenTime).UTC()
	}
	return sig
}
