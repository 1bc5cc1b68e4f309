package strategy

import (
	"fmt"
	"math"

	"stuntman/internal/analysis/indicator"
	"stuntman/internal/decision"
	"stuntman/internal/market"
)

// tailBars 简单规则只在最近这些 bar 上重算指标。
const tailBars = 300

type exitParams struct {
	StopATR   float64
	TargetATR float64
	ATRPeriod int
	Contracts int
	TickSize  float64
}

// signal 以 ATR 倍数生成止损/止盈；ATR 未就绪时不出信号。
func (p exitParams) signal(action decision.Action, history []market.Candle, confidence float64, reason string) *decision.Signal {
	last := history[len(history)-1]
	atr := indicator.ATR(history, p.ATRPeriod)
	a := atr[len(atr)-1]
	if !(a > 0) || math.IsInf(a, 0) {
		return nil
	}
	entry := last.Close
	var stop, target float64
	if action == decision.ActionBuy {
		stop = entry - p.StopATR*a
		target = entry + p.TargetATR*a
	} else {
		stop = entry + p.StopATR*a
		target = entry - p.TargetATR*a
	}
	return &decision.Signal{
		Action:       action,
		Confidence:   confidence,
		Strength:     confidence,
		EntryPrice:   entry,
		StopLoss:     decision.RoundToTick(stop, p.TickSize),
		TakeProfit:   decision.RoundToTick(target, p.TickSize),
		RiskReward:   p.TargetATR / p.StopATR,
		PositionSize: max(p.Contracts, 1),
		Reasoning:    []string{reason},
		Timestamp:    last.Time(),
	}
}

func tail(history []market.Candle) []market.Candle {
	if len(history) > tailBars {
		return history[len(history)-tailBars:]
	}
	return history
}

// Confluence 包装 decision.Scorer。
type Confluence struct {
	name    string
	scorer  *decision.Scorer
	account decision.Account
}

func NewConfluence(name string, scorer *decision.Scorer, acct decision.Account) *Confluence {
	if name == "" {
		name = KindConfluence.String()
	}
	return &Confluence{name: name, scorer: scorer, account: acct}
}

func (c *Confluence) Name() string { return c.name }

func (c *Confluence) Evaluate(history []market.Candle) (*decision.Signal, error) {
	sig := c.scorer.Score(history, c.account)
	if !sig.Actionable() {
		return nil, nil
	}
	return &sig, nil
}

// EMACross 快线上穿慢线做多，下穿做空。
type EMACross struct {
	name       string
	fast, slow int
	exits      exitParams
}

func (r *EMACross) Name() string { return r.name }

func (r *EMACross) Evaluate(history []market.Candle) (*decision.Signal, error) {
	window := tail(history)
	if len(window) < r.slow+2 || len(window) <= r.exits.ATRPeriod {
		return nil, nil
	}
	closes := market.Closes(window)
	fast := indicator.EMA(closes, r.fast)
	slow := indicator.EMA(closes, r.slow)
	n := len(closes) - 1
	prevDiff := fast[n-1] - slow[n-1]
	diff := fast[n] - slow[n]
	switch {
	case prevDiff <= 0 && diff > 0:
		return r.exits.signal(decision.ActionBuy, window, 60, fmt.Sprintf("EMA%d crossed above EMA%d", r.fast, r.slow)), nil
	case prevDiff >= 0 && diff < 0:
		return r.exits.signal(decision.ActionSell, window, 60, fmt.Sprintf("EMA%d crossed below EMA%d", r.fast, r.slow)), nil
	}
	return nil, nil
}

// RSIReversion RSI 从超卖区回升做多，从超买区回落做空。
type RSIReversion struct {
	name                 string
	period               int
	oversold, overbought float64
	exits                exitParams
}

func (r *RSIReversion) Name() string { return r.name }

func (r *RSIReversion) Evaluate(history []market.Candle) (*decision.Signal, error) {
	window := tail(history)
	if len(window) < r.period+2 || len(window) <= r.exits.ATRPeriod {
		return nil, nil
	}
	rsi := indicator.RSI(market.Closes(window), r.period)
	n := len(rsi) - 1
	prev, cur := rsi[n-1], rsi[n]
	switch {
	case prev < r.oversold && cur >= r.oversold:
		return r.exits.signal(decision.ActionBuy, window, 55, fmt.Sprintf("RSI left oversold (%.1f -> %.1f)", prev, cur)), nil
	case prev > r.overbought && cur <= r.overbought:
		return r.exits.signal(decision.ActionSell, window, 55, fmt.Sprintf("RSI left overbought (%.1f -> %.1f)", prev, cur)), nil
	}
	return nil, nil
}

// BollingerFade 收盘跌破下轨做多，突破上轨做空。
type BollingerFade struct {
	name   string
	period int
	k      float64
	exits  exitParams
}

func (r *BollingerFade) Name() string { return r.name }

func (r *BollingerFade) Evaluate(history []market.Candle) (*decision.Signal, error) {
	window := tail(history)
	if len(window) < r.period || len(window) <= r.exits.ATRPeriod {
		return nil, nil
	}
	closes := market.Closes(window)
	bands := indicator.Bollinger(closes, r.period, r.k)
	n := len(closes) - 1
	upper, lower := bands.Upper[n], bands.Lower[n]
	if math.IsNaN(upper) || math.IsNaN(lower) {
		return nil, nil
	}
	switch {
	case closes[n] < lower:
		return r.exits.signal(decision.ActionBuy, window, 50, fmt.Sprintf("close %.2f below lower band %.2f", closes[n], lower)), nil
	case closes[n] > upper:
		return r.exits.signal(decision.ActionSell, window, 50, fmt.Sprintf("close %.2f above upper band %.2f", closes[n], upper)), nil
	}
	return nil, nil
}
