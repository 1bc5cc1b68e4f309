package decision

import (
	"time"

	"stuntman/internal/analysis/indicator"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

type RegimeType string

const (
	RegimeStrongTrendUp   RegimeType = "STRONG_TREND_UP"
	RegimeTrendUp         RegimeType = "TREND_UP"
	RegimeRanging         RegimeType = "RANGING"
	RegimeTrendDown       RegimeType = "TREND_DOWN"
	RegimeStrongTrendDown RegimeType = "STRONG_TREND_DOWN"
)

type Volatility string

const (
	VolatilityLow     Volatility = "LOW"
	VolatilityNormal  Volatility = "NORMAL"
	VolatilityHigh    Volatility = "HIGH"
	VolatilityExtreme Volatility = "EXTREME"
)

// Regime 当前波动/趋势状态，仅作为瞬时值存在。
type Regime struct {
	Type       RegimeType `json:"type"`
	Strength   float64    `json:"strength"`
	Volatility Volatility `json:"volatility"`
	ATR        float64    `json:"atr"`
	ADX        float64    `json:"adx"`
	// ATRRatio 当前 ATR / 近 N 根平均 ATR。
	ATRRatio float64 `json:"atr_ratio"`
}

// Account 账户风险参数。
type Account struct {
	Balance        float64 `json:"balance" toml:"balance"`
	MaxRiskPercent float64 `json:"max_risk_percent" toml:"max_risk_percent"`
	TickSize       float64 `json:"tick_size" toml:"tick_size"`
	TickValue      float64 `json:"tick_value" toml:"tick_value"`
	MaxContracts   int     `json:"max_contracts" toml:"max_contracts"`
}

// Signal 单次评估的输出，创建后不再修改。
type Signal struct {
	Action       Action             `json:"action"`
	Confidence   float64            `json:"confidence"`
	Strength     float64            `json:"strength"`
	EntryPrice   float64            `json:"entry_price"`
	StopLoss     float64            `json:"stop_loss,omitempty"`
	TakeProfit   float64            `json:"take_profit,omitempty"`
	RiskReward   float64            `json:"risk_reward,omitempty"`
	PositionSize int                `json:"position_size,omitempty"`
	BullScore    float64            `json:"bull_score"`
	BearScore    float64            `json:"bear_score"`
	NetScore     float64            `json:"net_score"`
	Reasoning    []string           `json:"reasoning"`
	Indicators   indicator.Snapshot `json:"indicators"`
	Regime       Regime             `json:"regime"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Actionable 是否为开仓信号。
func (s *Signal) Actionable() bool {
	return s != nil && (s.Action == ActionBuy || s.Action == ActionSell)
}
