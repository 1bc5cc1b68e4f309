package backtest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign 多头 +1，空头 -1。
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

type ExitType string

const (
	ExitStopLoss   ExitType = "STOP_LOSS"
	ExitTakeProfit ExitType = "TAKE_PROFIT"
	ExitTime       ExitType = "TIME_EXIT"
)

// IntrabarPolicy 决定同一根 bar 同时触及止损与止盈时的先后。
type IntrabarPolicy string

const (
	StopFirst   IntrabarPolicy = "stop_first"
	TargetFirst IntrabarPolicy = "target_first"
	// NearestOpen 离开盘价更近的价位先成交。
	NearestOpen IntrabarPolicy = "nearest_open"
)

func ParseIntrabarPolicy(s string) (IntrabarPolicy, error) {
	switch p := IntrabarPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return StopFirst, nil
	case StopFirst, TargetFirst, NearestOpen:
		return p, nil
	default:
		return "", fmt.Errorf("unknown intrabar policy %q", s)
	}
}

var ErrInvalidSignal = errors.New("invalid signal levels")

// Position 模拟器持有的唯一持仓。
type Position struct {
	Direction  Direction
	EntryIndex int
	EntryTime  time.Time
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Quantity   int
}

// Trade 平仓后写入账本，不再修改。
type Trade struct {
	Strategy   string    `json:"strategy"`
	Direction  Direction `json:"direction"`
	EntryTime  time.Time `json:"entry_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitTime   time.Time `json:"exit_time"`
	ExitPrice  float64   `json:"exit_price"`
	ExitType   ExitType  `json:"exit_type"`
	Quantity   int       `json:"quantity"`
	PnL        float64   `json:"pnl"`
	HoldBars   int       `json:"hold_bars"`
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"`
	LatencyMs  float64   `json:"latency_ms,omitempty"`
}

// RuleFailure 记录规则在某根 bar 上的错误或 panic，回测继续。
type RuleFailure struct {
	Strategy string    `json:"strategy"`
	BarIndex int       `json:"bar_index"`
	BarTime  time.Time `json:"bar_time"`
	Err      string    `json:"error"`
}

func (f RuleFailure) Error() string {
	return fmt.Sprintf("%s failed at bar %d: %s", f.Strategy, f.BarIndex, f.Err)
}

// Result 单次回测的输出。
type Result struct {
	Strategy   string        `json:"strategy"`
	Bars       int           `json:"bars"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Trades     []Trade       `json:"trades"`
	Failures   []RuleFailure `json:"failures,omitempty"`
	HaltedDays []string      `json:"halted_days,omitempty"`
	// StoppedAt 触发 DrawdownStop 的 bar 下标，-1 表示未触发。
	StoppedAt int     `json:"stopped_at"`
	NetPnL    float64 `json:"net_pnl"`
}

// SimConfig 模拟器的全部常量，显式传入。
type SimConfig struct {
	ContractMultiplier float64        `toml:"contract_multiplier" json:"contract_multiplier"`
	Commission         float64        `toml:"commission" json:"commission"`
	Slippage           float64        `toml:"slippage" json:"slippage"`
	MaxHoldBars        int            `toml:"max_hold_bars" json:"max_hold_bars"`
	CooldownBars       int            `toml:"cooldown_bars" json:"cooldown_bars"`
	WarmupBars         int            `toml:"warmup_bars" json:"warmup_bars"`
	IntrabarPolicy     IntrabarPolicy `toml:"intrabar_policy" json:"intrabar_policy"`
	// DailyLossLimit 当日已实现亏损达到该值后当天不再开仓，0 表示关闭。
	DailyLossLimit float64 `toml:"daily_loss_limit" json:"daily_loss_limit"`
	// DrawdownStop 已实现回撤（货币）达到该值后本次运行不再开仓，0 表示关闭。
	DrawdownStop float64 `toml:"drawdown_stop" json:"drawdown_stop"`
	MaxContracts int     `toml:"max_contracts" json:"max_contracts"`
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		ContractMultiplier: 50,
		Commission:         4.5,
		Slippage:           12.5,
		MaxHoldBars:        40,
		CooldownBars:       3,
		WarmupBars:         50,
		IntrabarPolicy:     StopFirst,
	}
}

// NormalizeSimConfig 只修正非法值；0 对冷却、预热、持仓上限都是合法取值。
func NormalizeSimConfig(cfg SimConfig) SimConfig {
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = 1
	}
	if cfg.Commission < 0 {
		cfg.Commission = 0
	}
	if cfg.Slippage < 0 {
		cfg.Slippage = 0
	}
	if cfg.MaxHoldBars < 0 {
		cfg.MaxHoldBars = 0
	}
	if cfg.CooldownBars < 0 {
		cfg.CooldownBars = 0
	}
	if cfg.WarmupBars < 0 {
		cfg.WarmupBars = 0
	}
	if cfg.DailyLossLimit < 0 {
		cfg.DailyLossLimit = -cfg.DailyLossLimit
	}
	if cfg.DrawdownStop < 0 {
		cfg.DrawdownStop = -cfg.DrawdownStop
	}
	if cfg.MaxContracts < 0 {
		cfg.MaxContracts = 0
	}
	if p, err := ParseIntrabarPolicy(string(cfg.IntrabarPolicy)); err == nil {
		cfg.IntrabarPolicy = p
	} else {
		cfg.IntrabarPolicy = StopFirst
	}
	return cfg
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
