// Package validation 从交易账本汇总策略统计并按阈值判定是否可上线。
// 所有结果每次都从账本重新计算。
package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stuntman/internal/backtest"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusValidated Status = "VALIDATED"
	StatusFailed    Status = "FAILED"
)

// ProfitFactorCap 毛亏损为 0 且有盈利时的利润因子。
const ProfitFactorCap = 999.0

type Stats struct {
	Strategy         string    `json:"strategy"`
	Trades           int       `json:"trades"`
	Wins             int       `json:"wins"`
	Losses           int       `json:"losses"`
	WinRate          float64   `json:"win_rate"`
	GrossProfit      float64   `json:"gross_profit"`
	GrossLoss        float64   `json:"gross_loss"`
	NetPnL           float64   `json:"net_pnl"`
	ProfitFactor     float64   `json:"profit_factor"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	AvgWin           float64   `json:"avg_win"`
	AvgLoss          float64   `json:"avg_loss"`
	Expectancy       float64   `json:"expectancy"`
	AvgSlippage      float64   `json:"avg_slippage"`
	AvgLatency       float64   `json:"avg_latency_ms"`
	DaysTraded       int       `json:"days_traded"`
	ProfitableDays   int       `json:"profitable_days"`
	ConsistencyScore float64   `json:"consistency_score"`
	Status           Status    `json:"status"`
	FailureReasons   []string  `json:"failure_reasons"`
	LastUpdated      time.Time `json:"last_updated"`
}

type DailyPerformance struct {
	Date   string  `json:"date"`
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	PnL    float64 `json:"pnl"`
}

// Filter 取出属于 strategy 的交易，保持原顺序。
func Filter(pool []backtest.Trade, strategy string) []backtest.Trade {
	out := make([]backtest.Trade, 0, len(pool))
	for _, t := range pool {
		if t.Strategy == strategy {
			out = append(out, t)
		}
	}
	return out
}

// Validate 汇总 trades 并按 c 判定状态。盈利定义为 pnl > 0，其余都计为亏损。
func Validate(strategy string, trades []backtest.Trade, c Criteria) Stats {
	st := Stats{Strategy: strategy, Trades: len(trades)}
	if len(trades) == 0 {
		st.Status, st.FailureReasons = judge(st, c)
		return st
	}

	ordered := byExit(trades)
	gp, gl := decimal.Zero, decimal.Zero
	slip, latency := decimal.Zero, decimal.Zero
	cum, peak := decimal.Zero, decimal.Zero
	maxDD := decimal.Zero
	for _, t := range ordered {
		pnl := decimal.NewFromFloat(t.PnL)
		if t.PnL > 0 {
			st.Wins++
			gp = gp.Add(pnl)
		} else {
			gl = gl.Add(pnl.Neg())
		}
		slip = slip.Add(decimal.NewFromFloat(t.Slippage))
		latency = latency.Add(decimal.NewFromFloat(t.LatencyMs))
		cum = cum.Add(pnl)
		if cum.GreaterThan(peak) {
			peak = cum
		}
		if dd := peak.Sub(cum); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
		if t.ExitTime.After(st.LastUpdated) {
			st.LastUpdated = t.ExitTime
		}
	}
	n := decimal.NewFromInt(int64(st.Trades))
	st.Losses = st.Trades - st.Wins
	st.WinRate = float64(st.Wins) / float64(st.Trades)
	st.GrossProfit = gp.InexactFloat64()
	st.GrossLoss = gl.InexactFloat64()
	// 与两项毛值同源，保证 net == gp - gl 按 float 精确成立。
	st.NetPnL = st.GrossProfit - st.GrossLoss
	st.MaxDrawdown = maxDD.InexactFloat64()
	st.AvgSlippage = slip.Div(n).InexactFloat64()
	st.AvgLatency = latency.Div(n).InexactFloat64()
	if st.Wins > 0 {
		st.AvgWin = gp.Div(decimal.NewFromInt(int64(st.Wins))).InexactFloat64()
	}
	if st.Losses > 0 {
		st.AvgLoss = gl.Div(decimal.NewFromInt(int64(st.Losses))).InexactFloat64()
	}
	switch {
	case gl.IsPositive():
		st.ProfitFactor = gp.Div(gl).InexactFloat64()
	case gp.IsPositive():
		st.ProfitFactor = ProfitFactorCap
	}
	st.Expectancy = st.WinRate*st.AvgWin - (1-st.WinRate)*st.AvgLoss

	daily := Daily(ordered)
	st.DaysTraded = len(daily)
	for _, d := range daily {
		if d.PnL > 0 {
			st.ProfitableDays++
		}
	}
	if st.DaysTraded > 0 {
		st.ConsistencyScore = float64(st.ProfitableDays) / float64(st.DaysTraded)
	}

	st.Status, st.FailureReasons = judge(st, c)
	return st
}

func judge(st Stats, c Criteria) (Status, []string) {
	if st.Trades < c.MinTrades {
		return StatusPending, []string{fmt.Sprintf("trades %d < %d", st.Trades, c.MinTrades)}
	}
	reasons := []string{}
	if st.WinRate < c.MinWinRate {
		reasons = append(reasons, fmt.Sprintf("win rate %.1f%% < %.1f%%", st.WinRate*100, c.MinWinRate*100))
	}
	if st.ProfitFactor < c.MinProfitFactor {
		reasons = append(reasons, fmt.Sprintf("profit factor %.2f < %.2f", st.ProfitFactor, c.MinProfitFactor))
	}
	if st.MaxDrawdown > c.MaxDrawdown {
		reasons = append(reasons, fmt.Sprintf("max drawdown %.2f > %.2f", st.MaxDrawdown, c.MaxDrawdown))
	}
	if st.DaysTraded < c.MinDaysTraded {
		reasons = append(reasons, fmt.Sprintf("days traded %d < %d", st.DaysTraded, c.MinDaysTraded))
	}
	if st.AvgSlippage > c.MaxAvgSlippage {
		reasons = append(reasons, fmt.Sprintf("avg slippage %.2f > %.2f", st.AvgSlippage, c.MaxAvgSlippage))
	}
	if st.ConsistencyScore < c.MinConsistency {
		reasons = append(reasons, fmt.Sprintf("consistency %.1f%% < %.1f%%", st.ConsistencyScore*100, c.MinConsistency*100))
	}
	if len(reasons) > 0 {
		return StatusFailed, reasons
	}
	return StatusValidated, reasons
}

// Daily 按平仓时间的 UTC 日期汇总，日期升序。
func Daily(trades []backtest.Trade) []DailyPerformance {
	type acc struct {
		trades, wins int
		pnl          decimal.Decimal
	}
	days := map[string]*acc{}
	for _, t := range trades {
		key := t.ExitTime.UTC().Format("2006-01-02")
		a, ok := days[key]
		if !ok {
			a = &acc{pnl: decimal.Zero}
			days[key] = a
		}
		a.trades++
		if t.PnL > 0 {
			a.wins++
		}
		a.pnl = a.pnl.Add(decimal.NewFromFloat(t.PnL))
	}
	out := make([]DailyPerformance, 0, len(days))
	for k, a := range days {
		out = append(out, DailyPerformance{Date: k, Trades: a.trades, Wins: a.wins, PnL: a.pnl.InexactFloat64()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func byExit(trades []backtest.Trade) []backtest.Trade {
	out := append([]backtest.Trade(nil), trades...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExitTime.Before(out[j].ExitTime) })
	return out
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, "; ")
}
