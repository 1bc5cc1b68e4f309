// Package report 以终端表格和 HTML 图表渲染信号、回测与验证结果。
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"stuntman/internal/backtest"
	"stuntman/internal/decision"
	"stuntman/internal/validation"
)

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func rightAlign(cols ...int) []table.ColumnConfig {
	out := make([]table.ColumnConfig, 0, len(cols))
	for _, n := range cols {
		out = append(out, table.ColumnConfig{Number: n, Align: text.AlignRight})
	}
	return out
}

// TrimTo 限制字符串长度，超长则追加省略号。
func TrimTo(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Signal 输出单个信号及其理由。
func Signal(w io.Writer, symbol string, sig decision.Signal) {
	t := newTable(w, fmt.Sprintf("%s signal", symbol))
	t.AppendRows([]table.Row{
		{"action", sig.Action},
		{"confidence", fmt.Sprintf("%.0f", sig.Confidence)},
		{"score", fmt.Sprintf("bull %.1f / bear %.1f / net %.1f", sig.BullScore, sig.BearScore, sig.NetScore)},
		{"regime", fmt.Sprintf("%s (%s vol, strength %.0f)", sig.Regime.Type, sig.Regime.Volatility, sig.Regime.Strength)},
	})
	if sig.Actionable() {
		t.AppendRows([]table.Row{
			{"entry", fmt.Sprintf("%.2f", sig.EntryPrice)},
			{"stop / target", fmt.Sprintf("%.2f / %.2f", sig.StopLoss, sig.TakeProfit)},
			{"risk:reward", fmt.Sprintf("1:%.2f", sig.RiskReward)},
			{"contracts", sig.PositionSize},
		})
	}
	t.AppendSeparator()
	for _, r := range sig.Reasoning {
		t.AppendRow(table.Row{"", TrimTo(strings.ReplaceAll(r, "\n", " "), 80)})
	}
	t.Render()
}

// Trades 逐笔输出，末行为合计。
func Trades(w io.Writer, trades []backtest.Trade) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"#", "strategy", "dir", "entry", "price", "exit", "price", "type", "qty", "bars", "pnl"})
	total := 0.0
	for i, tr := range trades {
		total += tr.PnL
		t.AppendRow(table.Row{
			i + 1, tr.Strategy, tr.Direction,
			tr.EntryTime.UTC().Format(timeLayout), fmt.Sprintf("%.2f", tr.EntryPrice),
			tr.ExitTime.UTC().Format(timeLayout), fmt.Sprintf("%.2f", tr.ExitPrice),
			tr.ExitType, tr.Quantity, tr.HoldBars, fmt.Sprintf("%.2f", tr.PnL),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "", "", "total", fmt.Sprintf("%.2f", total)})
	t.SetColumnConfigs(rightAlign(5, 7, 9, 10, 11))
	t.Render()
}

// Stats 每个策略一行。
func Stats(w io.Writer, stats []validation.Stats) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"strategy", "status", "trades", "win%", "pf", "net", "max dd", "expectancy", "days", "consistency"})
	for _, st := range stats {
		t.AppendRow(statsRow(st))
	}
	t.SetColumnConfigs(rightAlign(3, 4, 5, 6, 7, 8, 9, 10))
	t.Render()
}

func statsRow(st validation.Stats) table.Row {
	return table.Row{
		st.Strategy, st.Status, st.Trades,
		fmt.Sprintf("%.1f", st.WinRate*100),
		fmt.Sprintf("%.2f", st.ProfitFactor),
		fmt.Sprintf("%.2f", st.NetPnL),
		fmt.Sprintf("%.2f", st.MaxDrawdown),
		fmt.Sprintf("%.2f", st.Expectancy),
		st.DaysTraded,
		fmt.Sprintf("%.0f%%", st.ConsistencyScore*100),
	}
}

// Report 验证报告：阈值对照、每日表现与建议。
func Report(w io.Writer, rep validation.Report) {
	st, c := rep.Stats, rep.Criteria
	t := newTable(w, fmt.Sprintf("%s %s", rep.Strategy, rep.Status))
	t.AppendHeader(table.Row{"metric", "actual", "required (" + c.Name + ")"})
	t.AppendRows([]table.Row{
		{"trades", st.Trades, fmt.Sprintf(">= %d", c.MinTrades)},
		{"win rate", fmt.Sprintf("%.1f%%", st.WinRate*100), fmt.Sprintf(">= %.1f%%", c.MinWinRate*100)},
		{"profit factor", fmt.Sprintf("%.2f", st.ProfitFactor), fmt.Sprintf(">= %.2f", c.MinProfitFactor)},
		{"max drawdown", fmt.Sprintf("%.2f", st.MaxDrawdown), fmt.Sprintf("<= %.2f", c.MaxDrawdown)},
		{"days traded", st.DaysTraded, fmt.Sprintf(">= %d", c.MinDaysTraded)},
		{"avg slippage", fmt.Sprintf("%.2f", st.AvgSlippage), fmt.Sprintf("<= %.2f", c.MaxAvgSlippage)},
		{"consistency", fmt.Sprintf("%.0f%%", st.ConsistencyScore*100), fmt.Sprintf(">= %.0f%%", c.MinConsistency*100)},
	})
	t.SetColumnConfigs(rightAlign(2, 3))
	t.Render()

	if len(rep.DailyPerformance) > 0 {
		d := newTable(w, "daily")
		d.AppendHeader(table.Row{"date", "trades", "wins", "pnl"})
		for _, day := range rep.DailyPerformance {
			d.AppendRow(table.Row{day.Date, day.Trades, day.Wins, fmt.Sprintf("%.2f", day.PnL)})
		}
		d.SetColumnConfigs(rightAlign(2, 3, 4))
		d.Render()
	}
	for _, reason := range st.FailureReasons {
		fmt.Fprintf(w, "  - %s\n", reason)
	}
	fmt.Fprintln(w, rep.Recommendation)
}

// WalkForward 每个窗口一行，标题带结论。
func WalkForward(w io.Writer, res backtest.WalkForwardResult) {
	t := newTable(w, fmt.Sprintf("%s walk-forward %d/%d: %s", res.Strategy, res.WindowSize, res.StepSize, res.Verdict))
	t.AppendHeader(table.Row{"window", "from", "to", "trades", "pnl", ""})
	for _, win := range res.Windows {
		mark := ""
		if win.Profitable {
			mark = "+"
		}
		t.AppendRow(table.Row{
			win.Index + 1, win.Start.UTC().Format(timeLayout), win.End.UTC().Format(timeLayout),
			win.Trades, fmt.Sprintf("%.2f", win.PnL), mark,
		})
	}
	t.AppendFooter(table.Row{
		"", "", fmt.Sprintf("%d/%d profitable", res.ProfitableWindows, res.TotalWindows),
		fmt.Sprintf("%.0f%%", res.ConsistencyScore*100), fmt.Sprintf("%.2f", res.TotalPnL), "",
	})
	t.SetColumnConfigs(rightAlign(4, 5))
	t.Render()
}

// Ranking 按名次输出。
func Ranking(w io.Writer, ranked []validation.Ranked) {
	t := newTable(w, "strategy ranking")
	t.AppendHeader(table.Row{"#", "strategy", "status", "trades", "win%", "pf", "net", "max dd", "expectancy", "days", "consistency"})
	for _, r := range ranked {
		t.AppendRow(append(table.Row{r.Rank}, statsRow(r.Stats)...))
	}
	t.SetColumnConfigs(rightAlign(1, 4, 5, 6, 7, 8, 9, 10, 11))
	t.Render()
}
