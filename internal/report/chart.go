package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"stuntman/internal/backtest"
)

const (
	colorGain = "#26a69a"
	colorLoss = "#ef5350"
)

// EquityPoint 按平仓时间累计的权益。
type EquityPoint struct {
	Label  string
	Equity float64
}

// Equity 按交易顺序累计 PnL，起点为 0。
func Equity(trades []backtest.Trade) []EquityPoint {
	out := make([]EquityPoint, 0, len(trades)+1)
	out = append(out, EquityPoint{Label: "start"})
	eq := 0.0
	for _, t := range trades {
		eq += t.PnL
		out = append(out, EquityPoint{Label: t.ExitTime.UTC().Format(timeLayout), Equity: eq})
	}
	return out
}

// EquityChart 单个回测的权益曲线。
func EquityChart(res backtest.Result) *charts.Line {
	points := Equity(res.Trades)
	xs := make([]string, len(points))
	ys := make([]opts.LineData, len(points))
	for i, p := range points {
		xs[i] = p.Label
		ys[i] = opts.LineData{Value: p.Equity}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    res.Strategy + " equity",
			Subtitle: fmt.Sprintf("%d trades, net %.2f", len(res.Trades), res.NetPnL),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(xs).AddSeries("equity", ys)
	return line
}

// WalkForwardChart 每个窗口的 PnL 柱状图，盈利与亏损分色。
func WalkForwardChart(res backtest.WalkForwardResult) *charts.Bar {
	xs := make([]string, len(res.Windows))
	ys := make([]opts.BarData, len(res.Windows))
	for i, w := range res.Windows {
		xs[i] = fmt.Sprintf("#%d %s", w.Index+1, w.Start.UTC().Format("2006-01-02"))
		color := colorLoss
		if w.Profitable {
			color = colorGain
		}
		ys[i] = opts.BarData{Value: w.PnL, ItemStyle: &opts.ItemStyle{Color: color}}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s walk-forward: %s", res.Strategy, res.Verdict),
			Subtitle: fmt.Sprintf("%d/%d profitable windows, total %.2f", res.ProfitableWindows, res.TotalWindows, res.TotalPnL),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(xs).AddSeries("pnl", ys)
	return bar
}

// RenderHTML 把回测权益曲线与 walk-forward 图表写成单页 HTML。
func RenderHTML(w io.Writer, results []backtest.Result, wf []backtest.WalkForwardResult) error {
	if len(results) == 0 && len(wf) == 0 {
		return errors.New("nothing to render")
	}
	page := components.NewPage()
	page.PageTitle = "stuntman report"
	for _, r := range results {
		page.AddCharts(EquityChart(r))
	}
	for _, r := range wf {
		page.AddCharts(WalkForwardChart(r))
	}
	return page.Render(w)
}
