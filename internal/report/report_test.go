package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stuntman/internal/backtest"
	"stuntman/internal/decision"
	"stuntman/internal/validation"
)

var t0 = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

func sampleTrades() []backtest.Trade {
	return []backtest.Trade{
		{Strategy: "ema_cross", Direction: backtest.Long, EntryTime: t0, EntryPrice: 4500, ExitTime: t0.Add(2 * time.Hour), ExitPrice: 4510, ExitType: backtest.ExitTakeProfit, Quantity: 1, HoldBars: 2, PnL: 483},
		{Strategy: "ema_cross", Direction: backtest.Short, EntryTime: t0.Add(5 * time.Hour), EntryPrice: 4520, ExitTime: t0.Add(6 * time.Hour), ExitPrice: 4530, ExitType: backtest.ExitStopLoss, Quantity: 1, HoldBars: 1, PnL: -517},
	}
}

func TestEquityAccumulates(t *testing.T) {
	points := Equity(sampleTrades())
	require.Len(t, points, 3)
	assert.Equal(t, 0.0, points[0].Equity)
	assert.Equal(t, 483.0, points[1].Equity)
	assert.Equal(t, -34.0, points[2].Equity)
	assert.Equal(t, "2024-01-02 21:00", points[2].Label)
}

func TestTradesTableHasTotal(t *testing.T) {
	var buf bytes.Buffer
	Trades(&buf, sampleTrades())
	out := buf.String()
	assert.Contains(t, out, "TAKE_PROFIT")
	assert.Contains(t, out, "STOP_LOSS")
	assert.Contains(t, out, "-34.00")
}

func TestSignalTable(t *testing.T) {
	var buf bytes.Buffer
	Signal(&buf, "ES", decision.Signal{
		Action: decision.ActionBuy, Confidence: 72, EntryPrice: 4500, StopLoss: 4490, TakeProfit: 4520,
		RiskReward: 2, PositionSize: 3, Reasoning: []string{"EMA bullish", "RSI oversold"},
	})
	out := buf.String()
	assert.Contains(t, out, "BUY")
	assert.Contains(t, out, "4490.00 / 4520.00")
	assert.Contains(t, out, "RSI oversold")

	buf.Reset()
	Signal(&buf, "ES", decision.Signal{Action: decision.ActionHold})
	assert.NotContains(t, buf.String(), "stop / target")
}

func TestReportAndRanking(t *testing.T) {
	pool := sampleTrades()
	rep := validation.GenerateReport("ema_cross", pool, validation.DefaultCriteria(), t0)
	var buf bytes.Buffer
	Report(&buf, rep)
	out := buf.String()
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "2024-01-02")
	assert.Contains(t, out, rep.Recommendation)

	buf.Reset()
	Ranking(&buf, validation.RankStrategies(pool, []string{"ema_cross"}, validation.DefaultCriteria()))
	assert.Contains(t, buf.String(), "ema_cross")
}

func TestTrimTo(t *testing.T) {
	assert.Equal(t, "abc", TrimTo("abc", 5))
	assert.Equal(t, "ab...", TrimTo("abcd", 2))
	assert.Equal(t, "abcd", TrimTo("abcd", 0))
}

func TestRenderHTML(t *testing.T) {
	res := backtest.Result{Strategy: "ema_cross", Trades: sampleTrades(), NetPnL: -34}
	wf := backtest.WalkForwardResult{
		Strategy: "ema_cross", Verdict: backtest.VerdictAvoid, TotalWindows: 2,
		Windows: []backtest.WindowResult{
			{Index: 0, Start: t0, PnL: 120, Profitable: true},
			{Index: 1, Start: t0.Add(24 * time.Hour), PnL: -300},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, []backtest.Result{res}, []backtest.WalkForwardResult{wf}))
	html := buf.String()
	assert.Contains(t, html, "ema_cross equity")
	assert.Contains(t, html, "walk-forward: AVOID")
	assert.Contains(t, html, colorLoss)

	assert.Error(t, RenderHTML(&buf, nil, nil))
}
