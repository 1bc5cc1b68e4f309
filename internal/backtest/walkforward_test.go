package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stuntman/internal/decision"
	"stuntman/internal/market/markettest"
)

func wfConfig(window, step int) WalkForwardConfig {
	cfg := DefaultWalkForwardConfig()
	cfg.WindowSize = window
	cfg.StepSize = step
	cfg.Workers = 3
	cfg.Sim = testConfig()
	cfg.Sim.WarmupBars = 0
	cfg.Sim.MaxHoldBars = 1
	return cfg
}

func TestWindowCount(t *testing.T) {
	assert.Equal(t, 5, WindowCount(100, 20, 20))
	assert.Equal(t, 9, WindowCount(100, 20, 10))
	assert.Equal(t, 1, WindowCount(20, 20, 7))
	assert.Equal(t, 0, WindowCount(10, 20, 5))
	assert.Equal(t, 0, WindowCount(10, 5, 0))
}

func TestWalkForwardNonOverlappingWindows(t *testing.T) {
	candles := markettest.Flat(105, 100)
	res, err := WalkForward(context.Background(), candles, always(decision.ActionBuy, 95, 105), wfConfig(20, 20))
	require.NoError(t, err)
	require.Equal(t, 5, res.TotalWindows)
	require.Len(t, res.Windows, 5)
	for i, w := range res.Windows {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, i*20, w.StartIndex)
		assert.Equal(t, w.StartIndex+20, w.EndIndex)
		assert.Equal(t, candles[w.StartIndex].Time(), w.Start)
		assert.Equal(t, candles[w.EndIndex-1].Time(), w.End)
		assert.Greater(t, w.Trades, 0)
		assert.False(t, w.Profitable)
	}
	assert.Equal(t, 0, res.ProfitableWindows)
	assert.Equal(t, 0.0, res.ConsistencyScore)
	assert.Less(t, res.TotalPnL, 0.0)
	assert.Equal(t, VerdictAvoid, res.Verdict)
}

func TestWalkForwardOverlappingWindowsRestartWarmup(t *testing.T) {
	candles := markettest.Flat(100, 100)
	cfg := wfConfig(30, 10)
	cfg.Sim.WarmupBars = 25
	cfg.Sim.MaxHoldBars = 100
	res, err := WalkForward(context.Background(), candles, always(decision.ActionBuy, 95, 105), cfg)
	require.NoError(t, err)
	require.Equal(t, 8, res.TotalWindows)
	for _, w := range res.Windows {
		require.Len(t, w.Result.Trades, 1)
		assert.Equal(t, candles[w.StartIndex+25].Time(), w.Result.Trades[0].EntryTime)
		assert.Equal(t, ExitTime, w.Result.Trades[0].ExitType)
	}
}

func TestWalkForwardRejectsInvalidWindows(t *testing.T) {
	candles := markettest.Flat(50, 100)
	rule := always(decision.ActionBuy, 95, 105)
	for _, cfg := range []WalkForwardConfig{wfConfig(0, 10), wfConfig(10, 0), wfConfig(60, 10)} {
		_, err := WalkForward(context.Background(), candles, rule, cfg)
		assert.ErrorIs(t, err, ErrInvalidWindow)
	}
}

func TestWalkForwardCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WalkForward(ctx, markettest.Flat(50, 100), always(decision.ActionBuy, 95, 105), wfConfig(10, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerdictBands(t *testing.T) {
	cfg := DefaultWalkForwardConfig()
	assert.Equal(t, VerdictConsistent, verdict(0.6, 10, cfg))
	assert.Equal(t, VerdictMarginal, verdict(0.8, -10, cfg))
	assert.Equal(t, VerdictMarginal, verdict(0.4, -10, cfg))
	assert.Equal(t, VerdictMarginal, verdict(0.2, 5, cfg))
	assert.Equal(t, VerdictAvoid, verdict(0.39, 0, cfg))
}
