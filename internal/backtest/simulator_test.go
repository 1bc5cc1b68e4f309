package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stuntman/internal/decision"
	"stuntman/internal/market"
	"stuntman/internal/market/markettest"
	"stuntman/internal/strategy"
)

// scripted 在 bars 指定的下标返回固定信号。
func scripted(name string, bars map[int]decision.Signal) strategy.Rule {
	return strategy.Func{Label: name, Fn: func(history []market.Candle) (*decision.Signal, error) {
		if sig, ok := bars[len(history)-1]; ok {
			return &sig, nil
		}
		return nil, nil
	}}
}

func always(action decision.Action, stop, target float64) strategy.Rule {
	return strategy.Func{Label: "always", Fn: func(history []market.Candle) (*decision.Signal, error) {
		return &decision.Signal{Action: action, StopLoss: stop, TakeProfit: target}, nil
	}}
}

func buyAt100() decision.Signal {
	return decision.Signal{Action: decision.ActionBuy, EntryPrice: 100, StopLoss: 95, TakeProfit: 105}
}

func testConfig() SimConfig {
	return SimConfig{ContractMultiplier: 50, Commission: 4.5, Slippage: 12.5, MaxHoldBars: 20, WarmupBars: 10}
}

func TestIntrabarTieBreakPolicies(t *testing.T) {
	cases := []struct {
		policy IntrabarPolicy
		open   float64
		want   ExitType
		price  float64
	}{
		{StopFirst, 100, ExitStopLoss, 95},
		{TargetFirst, 100, ExitTakeProfit, 105},
		{NearestOpen, 101, ExitTakeProfit, 105},
		{NearestOpen, 99, ExitStopLoss, 95},
	}
	for _, tc := range cases {
		candles := markettest.Flat(30, 100)
		candles[11].Open, candles[11].High, candles[11].Low = tc.open, 106, 94
		cfg := testConfig()
		cfg.IntrabarPolicy = tc.policy
		res := Run(candles, scripted("tie", map[int]decision.Signal{10: buyAt100()}), cfg)
		require.Len(t, res.Trades, 1, tc.policy)
		assert.Equal(t, tc.want, res.Trades[0].ExitType, tc.policy)
		assert.Equal(t, tc.price, res.Trades[0].ExitPrice, tc.policy)
		assert.Equal(t, 1, res.Trades[0].HoldBars)
	}
}

func TestGapThroughFillsAtOpen(t *testing.T) {
	candles := markettest.Flat(30, 100)
	candles[11].Open, candles[11].High, candles[11].Low, candles[11].Close = 90, 91, 89, 90
	res := Run(candles, scripted("gap", map[int]decision.Signal{10: buyAt100()}), testConfig())
	require.Len(t, res.Trades, 1)
	assert.Equal(t, ExitStopLoss, res.Trades[0].ExitType)
	assert.Equal(t, 90.0, res.Trades[0].ExitPrice)
	assert.InDelta(t, -10*50-17, res.Trades[0].PnL, 1e-9)
}

func TestPnLIncludesQuantityAndCosts(t *testing.T) {
	candles := markettest.Flat(30, 100)
	candles[12].High = 106
	sig := buyAt100()
	sig.PositionSize = 2
	res := Run(candles, scripted("qty", map[int]decision.Signal{10: sig}), testConfig())
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ExitTakeProfit, tr.ExitType)
	assert.Equal(t, 2, tr.Quantity)
	assert.InDelta(t, 2*5*50-4.5-12.5, tr.PnL, 1e-9)
	assert.InDelta(t, tr.PnL, res.NetPnL, 1e-9)
}

func TestShortTradeAndMaxContracts(t *testing.T) {
	candles := markettest.Flat(30, 100)
	candles[11].Low = 94
	sig := decision.Signal{Action: decision.ActionSell, EntryPrice: 100, StopLoss: 105, TakeProfit: 95, PositionSize: 9}
	cfg := testConfig()
	cfg.MaxContracts = 3
	res := Run(candles, scripted("short", map[int]decision.Signal{10: sig}), cfg)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, Short, tr.Direction)
	assert.Equal(t, 3, tr.Quantity)
	assert.InDelta(t, 3*5*50-17, tr.PnL, 1e-9)
}

func TestTimeExitAndEndOfData(t *testing.T) {
	candles := markettest.Flat(30, 100)
	cfg := testConfig()
	cfg.MaxHoldBars = 5
	res := Run(candles, scripted("time", map[int]decision.Signal{10: buyAt100(), 27: buyAt100()}), cfg)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, ExitTime, res.Trades[0].ExitType)
	assert.Equal(t, 5, res.Trades[0].HoldBars)
	assert.Equal(t, candles[15].Time(), res.Trades[0].ExitTime)
	assert.InDelta(t, -17, res.Trades[0].PnL, 1e-9)

	last := res.Trades[1]
	assert.Equal(t, ExitTime, last.ExitType)
	assert.Equal(t, candles[29].Time(), last.ExitTime)
	assert.Equal(t, 2, last.HoldBars)
}

func TestNoEntryOnFinalBar(t *testing.T) {
	candles := markettest.Flat(30, 100)
	res := Run(candles, scripted("late", map[int]decision.Signal{29: buyAt100()}), testConfig())
	assert.Empty(t, res.Trades)
	assert.Empty(t, res.Failures)

	res = Run(candles, scripted("late", map[int]decision.Signal{28: buyAt100()}), testConfig())
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 1, res.Trades[0].HoldBars)
}

func TestCooldownAndWarmup(t *testing.T) {
	candles := markettest.Flat(40, 100)
	cfg := testConfig()
	cfg.WarmupBars = 5
	cfg.MaxHoldBars = 2
	cfg.CooldownBars = 3
	res := Run(candles, always(decision.ActionBuy, 95, 105), cfg)
	require.GreaterOrEqual(t, len(res.Trades), 3)
	assert.Equal(t, candles[5].Time(), res.Trades[0].EntryTime)
	for i := 1; i < len(res.Trades); i++ {
		gap := res.Trades[i].EntryTime.Sub(res.Trades[i-1].ExitTime)
		assert.Equal(t, 4*time.Hour, gap)
	}
}

func TestDailyLossLimitHaltsRestOfDay(t *testing.T) {
	candles := markettest.Flat(40, 100)
	cfg := testConfig()
	cfg.WarmupBars = 0
	cfg.MaxHoldBars = 1
	cfg.DailyLossLimit = 30
	res := Run(candles, always(decision.ActionBuy, 95, 105), cfg)
	require.GreaterOrEqual(t, len(res.Trades), 3)
	require.NotEmpty(t, res.HaltedDays)
	assert.Equal(t, "2024-01-02", res.HaltedDays[0])
	assert.Equal(t, "2024-01-02", res.Trades[1].ExitTime.UTC().Format("2006-01-02"))
	assert.Equal(t, "2024-01-03", res.Trades[2].EntryTime.UTC().Format("2006-01-02"))
}

func TestRuleFailuresAreRecordedAndRunContinues(t *testing.T) {
	candles := markettest.Flat(40, 100)
	rule := strategy.Func{Label: "flaky", Fn: func(history []market.Candle) (*decision.Signal, error) {
		switch len(history) - 1 {
		case 12:
			panic("boom")
		case 14:
			return nil, errors.New("bad input")
		case 16:
			return &decision.Signal{Action: decision.ActionBuy, StopLoss: 101, TakeProfit: 105}, nil
		case 20:
			sig := buyAt100()
			return &sig, nil
		}
		return nil, nil
	}}
	res := Run(candles, rule, testConfig())
	require.Len(t, res.Failures, 3)
	assert.Equal(t, 12, res.Failures[0].BarIndex)
	assert.Contains(t, res.Failures[0].Err, "boom")
	assert.Equal(t, 14, res.Failures[1].BarIndex)
	assert.Equal(t, "flaky", res.Failures[1].Strategy)
	assert.Contains(t, res.Failures[2].Err, ErrInvalidSignal.Error())
	require.Len(t, res.Trades, 1)
	assert.Equal(t, candles[20].Time(), res.Trades[0].EntryTime)
}

func TestRunIsDeterministic(t *testing.T) {
	candles := markettest.RandomWalk(600, 4500, 42)
	reg := strategy.NewRegistry(&strategy.Factory{
		Scorer:  decision.DefaultScorerConfig(),
		Account: decision.Account{Balance: 50000, MaxRiskPercent: 1, TickSize: 0.25, TickValue: 12.5, MaxContracts: 5},
	})
	require.NoError(t, reg.LoadDefaults())
	cfg := DefaultSimConfig()
	for _, rule := range reg.Rules() {
		a := Run(candles, rule, cfg)
		b := Run(candles, rule, cfg)
		assert.Equal(t, a, b, rule.Name())
	}
}

func TestRunManyKeepsRuleOrder(t *testing.T) {
	candles := markettest.Flat(40, 100)
	rules := []strategy.Rule{
		scripted("a", map[int]decision.Signal{10: buyAt100()}),
		scripted("b", nil),
		scripted("c", map[int]decision.Signal{12: buyAt100(), 35: buyAt100()}),
	}
	results, err := RunMany(context.Background(), candles, rules, testConfig(), 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{results[0].Strategy, results[1].Strategy, results[2].Strategy})

	merged := MergeTrades(results)
	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].Strategy)
	assert.Equal(t, "c", merged[2].Strategy)
}

func TestRunManyStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunMany(ctx, markettest.Flat(40, 100), []strategy.Rule{scripted("a", nil)}, testConfig(), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrawdownStopEndsEntries(t *testing.T) {
	candles := markettest.Flat(40, 100)
	cfg := testConfig()
	cfg.WarmupBars = 0
	cfg.MaxHoldBars = 1
	cfg.DrawdownStop = 50
	res := Run(candles, always(decision.ActionBuy, 95, 105), cfg)
	require.Len(t, res.Trades, 3)
	assert.Equal(t, 5, res.StoppedAt)

	cfg.DrawdownStop = 0
	assert.Equal(t, -1, Run(candles, always(decision.ActionBuy, 95, 105), cfg).StoppedAt)
}
