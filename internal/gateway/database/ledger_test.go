package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stuntman/internal/backtest"
)

func openTestStore(t *testing.T) *LedgerStore {
	t.Helper()
	s, err := OpenLedgerStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTrades(strategy string, base time.Time, pnls ...float64) []backtest.Trade {
	out := make([]backtest.Trade, len(pnls))
	for i, p := range pnls {
		out[i] = backtest.Trade{
			Strategy:   strategy,
			Direction:  backtest.Short,
			EntryTime:  base.Add(time.Duration(i) * time.Hour),
			EntryPrice: 5000,
			ExitTime:   base.Add(time.Duration(i)*time.Hour + 30*time.Minute),
			ExitPrice:  4990,
			ExitType:   backtest.ExitTakeProfit,
			Quantity:   2,
			PnL:        p,
			HoldBars:   3,
			Commission: 4.5,
			Slippage:   12.5,
		}
	}
	return out
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	trades := sampleTrades("ema_cross", base, 100, -40)
	run := RunRecord{
		ID:        "run-1",
		Strategy:  "ema_cross",
		Symbol:    "ES=F",
		Interval:  "1h",
		Kind:      "backtest",
		Status:    "done",
		CreatedAt: base,
		Config:    json.RawMessage(`{"warmup_bars":50}`),
		NetPnL:    60,
	}
	require.NoError(t, s.SaveRun(ctx, run, trades))

	got, gotTrades, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "ES=F", got.Symbol)
	assert.Equal(t, 2, got.Trades)
	assert.Equal(t, base, got.CreatedAt)
	assert.JSONEq(t, `{"warmup_bars":50}`, string(got.Config))
	assert.Nil(t, got.Summary)
	assert.Equal(t, trades, gotTrades)

	// 重复保存替换明细而不是追加
	require.NoError(t, s.SaveRun(ctx, run, trades[:1]))
	_, gotTrades, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, gotTrades, 1)

	_, _, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestLoadTradesFiltersByStrategyAndStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRun(ctx, RunRecord{ID: "a", Strategy: "a", Kind: "backtest", Status: "done", CreatedAt: base}, sampleTrades("a", base, 1, 2)))
	require.NoError(t, s.SaveRun(ctx, RunRecord{ID: "b", Strategy: "b", Kind: "backtest", Status: "done", CreatedAt: base.Add(time.Minute)}, sampleTrades("b", base.Add(10*time.Minute), 3)))
	require.NoError(t, s.SaveRun(ctx, RunRecord{ID: "c", Strategy: "c", Kind: "backtest", Status: "failed", CreatedAt: base.Add(2 * time.Minute)}, sampleTrades("c", base, 4)))

	all, err := s.LoadTrades(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []float64{1, 3, 2}, []float64{all[0].PnL, all[1].PnL, all[2].PnL})

	onlyB, err := s.LoadTrades(ctx, "b")
	require.NoError(t, err)
	require.Len(t, onlyB, 1)
	assert.Equal(t, "b", onlyB[0].Strategy)

	names, err := s.Strategies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)

	require.NoError(t, s.UpdateRunStatus(ctx, "c", "done"))
	names, err = s.Strategies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.ErrorIs(t, s.UpdateRunStatus(ctx, "zzz", "done"), ErrRunNotFound)
}

func TestLoadTradesKeepsLatestRunPerSeries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	series := RunRecord{Strategy: "a", Symbol: "ES=F", Interval: "1h", Kind: "backtest", Status: "done", CreatedAt: base}

	for _, id := range []string{"r1", "r2", "r3"} {
		run := series
		run.ID = id
		require.NoError(t, s.SaveRun(ctx, run, sampleTrades("a", base, 10, -5)))
	}
	pool, err := s.LoadTrades(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, pool, 2, "同一序列重跑不累加")

	// 较新的运行替换旧的
	newer := series
	newer.ID, newer.CreatedAt = "r4", base.Add(time.Hour)
	require.NoError(t, s.SaveRun(ctx, newer, sampleTrades("a", base, 7)))
	pool, err = s.LoadTrades(ctx, "a")
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, 7.0, pool[0].PnL)

	// 失败的更新运行不影响交易池
	failed := series
	failed.ID, failed.Status, failed.CreatedAt = "r5", "failed", base.Add(2*time.Hour)
	require.NoError(t, s.SaveRun(ctx, failed, sampleTrades("a", base, 99)))
	pool, err = s.LoadTrades(ctx, "a")
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, 7.0, pool[0].PnL)

	// 不同品种各自独立
	other := series
	other.ID, other.Symbol = "nq", "NQ=F"
	require.NoError(t, s.SaveRun(ctx, other, sampleTrades("a", base, 3, 4)))
	pool, err = s.LoadTrades(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, pool, 3)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.migrate(context.Background()))
	require.NoError(t, s.migrate(context.Background()))
}
