package validation

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stuntman/internal/backtest"
)

var day0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func ledger(strategy string, pnls ...float64) []backtest.Trade {
	out := make([]backtest.Trade, len(pnls))
	for i, p := range pnls {
		exit := day0.Add(time.Duration(i) * 24 * time.Hour)
		out[i] = backtest.Trade{
			Strategy:  strategy,
			Direction: backtest.Long,
			EntryTime: exit.Add(-time.Hour),
			ExitTime:  exit,
			ExitType:  backtest.ExitTakeProfit,
			Quantity:  1,
			PnL:       p,
			Slippage:  5,
		}
	}
	return out
}

func TestValidateExampleLedger(t *testing.T) {
	st := Validate("s", ledger("s", 50, -30, 20, -10), DefaultCriteria())
	assert.Equal(t, 4, st.Trades)
	assert.Equal(t, 2, st.Wins)
	assert.Equal(t, 2, st.Losses)
	assert.InDelta(t, 0.5, st.WinRate, 1e-12)
	assert.InDelta(t, 70, st.GrossProfit, 1e-9)
	assert.InDelta(t, 40, st.GrossLoss, 1e-9)
	assert.InDelta(t, 30, st.NetPnL, 1e-9)
	assert.InDelta(t, 1.75, st.ProfitFactor, 1e-12)
	assert.InDelta(t, 35, st.AvgWin, 1e-9)
	assert.InDelta(t, 20, st.AvgLoss, 1e-9)
	assert.InDelta(t, 7.5, st.Expectancy, 1e-9)
	assert.InDelta(t, 30, st.MaxDrawdown, 1e-9)
	assert.Equal(t, 4, st.DaysTraded)
	assert.Equal(t, 2, st.ProfitableDays)
	assert.InDelta(t, 0.5, st.ConsistencyScore, 1e-12)
	assert.InDelta(t, 5, st.AvgSlippage, 1e-12)
	assert.Equal(t, day0.Add(72*time.Hour), st.LastUpdated)
	assert.Equal(t, StatusPending, st.Status)
}

func TestPendingBelowMinTradesRegardlessOfProfit(t *testing.T) {
	pnls := make([]float64, 10)
	for i := range pnls {
		pnls[i] = 1000
	}
	st := Validate("s", ledger("s", pnls...), DefaultCriteria())
	assert.Equal(t, StatusPending, st.Status)
	assert.Equal(t, ProfitFactorCap, st.ProfitFactor)
	require.Len(t, st.FailureReasons, 1)
	assert.Contains(t, st.FailureReasons[0], "10 < 20")
}

func TestFailedListsEveryMissedCriterion(t *testing.T) {
	pnls := make([]float64, 20)
	for i := range pnls {
		pnls[i] = -200
	}
	st := Validate("s", ledger("s", pnls...), DefaultCriteria())
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, 0.0, st.ProfitFactor)
	// win rate, profit factor, drawdown, consistency
	assert.Len(t, st.FailureReasons, 4)
}

func validatedLedger() []backtest.Trade {
	pnls := make([]float64, 0, 24)
	for i := 0; i < 24; i++ {
		if i%3 == 2 {
			pnls = append(pnls, -50)
		} else {
			pnls = append(pnls, 100)
		}
	}
	return ledger("s", pnls...)
}

func TestValidatedWhenAllCriteriaPass(t *testing.T) {
	st := Validate("s", validatedLedger(), DefaultCriteria())
	require.Equal(t, StatusValidated, st.Status, st.FailureReasons)
	assert.Empty(t, st.FailureReasons)
}

func TestTighteningNeverPromotes(t *testing.T) {
	trades := validatedLedger()
	base := DefaultCriteria()
	require.Equal(t, StatusValidated, Validate("s", trades, base).Status)

	tighten := []func(c *Criteria){
		func(c *Criteria) { c.MinTrades = 100 },
		func(c *Criteria) { c.MinWinRate = 0.9 },
		func(c *Criteria) { c.MinProfitFactor = 10 },
		func(c *Criteria) { c.MaxDrawdown = 10 },
		func(c *Criteria) { c.MinDaysTraded = 50 },
		func(c *Criteria) { c.MaxAvgSlippage = 1 },
		func(c *Criteria) { c.MinConsistency = 0.95 },
	}
	for i, fn := range tighten {
		c := base
		fn(&c)
		assert.NotEqual(t, StatusValidated, Validate("s", trades, c).Status, "case %d", i)
	}
}

func TestNetEqualsGrossProfitMinusGrossLoss(t *testing.T) {
	pnls := []float64{0.1, -0.2, 0.3, 12.34, -5.67, 0, 7.77, -0.01}
	st := Validate("s", ledger("s", pnls...), DefaultCriteria())
	assert.Equal(t, st.GrossProfit-st.GrossLoss, st.NetPnL)
	assert.Equal(t, 4, st.Wins)
	assert.Equal(t, 4, st.Losses)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		pnls := make([]float64, 1+rng.Intn(30))
		for j := range pnls {
			pnls[j] = (rng.Float64() - 0.45) * 1000
		}
		st := Validate("s", ledger("s", pnls...), DefaultCriteria())
		require.Equal(t, st.GrossProfit-st.GrossLoss, st.NetPnL, "ledger %d: %v", i, pnls)
	}
}

func TestDailyBucketsByUTCExitDay(t *testing.T) {
	trades := ledger("s", 10, -4)
	trades[1].ExitTime = day0.Add(8 * time.Hour).In(time.FixedZone("EST", -5*3600))
	daily := Daily(trades)
	require.Len(t, daily, 1)
	assert.Equal(t, "2024-03-04", daily[0].Date)
	assert.Equal(t, 2, daily[0].Trades)
	assert.InDelta(t, 6, daily[0].PnL, 1e-9)
}

func TestGenerateReport(t *testing.T) {
	pool := append(ledger("a", 50, -30, 20, -10), ledger("b", 5)...)
	at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	rep := GenerateReport("a", pool, DefaultCriteria(), at)
	assert.Equal(t, at, rep.GeneratedAt)
	assert.Equal(t, StatusPending, rep.Status)
	assert.Equal(t, 4, rep.Stats.Trades)
	assert.Len(t, rep.DailyPerformance, 4)
	assert.Contains(t, rep.Recommendation, "16 more trades")

	again := GenerateReport("a", pool, DefaultCriteria(), at)
	assert.Equal(t, rep, again)
}

func TestReadyAndRank(t *testing.T) {
	good := validatedLedger()
	for i := range good {
		good[i].Strategy = "good"
	}
	pool := append(good, ledger("meh", 10, 10)...)
	pool = append(pool, ledger("bad", -10, -10)...)
	pool = append(pool, ledger("alsomeh", 10, 10)...)

	assert.Equal(t, []string{"good"}, ReadyStrategies(pool, []string{"bad", "good", "meh"}, DefaultCriteria()))

	ranked := RankStrategies(pool, []string{"bad", "meh", "good", "alsomeh"}, DefaultCriteria())
	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.Stats.Strategy
		assert.Equal(t, i+1, r.Rank)
	}
	assert.Equal(t, []string{"good", "alsomeh", "meh", "bad"}, names, fmt.Sprint(ranked))
}

func TestPresets(t *testing.T) {
	p := BuiltinPresets().Merge(Presets{"Loose": {MinTrades: 5}})
	c, err := p.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCriteria(), c)
	c, err = p.Lookup("loose")
	require.NoError(t, err)
	assert.Equal(t, "loose", c.Name)
	_, err = p.Lookup("nope")
	assert.Error(t, err)
}
