package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stuntman/internal/decision"
	"stuntman/internal/market"
	"stuntman/internal/market/markettest"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" EMA_Cross ")
	require.NoError(t, err)
	assert.Equal(t, KindEMACross, k)

	_, err = ParseKind("martingale")
	assert.True(t, errors.Is(err, ErrUnknownRule))
}

func TestFactoryBuildValidatesParams(t *testing.T) {
	f := &Factory{Scorer: decision.DefaultScorerConfig()}

	_, err := f.Build(Spec{Name: "bad", Kind: "ema_cross", Params: map[string]any{"fast": 21, "slow": 9}})
	assert.Error(t, err)

	_, err = f.Build(Spec{Name: "bad", Kind: "rsi_reversion", Params: map[string]any{"oversold": 80.0}})
	assert.Error(t, err)

	rule, err := f.Build(Spec{Kind: "bollinger_fade", Params: map[string]any{"period": "10"}})
	require.NoError(t, err)
	assert.Equal(t, "bollinger_fade", rule.Name())
}

func TestEMACrossFiresOnlyOnCrossBar(t *testing.T) {
	closes := make([]float64, 0, 80)
	for i := 0; i < 40; i++ {
		closes = append(closes, 200-float64(i))
	}
	for i := 0; i < 40; i++ {
		closes = append(closes, 161+3*float64(i))
	}
	candles := markettest.FromCloses(closes, time.Hour, 1)
	f := &Factory{}
	rule, err := f.Build(Spec{Kind: "ema_cross"})
	require.NoError(t, err)

	fired := -1
	for j := 30; j < len(candles); j++ {
		sig, err := rule.Evaluate(candles[:j+1])
		require.NoError(t, err)
		if sig != nil {
			require.Equal(t, decision.ActionBuy, sig.Action)
			assert.Less(t, sig.StopLoss, sig.EntryPrice)
			assert.Greater(t, sig.TakeProfit, sig.EntryPrice)
			assert.Equal(t, 1, sig.PositionSize)
			fired = j
			break
		}
	}
	assert.Greater(t, fired, 40)
}

func TestBollingerFadeSellsAboveUpperBand(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}
	closes = append(closes, 110)
	candles := markettest.FromCloses(closes, time.Hour, 0.5)
	rule, err := (&Factory{}).Build(Spec{Kind: "bollinger_fade"})
	require.NoError(t, err)
	sig, err := rule.Evaluate(candles)
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, decision.ActionSell, sig.Action)
	assert.Greater(t, sig.StopLoss, sig.EntryPrice)
}

func TestRulesDoNotMutateHistory(t *testing.T) {
	candles := markettest.RandomWalk(400, 100, 7)
	snapshot := append([]market.Candle(nil), candles...)
	reg := NewRegistry(&Factory{Scorer: decision.DefaultScorerConfig(), Account: decision.Account{Balance: 50000, MaxRiskPercent: 1, TickSize: 0.25, TickValue: 12.5, MaxContracts: 5}})
	require.NoError(t, reg.LoadDefaults())
	for _, rule := range reg.Rules() {
		for j := 60; j < len(candles); j += 37 {
			_, err := rule.Evaluate(candles[: j+1 : j+1])
			require.NoError(t, err)
		}
	}
	assert.Equal(t, snapshot, candles)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.LoadDefaults())
	assert.Equal(t, []string{"bollinger_fade", "confluence", "ema_cross", "rsi_reversion"}, reg.Names())

	err := reg.Register(Func{Label: "EMA_CROSS"})
	assert.True(t, errors.Is(err, ErrDuplicateRule))

	rule, ok := reg.Resolve("Confluence")
	require.True(t, ok)
	assert.Equal(t, "confluence", rule.Name())
}
