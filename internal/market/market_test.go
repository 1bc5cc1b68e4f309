package market_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stuntman/internal/market"
	"stuntman/internal/market/markettest"
)

func TestValidateRejectsBrokenSequences(t *testing.T) {
	good := markettest.Linear(5, 100, 1)
	require.NoError(t, market.Validate(good))

	badHigh := append([]market.Candle(nil), good...)
	badHigh[2].High = badHigh[2].Close - 5
	assert.ErrorIs(t, market.Validate(badHigh), market.ErrInvalidCandle)

	unordered := append([]market.Candle(nil), good...)
	unordered[3].OpenTime = unordered[1].OpenTime
	assert.ErrorIs(t, market.Validate(unordered), market.ErrInvalidCandle)
}

func TestScaleLeavesInputUntouched(t *testing.T) {
	in := markettest.Flat(3, 500)
	out := market.Scale(in, 10)
	assert.Equal(t, 500.0, in[0].Close)
	assert.Equal(t, 5000.0, out[0].Close)
	assert.Equal(t, in[0].Volume, out[0].Volume)
}

func TestCSVRoundTrip(t *testing.T) {
	in := markettest.Linear(4, 4500.25, 0.5)
	var buf bytes.Buffer
	require.NoError(t, market.WriteCSV(&buf, in, market.PrecisionRaw))
	out, err := market.ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].OpenTime, out[i].OpenTime)
		assert.InDelta(t, in[i].Close, out[i].Close, 1e-9)
	}
}

func TestFallbackUsesSecondLegAndScales(t *testing.T) {
	primary := market.SourceFunc{Label: "quotes", Fn: func(context.Context, string, string, int) ([]market.Candle, error) {
		return nil, errors.New("status 503")
	}}
	var gotSymbol string
	proxy := market.SourceFunc{Label: "proxy", Fn: func(_ context.Context, symbol, _ string, _ int) ([]market.Candle, error) {
		gotSymbol = symbol
		return markettest.Flat(3, 450), nil
	}}
	src := market.NewFallbackSource(
		market.Leg{Source: primary, Symbol: "ES=F"},
		market.Leg{Source: proxy, Symbol: "SPY", Scale: 10},
	)
	candles, err := src.FetchHistory(context.Background(), "ES", "1d", 3)
	require.NoError(t, err)
	assert.Equal(t, "SPY", gotSymbol)
	assert.Equal(t, 4500.0, candles[0].Close)
}

func TestFallbackFailsLoudly(t *testing.T) {
	fail := func(msg string) market.Source {
		return market.SourceFunc{Label: msg, Fn: func(context.Context, string, string, int) ([]market.Candle, error) {
			return nil, errors.New(msg + " down")
		}}
	}
	empty := market.SourceFunc{Label: "empty", Fn: func(context.Context, string, string, int) ([]market.Candle, error) {
		return nil, nil
	}}
	src := market.NewFallbackSource(market.Leg{Source: fail("a")}, market.Leg{Source: empty}, market.Leg{Source: fail("b")})
	candles, err := src.FetchHistory(context.Background(), "ES", "1d", 10)
	require.Error(t, err)
	assert.Nil(t, candles)
	assert.Contains(t, err.Error(), "a down")
	assert.Contains(t, err.Error(), "empty history")
	assert.Contains(t, err.Error(), "b down")

	_, err = market.NewFallbackSource().FetchHistory(context.Background(), "ES", "1d", 10)
	assert.ErrorIs(t, err, market.ErrNoSources)
}

func TestCheckIntegrityFindsGaps(t *testing.T) {
	candles := markettest.Linear(10, 100, 1)
	cut := append(append([]market.Candle{}, candles[:3]...), candles[6:]...)
	rep := market.CheckIntegrity(cut, time.Hour)
	assert.False(t, rep.Complete())
	assert.Equal(t, int64(10), rep.Expected)
	assert.Equal(t, int64(7), rep.Present)
	require.Len(t, rep.Gaps, 1)
	assert.Equal(t, candles[3].OpenTime, rep.Gaps[0].From)
	assert.Equal(t, candles[5].OpenTime, rep.Gaps[0].To)
	assert.Equal(t, int64(3), rep.Missing())

	assert.True(t, market.CheckIntegrity(candles, time.Hour).Complete())
}
