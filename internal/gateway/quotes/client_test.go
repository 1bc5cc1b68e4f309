package quotes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartBody = `{"chart":{"result":[{"meta":{"symbol":"ES=F"},
 "timestamp":[1704205800,1704209400,1704213000,1704216600],
 "indicators":{"quote":[{
   "open":[4800.25,4805.0,null,4810.0],
   "high":[4806.0,4811.5,4812.0,4815.25],
   "low":[4799.0,4803.0,4801.0,4808.0],
   "close":[4805.0,4810.0,4809.0,4814.0],
   "volume":[1200,900,700,null]}]}}],"error":null}}`

func TestFetchHistorySkipsNullRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/ES=F", r.URL.Path)
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "730d", r.URL.Query().Get("range"))
		_, _ = w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	candles, err := c.FetchHistory(context.Background(), "ES=F", "1h", 0)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, int64(1704205800000), candles[0].OpenTime)
	assert.Equal(t, int64(1704205800000+3600000-1), candles[0].CloseTime)
	assert.Equal(t, 4810.0, candles[2].Open)
	assert.Equal(t, 0.0, candles[2].Volume)

	last, err := c.FetchHistory(context.Background(), "ES=F", "1h", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, 4814.0, last[1].Close)
}

func TestFetchHistoryRetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	candles, err := c.FetchHistory(context.Background(), "SPY", "1h", 0)
	require.NoError(t, err)
	assert.Len(t, candles, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchHistoryGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 2, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	_, err := c.FetchHistory(context.Background(), "SPY", "1h", 0)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchHistoryReportsUpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v8/finance/chart/BAD":
			_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
		case "/v8/finance/chart/JUNK":
			_, _ = w.Write([]byte(`<html>`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.FetchHistory(context.Background(), "BAD", "1d", 0)
	assert.ErrorContains(t, err, "delisted")
	_, err = c.FetchHistory(context.Background(), "JUNK", "1d", 0)
	assert.ErrorContains(t, err, "malformed")
	_, err = c.FetchHistory(context.Background(), "DOWN", "1d", 0)
	assert.ErrorContains(t, err, "500")
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Equal(t, time.Duration(0), retryAfter(""))
	assert.Equal(t, time.Duration(0), retryAfter("soon"))
}
