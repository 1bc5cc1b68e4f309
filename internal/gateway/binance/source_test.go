package binance

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

const klinesBody = `[
 [1704067200000,"42000.1","42100.0","41950.5","42050.0","120.5",1704070799999,"0",10,"0","0","0"],
 [1704070800000,"42050.0","42200.0","42000.0","42150.0","98.0",1704074399999,"0",8,"0","0","0"]
]`

func TestFetchHistoryParsesKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	src := New(Config{RESTBaseURL: srv.URL})
	candles, err := src.FetchHistory(context.Background(), "btcusdt", "1H", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1704067200000), candles[0].OpenTime)
	assert.Equal(t, 42000.1, candles[0].Open)
	assert.Equal(t, 41950.5, candles[0].Low)
	assert.Equal(t, 98.0, candles[1].Volume)
}

func TestFetchHistoryBacksOffOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
			return
		}
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	src := New(Config{RESTBaseURL: srv.URL, MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	candles, err := src.FetchHistory(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	assert.Len(t, candles, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchHistoryDoesNotRetryOtherErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	_, err := New(Config{RESTBaseURL: srv.URL}).FetchHistory(context.Background(), "NOPE", "1h", 2)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = New(Config{RESTBaseURL: srv.URL}).FetchHistory(context.Background(), "", "1h", 2)
	assert.Error(t, err)
}
