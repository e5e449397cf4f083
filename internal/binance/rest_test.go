package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradium/marketdata/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

const klinesBody = `[
  [1700000000000, "65000.5", "65100", "64900", "65050.25", "123.4", 1700000059999, "0", 0, "0", "0", "0"],
  [1700000060000, "65050.25", "65200", "65000", "65150", "98.7", 1700000119999, "0", 0, "0", "0", "0"]
]`

func TestKlinesParsesRows(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	client := NewRestClientWithBase(models.MarketSpot, srv.URL, testLogger())
	candles, err := client.Klines(context.Background(), "BTCUSDT", "1m", 1700000000000, 1700000120000, 1000)
	require.NoError(t, err)

	assert.Equal(t, "/api/v3/klines", gotPath)
	assert.Equal(t, "BTCUSDT", gotQuery.Get("symbol"))
	assert.Equal(t, "1m", gotQuery.Get("interval"))
	assert.Equal(t, "1000", gotQuery.Get("limit"))
	assert.Equal(t, "1700000000000", gotQuery.Get("startTime"))
	assert.Equal(t, "1700000120000", gotQuery.Get("endTime"))

	require.Len(t, candles, 2)
	first := candles[0]
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, "1m", first.Timeframe)
	assert.Equal(t, 65000.5, first.Open)
	assert.Equal(t, 65050.25, first.Close)
	assert.Equal(t, 123.4, first.Volume)
	assert.Equal(t, int64(1700000000), first.OpenTime)
	assert.Equal(t, int64(1700000059), first.CloseTime)
	assert.True(t, first.IsFinal)
}

func TestKlinesOmitsZeroEndTime(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	client := NewRestClientWithBase(models.MarketSpot, srv.URL, testLogger())
	candles, err := client.Klines(context.Background(), "BTCUSDT", "1m", 1700000000000, 0, 500)
	require.NoError(t, err)

	assert.Empty(t, candles)
	assert.False(t, gotQuery.Has("endTime"))
}

func TestKlinesUsesFuturesEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	client := NewRestClientWithBase(models.MarketFutures, srv.URL, testLogger())
	_, err := client.Klines(context.Background(), "ETHUSDT", "1h", 1700000000000, 0, 1000)
	require.NoError(t, err)

	assert.Equal(t, "/fapi/v1/klines", gotPath)
}

func TestKlinesReturnsRateLimitedOn429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewRestClientWithBase(models.MarketSpot, srv.URL, testLogger())
	_, err := client.Klines(context.Background(), "BTCUSDT", "1m", 1700000000000, 0, 1000)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestKlinesFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("oops"))
	}))
	defer srv.Close()

	client := NewRestClientWithBase(models.MarketSpot, srv.URL, testLogger())
	_, err := client.Klines(context.Background(), "BTCUSDT", "1m", 1700000000000, 0, 1000)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestKlinesSkipsMalformedRows(t *testing.T) {
	body := `[
	  [1700000000000, "bad-number", "65100", "64900", "65050", "123.4", 1700000059999],
	  [1700000060000, "65050", "65200", "65000", "65150", "98.7", 1700000119999]
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewRestClientWithBase(models.MarketSpot, srv.URL, testLogger())
	candles, err := client.Klines(context.Background(), "BTCUSDT", "1m", 1700000000000, 0, 1000)
	require.NoError(t, err)

	require.Len(t, candles, 1)
	assert.Equal(t, int64(1700000060), candles[0].OpenTime)
}
