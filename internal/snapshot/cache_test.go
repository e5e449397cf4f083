package snapshot

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

const tickerBatch = `[
  {"s": "BTCUSDT", "c": "65000.5", "P": "1.2", "q": "2000000000", "v": "30000"},
  {"s": "ETHUSDT", "c": "3500", "P": "-2.5", "q": "900000000", "v": "250000"},
  {"s": "SOLUSDT", "c": "150", "P": "5.8", "q": "400000000", "v": "2600000"},
  {"s": "BTCBUSD", "c": "65001", "P": "1.1", "q": "100000000", "v": "1500"},
  {"s": "TUSDT",   "c": "1",     "P": "0",   "q": "50000000",  "v": "50000000"},
  {"s": "DOGEUSDT", "c": "bad",  "P": "3",   "q": "1000",      "v": "1000"}
]`

func newTestCache(size int) *Cache {
	return NewCache(Config{
		QuoteSuffix: "USDT",
		Excluded:    []string{"USD1USDT", "TUSDT"},
		Size:        size,
	}, testLogger())
}

func TestUpdateFiltersAndSortsByQuoteVolume(t *testing.T) {
	cache := newTestCache(350)
	require.NoError(t, cache.Update(context.Background(), []byte(tickerBatch)))

	entries := cache.Page(0, 10)
	require.Len(t, entries, 3, "excluded, wrong-suffix and unparsable rows are dropped")
	assert.Equal(t, "BTCUSDT", entries[0].Symbol)
	assert.Equal(t, "ETHUSDT", entries[1].Symbol)
	assert.Equal(t, "SOLUSDT", entries[2].Symbol)
	assert.Equal(t, 2_000_000_000.0, entries[0].QuoteVolume)
}

func TestUpdateCapsAtConfiguredSize(t *testing.T) {
	cache := newTestCache(2)
	require.NoError(t, cache.Update(context.Background(), []byte(tickerBatch)))

	entries := cache.Page(0, 10)
	require.Len(t, entries, 2)
	assert.Equal(t, "BTCUSDT", entries[0].Symbol)
	assert.Equal(t, "ETHUSDT", entries[1].Symbol)
}

func TestUpdateReplacesPreviousSnapshot(t *testing.T) {
	cache := newTestCache(350)
	require.NoError(t, cache.Update(context.Background(), []byte(tickerBatch)))

	smaller := `[{"s": "BTCUSDT", "c": "66000", "P": "2.0", "q": "2100000000", "v": "31000"}]`
	require.NoError(t, cache.Update(context.Background(), []byte(smaller)))

	entries := cache.Page(0, 10)
	require.Len(t, entries, 1)
	assert.Equal(t, 66000.0, entries[0].Price)
}

func TestUpdateRejectsMalformedMessage(t *testing.T) {
	cache := newTestCache(350)
	assert.Error(t, cache.Update(context.Background(), []byte(`{"not": "an array"}`)))
}

func TestPagePagination(t *testing.T) {
	cache := newTestCache(350)
	require.NoError(t, cache.Update(context.Background(), []byte(tickerBatch)))

	first := cache.Page(0, 2)
	second := cache.Page(1, 2)
	beyond := cache.Page(5, 2)

	require.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.Equal(t, "SOLUSDT", second[0].Symbol)
	assert.Empty(t, beyond)
}

func TestTopMovers(t *testing.T) {
	cache := newTestCache(350)
	require.NoError(t, cache.Update(context.Background(), []byte(tickerBatch)))

	gainers, losers := cache.TopMovers(2)

	require.Len(t, gainers, 2)
	assert.Equal(t, "SOLUSDT", gainers[0].Symbol)
	assert.Equal(t, "BTCUSDT", gainers[1].Symbol)

	require.Len(t, losers, 2)
	assert.Equal(t, "ETHUSDT", losers[0].Symbol, "worst performer comes first")
	assert.Equal(t, "BTCUSDT", losers[1].Symbol)
}

func TestTopMoversLargerThanCache(t *testing.T) {
	cache := newTestCache(350)
	require.NoError(t, cache.Update(context.Background(), []byte(tickerBatch)))

	gainers, losers := cache.TopMovers(15)
	assert.Len(t, gainers, 3)
	assert.Len(t, losers, 3)
}
