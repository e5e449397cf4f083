package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradium/marketdata/internal/ingest"
	"github.com/tradium/marketdata/pkg/models"
)

type fakeCandleStore struct {
	candles []models.Candle
}

func (f *fakeCandleStore) UpsertCandle(_ context.Context, _ string, _ models.MarketType, _ string, candle models.Candle) error {
	f.candles = append(f.candles, candle)
	return nil
}

type fakeHub struct {
	rooms []string
}

func (f *fakeHub) Publish(room string, _ []byte) {
	f.rooms = append(f.rooms, room)
}

type fakeLive struct{}

func (fakeLive) Update(string, models.LiveCandle) {}

func newKlineFixture() (*fakeCandleStore, *fakeHub, Handler) {
	store := &fakeCandleStore{}
	hub := &fakeHub{}
	processor := ingest.NewKlineProcessor(store, hub, fakeLive{}, "binance", testLogger())
	return store, hub, KlineHandler(models.MarketSpot, "1m", processor)
}

func TestKlineHandlerUnwrapsCombinedStream(t *testing.T) {
	store, hub, handler := newKlineFixture()

	message := `{"stream":"btcusdt@kline_1m","data":{"s":"BTCUSDT","k":{
		"t":1700000000000,"T":1700000059999,"s":"BTCUSDT","i":"1m",
		"o":"65000","h":"65100","l":"64900","c":"65050","v":"12.5","x":false}}}`

	require.NoError(t, handler(context.Background(), []byte(message)))

	require.Len(t, store.candles, 1)
	assert.Equal(t, "BTCUSDT", store.candles[0].Symbol)
	assert.Equal(t, int64(1700000000), store.candles[0].OpenTime)
	require.Len(t, hub.rooms, 1)
	assert.Equal(t, "binance:spot:BTCUSDT:1m", hub.rooms[0])
}

func TestKlineHandlerSkipsControlFrames(t *testing.T) {
	store, hub, handler := newKlineFixture()

	// Subscription acks have no data field.
	require.NoError(t, handler(context.Background(), []byte(`{"result":null,"id":1}`)))
	assert.Empty(t, store.candles)
	assert.Empty(t, hub.rooms)
}

func TestKlineHandlerRejectsGarbage(t *testing.T) {
	_, _, handler := newKlineFixture()
	assert.Error(t, handler(context.Background(), []byte(`not json`)))
}

func TestTickerHandlerEnqueuesEveryElement(t *testing.T) {
	pipeline := ingest.NewPipeline(nil, nil, nil, ingest.PipelineConfig{
		Exchange:  "binance",
		QueueSize: 8,
	}, testLogger())
	handler := TickerHandler(models.MarketFutures, pipeline)

	message := `[
		{"s":"BTCUSDT","c":"65000","P":"1.2","q":"100","v":"10"},
		{"s":"ETHUSDT","c":"3500","P":"-0.5","q":"90","v":"25"}
	]`
	require.NoError(t, handler(context.Background(), []byte(message)))

	assert.Error(t, handler(context.Background(), []byte(`{"not":"array"}`)))
	assert.Zero(t, pipeline.Dropped())
}
