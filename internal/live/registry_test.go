package live

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradium/marketdata/pkg/models"
)

type capturingHub struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func newCapturingHub() *capturingHub {
	return &capturingHub{payloads: make(map[string][][]byte)}
}

func (h *capturingHub) Publish(room string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads[room] = append(h.payloads[room], payload)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestCountdownIsNonIncreasingAndClampedAtZero(t *testing.T) {
	hub := newCapturingHub()
	registry := NewRegistry(hub, testLogger())

	closeTime := int64(1700000059)
	room := models.CandleRoom("binance", models.MarketSpot, "BTCUSDT", "1m")
	registry.Update(room, models.LiveCandle{
		Symbol:     "BTCUSDT",
		Exchange:   "binance",
		MarketType: models.MarketSpot,
		Timeframe:  "1m",
		CloseTime:  closeTime,
	})

	// Simulate successive 1 Hz ticks walking past the close time.
	clock := int64(1700000055)
	registry.now = func() time.Time { return time.Unix(clock, 0) }

	var countdowns []int64
	for i := 0; i < 8; i++ {
		registry.broadcast()
		clock++
	}

	for _, payload := range hub.payloads[room] {
		var c Countdown
		require.NoError(t, json.Unmarshal(payload, &c))
		countdowns = append(countdowns, c.Countdown)
	}

	require.Len(t, countdowns, 8)
	assert.Equal(t, []int64{4, 3, 2, 1, 0, 0, 0, 0}, countdowns)
	for i := 1; i < len(countdowns); i++ {
		assert.LessOrEqual(t, countdowns[i], countdowns[i-1], "countdown must never increase")
		assert.GreaterOrEqual(t, countdowns[i], int64(0), "countdown must never go negative")
	}
}

func TestBroadcastCoversEveryTrackedRoom(t *testing.T) {
	hub := newCapturingHub()
	registry := NewRegistry(hub, testLogger())
	registry.now = func() time.Time { return time.Unix(100, 0) }

	registry.Update("room-a", models.LiveCandle{Symbol: "BTCUSDT", CloseTime: 160})
	registry.Update("room-b", models.LiveCandle{Symbol: "ETHUSDT", CloseTime: 130})

	registry.broadcast()

	assert.Len(t, hub.payloads["room-a"], 1)
	assert.Len(t, hub.payloads["room-b"], 1)

	var c Countdown
	require.NoError(t, json.Unmarshal(hub.payloads["room-a"][0], &c))
	assert.Equal(t, int64(60), c.Countdown)
}

func TestUpdateOverwritesRoomState(t *testing.T) {
	hub := newCapturingHub()
	registry := NewRegistry(hub, testLogger())
	registry.now = func() time.Time { return time.Unix(0, 0) }

	registry.Update("room", models.LiveCandle{Symbol: "BTCUSDT", CloseTime: 60})
	registry.Update("room", models.LiveCandle{Symbol: "BTCUSDT", CloseTime: 120})

	registry.broadcast()

	var c Countdown
	require.NoError(t, json.Unmarshal(hub.payloads["room"][0], &c))
	assert.Equal(t, int64(120), c.Countdown)
}
