package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/pkg/models"
)

type Publisher interface {
	Publish(room string, payload []byte)
}

// Countdown is the per-second payload pushed to every room with a live
// candle, whether or not a candle update arrived that second.
type Countdown struct {
	Symbol     string            `json:"symbol"`
	Exchange   string            `json:"exchange"`
	MarketType models.MarketType `json:"market_type"`
	Timeframe  string            `json:"timeframe"`
	Countdown  int64             `json:"countdown"`
}

// Registry tracks the most recent open candle per room and drives the 1 Hz
// countdown-to-close broadcast. State is in-memory only; losing it on restart
// is acceptable because it is advisory countdown metadata.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]models.LiveCandle
	hub    Publisher
	now    func() time.Time
	logger *logrus.Logger
}

func NewRegistry(hub Publisher, logger *logrus.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]models.LiveCandle),
		hub:    hub,
		now:    time.Now,
		logger: logger,
	}
}

// Update overwrites the live state for room. Called from the kline path on
// every processed message.
func (r *Registry) Update(room string, candle models.LiveCandle) {
	r.mu.Lock()
	r.rooms[room] = candle
	r.mu.Unlock()
}

// Run emits one countdown tick per second to every tracked room until the
// context is cancelled.
func (r *Registry) Run(ctx context.Context) {
	r.logger.Info("Countdown broadcaster started")
	defer r.logger.Info("Countdown broadcaster stopped")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.broadcast()
		}
	}
}

func (r *Registry) broadcast() {
	r.mu.RLock()
	snapshot := make(map[string]models.LiveCandle, len(r.rooms))
	for room, candle := range r.rooms {
		snapshot[room] = candle
	}
	r.mu.RUnlock()

	now := r.now().Unix()
	for room, candle := range snapshot {
		payload, err := json.Marshal(Countdown{
			Symbol:     candle.Symbol,
			Exchange:   candle.Exchange,
			MarketType: candle.MarketType,
			Timeframe:  candle.Timeframe,
			Countdown:  remaining(candle.CloseTime, now),
		})
		if err != nil {
			r.logger.WithError(err).Error("Failed to marshal countdown payload")
			continue
		}
		r.hub.Publish(room, payload)
	}
}

// remaining clamps the countdown at zero so it never goes negative after the
// candle closes.
func remaining(closeTime, now int64) int64 {
	if d := closeTime - now; d > 0 {
		return d
	}
	return 0
}
