package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/internal/binance"
	"github.com/tradium/marketdata/pkg/models"
)

type CandleStore interface {
	UpsertCandle(ctx context.Context, exchange string, market models.MarketType, timeframe string, candle models.Candle) error
}

type LiveTracker interface {
	Update(room string, candle models.LiveCandle)
}

// CandleUpdate is the payload broadcast to a room on every processed kline
// message: the candle itself plus the seconds left until it closes.
type CandleUpdate struct {
	models.Candle
	Countdown int64 `json:"countdown"`
}

// KlineProcessor handles kline events inline on their connection: no queue,
// so per-stream message order is preserved end to end.
type KlineProcessor struct {
	store    CandleStore
	hub      Publisher
	live     LiveTracker
	exchange string
	now      func() time.Time
	logger   *logrus.Logger
}

func NewKlineProcessor(store CandleStore, hub Publisher, live LiveTracker, exchange string, logger *logrus.Logger) *KlineProcessor {
	return &KlineProcessor{
		store:    store,
		hub:      hub,
		live:     live,
		exchange: exchange,
		now:      time.Now,
		logger:   logger,
	}
}

// Process normalizes one kline event, persists it, refreshes the live-candle
// state for its room and broadcasts the update. Errors are per-message; the
// owning connection is never torn down by a processing failure.
func (k *KlineProcessor) Process(ctx context.Context, market models.MarketType, timeframe string, ev binance.KlineEvent) error {
	symbol := models.CanonicalSymbol(ev.Symbol, market)

	open, err := strconv.ParseFloat(ev.Kline.Open, 64)
	if err != nil {
		return fmt.Errorf("failed to parse open %q: %w", ev.Kline.Open, err)
	}
	high, err := strconv.ParseFloat(ev.Kline.High, 64)
	if err != nil {
		return fmt.Errorf("failed to parse high %q: %w", ev.Kline.High, err)
	}
	low, err := strconv.ParseFloat(ev.Kline.Low, 64)
	if err != nil {
		return fmt.Errorf("failed to parse low %q: %w", ev.Kline.Low, err)
	}
	closePrice, err := strconv.ParseFloat(ev.Kline.Close, 64)
	if err != nil {
		return fmt.Errorf("failed to parse close %q: %w", ev.Kline.Close, err)
	}
	volume, err := strconv.ParseFloat(ev.Kline.Volume, 64)
	if err != nil {
		return fmt.Errorf("failed to parse volume %q: %w", ev.Kline.Volume, err)
	}

	candle := models.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		OpenTime:  ev.Kline.OpenTime / 1000,
		CloseTime: ev.Kline.CloseTime / 1000,
		IsFinal:   ev.Kline.IsFinal,
	}

	countdown := candle.CloseTime - k.now().Unix()
	if countdown < 0 {
		countdown = 0
	}

	if err := k.store.UpsertCandle(ctx, k.exchange, market, timeframe, candle); err != nil {
		// One retry per the persistence failure policy, then surface.
		if err = k.store.UpsertCandle(ctx, k.exchange, market, timeframe, candle); err != nil {
			return fmt.Errorf("failed to upsert candle: %w", err)
		}
	}

	room := models.CandleRoom(k.exchange, market, symbol, timeframe)
	k.live.Update(room, models.LiveCandle{
		Symbol:     symbol,
		Exchange:   k.exchange,
		MarketType: market,
		Timeframe:  timeframe,
		CloseTime:  candle.CloseTime,
	})

	payload, err := json.Marshal(CandleUpdate{Candle: candle, Countdown: countdown})
	if err != nil {
		return fmt.Errorf("failed to marshal candle update: %w", err)
	}
	k.hub.Publish(room, payload)

	k.logger.WithFields(logrus.Fields{
		"room":      room,
		"open_time": candle.OpenTime,
		"is_final":  candle.IsFinal,
	}).Debug("Processed kline event")

	return nil
}
