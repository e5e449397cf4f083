package models

import "fmt"

// Candle is one OHLCV aggregate. OpenTime and CloseTime are unix seconds.
// A still-open candle is re-sent by the feed until it closes; the store
// resolves that by last-write-wins upserts keyed on (symbol, open time).
type Candle struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	IsFinal   bool    `json:"is_final"`
}

// LiveCandle is the transient per-room state behind the countdown ticks.
// It is advisory metadata only and is lost on restart.
type LiveCandle struct {
	Symbol     string
	Exchange   string
	MarketType MarketType
	Timeframe  string
	CloseTime  int64
}

// CandleRoom builds the broadcast topic for kline updates of one
// (exchange, market, symbol, timeframe) tuple.
func CandleRoom(exchange string, market MarketType, symbol, timeframe string) string {
	return fmt.Sprintf("%s:%s:%s:%s", exchange, market, symbol, timeframe)
}

// TickerRoom builds the timeframe-less topic used for per-page grouping.
func TickerRoom(exchange string, market MarketType, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", exchange, market, symbol)
}
