package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tradium/marketdata/pkg/models"
)

const (
	Exchange = "binance"

	SpotStreamBase    = "wss://stream.binance.com:9443"
	FuturesStreamBase = "wss://fstream.binance.com"
	SpotRestBase      = "https://api.binance.com"
	FuturesRestBase   = "https://fapi.binance.com"
)

// Timeframes lists every supported candle interval, shortest first.
var Timeframes = []string{
	"1m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "12h", "1d", "3d", "1w", "1M",
}

var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

func TimeframeDuration(timeframe string) (time.Duration, bool) {
	d, ok := timeframeDurations[timeframe]
	return d, ok
}

func streamBase(market models.MarketType) string {
	if market == models.MarketFutures {
		return FuturesStreamBase
	}
	return SpotStreamBase
}

func RestBase(market models.MarketType) string {
	if market == models.MarketFutures {
		return FuturesRestBase
	}
	return SpotRestBase
}

// TickerStreamURL is the all-market 24h ticker feed for one market kind.
func TickerStreamURL(market models.MarketType) string {
	return streamBase(market) + "/ws/!ticker@arr"
}

// KlineStreamURL multiplexes the kline feeds of all given symbols for one
// timeframe over a single combined-stream connection, so the connection
// count stays one per (market kind, timeframe) pair.
func KlineStreamURL(market models.MarketType, symbols []string, timeframe string) string {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(s), timeframe))
	}
	return streamBase(market) + "/stream?streams=" + strings.Join(streams, "/")
}

// TickerEvent is one element of the !ticker@arr array payload.
type TickerEvent struct {
	Symbol         string `json:"s"`
	LastPrice      string `json:"c"`
	PriceChangePct string `json:"P"`
	QuoteVolume    string `json:"q"`
	BaseVolume     string `json:"v"`
}

// KlineEvent is a single kline stream message.
type KlineEvent struct {
	Symbol string       `json:"s"`
	Kline  KlinePayload `json:"k"`
}

type KlinePayload struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	IsFinal   bool   `json:"x"`
}

// CombinedStreamEvent wraps messages arriving on /stream endpoints.
type CombinedStreamEvent struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}
