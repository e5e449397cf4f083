package models

import (
	"fmt"
	"time"
)

type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// TickerSnapshot is the normalized 24h ticker state for one instrument.
// MarketCap stays nil here; a separate enrichment job fills it from a
// coin-listing service.
type TickerSnapshot struct {
	Symbol      string     `json:"symbol"`
	Price       float64    `json:"price"`
	PriceChange float64    `json:"price_change"`
	Volume24h   float64    `json:"volume_24h"`
	MarketVol   float64    `json:"market_vol"`
	MarketCap   *float64   `json:"market_cap"`
	Exchange    string     `json:"exchange"`
	MarketType  MarketType `json:"market_type"`
	Updated     time.Time  `json:"updated"`
}

// Key is the identity key used by both the persistent store and the
// key-value mirror.
func (t TickerSnapshot) Key() string {
	return fmt.Sprintf("%s:%s:%s", t.Exchange, t.MarketType, t.Symbol)
}
