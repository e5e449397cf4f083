package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/internal/binance"
)

// Entry is one row of the market overview cache, sorted by quote volume.
type Entry struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	PriceChange float64 `json:"price_change"`
	QuoteVolume float64 `json:"quote_volume"`
	BaseVolume  float64 `json:"volume_24h"`
}

type Config struct {
	QuoteSuffix string
	Excluded    []string
	Size        int
}

// Cache keeps an in-memory snapshot of the most traded instruments, rebuilt
// from every all-market ticker message. It backs the heatmap and top-movers
// endpoints and is deliberately independent of the persistence path.
type Cache struct {
	mu      sync.RWMutex
	entries []Entry

	quoteSuffix string
	excluded    map[string]struct{}
	size        int
	logger      *logrus.Logger
}

func NewCache(cfg Config, logger *logrus.Logger) *Cache {
	if cfg.QuoteSuffix == "" {
		cfg.QuoteSuffix = "USDT"
	}
	if cfg.Size <= 0 {
		cfg.Size = 350
	}

	excluded := make(map[string]struct{}, len(cfg.Excluded))
	for _, s := range cfg.Excluded {
		excluded[strings.ToUpper(s)] = struct{}{}
	}

	return &Cache{
		quoteSuffix: cfg.QuoteSuffix,
		excluded:    excluded,
		size:        cfg.Size,
		logger:      logger,
	}
}

// Update is wired as the handler of a dedicated ticker stream connection.
func (c *Cache) Update(_ context.Context, message []byte) error {
	var events []binance.TickerEvent
	if err := json.Unmarshal(message, &events); err != nil {
		return fmt.Errorf("failed to unmarshal ticker array: %w", err)
	}

	entries := make([]Entry, 0, len(events))
	for _, ev := range events {
		symbol := strings.ToUpper(ev.Symbol)
		if _, ok := c.excluded[symbol]; ok {
			continue
		}
		if !strings.HasSuffix(symbol, c.quoteSuffix) {
			continue
		}

		price, err := strconv.ParseFloat(ev.LastPrice, 64)
		if err != nil {
			continue
		}
		change, err := strconv.ParseFloat(ev.PriceChangePct, 64)
		if err != nil {
			continue
		}
		quoteVol, err := strconv.ParseFloat(ev.QuoteVolume, 64)
		if err != nil {
			continue
		}
		baseVol, err := strconv.ParseFloat(ev.BaseVolume, 64)
		if err != nil {
			continue
		}

		entries = append(entries, Entry{
			Symbol:      symbol,
			Price:       price,
			PriceChange: change,
			QuoteVolume: quoteVol,
			BaseVolume:  baseVol,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].QuoteVolume > entries[j].QuoteVolume
	})
	if len(entries) > c.size {
		entries = entries[:c.size]
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	return nil
}

// Page returns one page of the cache, highest quote volume first.
func (c *Cache) Page(page, limit int) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := page * limit
	if start >= len(c.entries) {
		return []Entry{}
	}
	end := start + limit
	if end > len(c.entries) {
		end = len(c.entries)
	}

	out := make([]Entry, end-start)
	copy(out, c.entries[start:end])
	return out
}

// TopMovers returns the n best and n worst 24h performers in the cache.
func (c *Cache) TopMovers(n int) (gainers, losers []Entry) {
	c.mu.RLock()
	sorted := make([]Entry, len(c.entries))
	copy(sorted, c.entries)
	c.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PriceChange > sorted[j].PriceChange
	})

	if n > len(sorted) {
		n = len(sorted)
	}
	gainers = sorted[:n]

	losers = make([]Entry, 0, n)
	for i := len(sorted) - 1; i >= len(sorted)-n; i-- {
		losers = append(losers, sorted[i])
	}
	return gainers, losers
}
