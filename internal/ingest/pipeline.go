package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/internal/binance"
	"github.com/tradium/marketdata/pkg/models"
)

type TickerStore interface {
	UpsertTicker(ctx context.Context, t models.TickerSnapshot) error
}

type TickerCache interface {
	SetTicker(ctx context.Context, t models.TickerSnapshot) error
}

type Publisher interface {
	Publish(room string, payload []byte)
}

// RawTicker is one feed element tagged with the market kind of the stream
// that delivered it.
type RawTicker struct {
	Event  binance.TickerEvent
	Market models.MarketType
}

type PipelineConfig struct {
	Exchange    string
	QueueSize   int
	QuoteSuffix string
	// Excluded lists known non-tradeable or stable-pair symbols, injected at
	// startup and immutable afterwards.
	Excluded []string
}

// Pipeline decouples the producer ticker streams from a single consumer that
// filters, normalizes and persists snapshots. The queue is bounded; overflow
// drops the event and counts it instead of blocking a stream read loop.
type Pipeline struct {
	queue       chan RawTicker
	store       TickerStore
	cache       TickerCache
	hub         Publisher
	exchange    string
	quoteSuffix string
	excluded    map[string]struct{}
	dropped     atomic.Uint64
	logger      *logrus.Logger
}

func NewPipeline(store TickerStore, cache TickerCache, hub Publisher, cfg PipelineConfig, logger *logrus.Logger) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.QuoteSuffix == "" {
		cfg.QuoteSuffix = "USDT"
	}

	excluded := make(map[string]struct{}, len(cfg.Excluded))
	for _, s := range cfg.Excluded {
		excluded[strings.ToUpper(s)] = struct{}{}
	}

	return &Pipeline{
		queue:       make(chan RawTicker, cfg.QueueSize),
		store:       store,
		cache:       cache,
		hub:         hub,
		exchange:    cfg.Exchange,
		quoteSuffix: cfg.QuoteSuffix,
		excluded:    excluded,
		logger:      logger,
	}
}

// Enqueue hands a raw event to the consumer. It never blocks the caller: when
// the queue is full the event is dropped and counted.
func (p *Pipeline) Enqueue(t RawTicker) {
	select {
	case p.queue <- t:
	default:
		if n := p.dropped.Add(1); n%1000 == 1 {
			p.logger.WithFields(logrus.Fields{
				"dropped_total": n,
				"queue_size":    cap(p.queue),
			}).Warn("Ticker queue full, dropping events")
		}
	}
}

// Dropped reports how many events overflowed the queue since start.
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// Run consumes the queue until the context is cancelled. A failure processing
// one message is logged and never stops the loop.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.WithField("queue_size", cap(p.queue)).Info("Ticker pipeline started")
	defer p.logger.Info("Ticker pipeline stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			if err := p.process(ctx, t); err != nil {
				p.logger.WithFields(logrus.Fields{
					"symbol": t.Event.Symbol,
					"market": t.Market,
					"error":  err.Error(),
				}).Warn("Failed to process ticker event")
			}
		}
	}
}

func (p *Pipeline) process(ctx context.Context, t RawTicker) error {
	raw := strings.ToUpper(t.Event.Symbol)

	if _, ok := p.excluded[raw]; ok {
		return nil
	}
	if !strings.HasSuffix(raw, p.quoteSuffix) {
		return nil
	}

	price, err := strconv.ParseFloat(t.Event.LastPrice, 64)
	if err != nil {
		return fmt.Errorf("failed to parse price %q: %w", t.Event.LastPrice, err)
	}
	priceChange, err := strconv.ParseFloat(t.Event.PriceChangePct, 64)
	if err != nil {
		return fmt.Errorf("failed to parse price change %q: %w", t.Event.PriceChangePct, err)
	}
	quoteVolume, err := strconv.ParseFloat(t.Event.QuoteVolume, 64)
	if err != nil {
		return fmt.Errorf("failed to parse quote volume %q: %w", t.Event.QuoteVolume, err)
	}
	baseVolume, err := strconv.ParseFloat(t.Event.BaseVolume, 64)
	if err != nil {
		return fmt.Errorf("failed to parse base volume %q: %w", t.Event.BaseVolume, err)
	}

	snapshot := models.TickerSnapshot{
		Symbol:      models.CanonicalSymbol(raw, t.Market),
		Price:       price,
		PriceChange: priceChange,
		Volume24h:   quoteVolume,
		MarketVol:   baseVolume,
		MarketCap:   nil, // filled by the external enrichment job
		Exchange:    p.exchange,
		MarketType:  t.Market,
		Updated:     time.Now().UTC(),
	}

	if err := p.store.UpsertTicker(ctx, snapshot); err != nil {
		// One retry per the persistence failure policy, then surface.
		if err = p.store.UpsertTicker(ctx, snapshot); err != nil {
			return fmt.Errorf("failed to upsert ticker: %w", err)
		}
	}

	if err := p.cache.SetTicker(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to mirror ticker: %w", err)
	}

	if p.hub != nil {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		p.hub.Publish(models.TickerRoom(p.exchange, t.Market, snapshot.Symbol), payload)
	}

	return nil
}
