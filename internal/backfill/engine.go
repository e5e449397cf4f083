package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/internal/binance"
	"github.com/tradium/marketdata/pkg/models"
)

// DefaultAnchorMs is the fixed historical anchor epoch the walk starts from
// when no explicit start month is supplied (mid-2017, before which the
// upstream has no usable data).
const DefaultAnchorMs int64 = 1500000000000

// KlineSource pages historical candles. ErrRateLimited from the source
// triggers the cooldown path.
type KlineSource interface {
	Klines(ctx context.Context, symbol, timeframe string, startMs, endMs int64, limit int) ([]models.Candle, error)
}

type CandleWriter interface {
	UpsertCandles(ctx context.Context, exchange string, market models.MarketType, timeframe string, candles []models.Candle) error
}

type Config struct {
	Exchange   string
	Market     models.MarketType
	Symbols    []string
	Timeframes []string

	// AnchorMs is the epoch the walk starts from. The engine always restarts
	// from the anchor rather than resuming from stored data; see the design
	// notes for the follow-up decision on resume-from-max-stored-timestamp.
	AnchorMs int64

	PageSize          int
	WindowSpan        time.Duration
	RateLimitCooldown time.Duration
	RetryDelay        time.Duration
	MaxRetries        int
	Concurrency       int

	// Recent fetches only the latest page per timeframe instead of walking
	// windows from the anchor.
	Recent bool
}

func (c *Config) applyDefaults() {
	if c.AnchorMs <= 0 {
		c.AnchorMs = DefaultAnchorMs
	}
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	if c.WindowSpan <= 0 {
		c.WindowSpan = 365 * 24 * time.Hour
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = time.Minute
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = binance.Timeframes
	}
}

// Engine walks historical candles per (symbol, market kind, timeframe) in
// bounded time windows, upserting every page idempotently. Cross-symbol
// concurrency is capped by a permit pool so the upstream rate budget holds.
type Engine struct {
	source KlineSource
	writer CandleWriter
	cfg    Config
	logger *logrus.Logger

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func New(source KlineSource, writer CandleWriter, cfg Config, logger *logrus.Logger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		source: source,
		writer: writer,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// sleepCtx waits for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Run backfills every configured symbol, at most Concurrency symbols at a
// time. It unwinds promptly between requests and windows when ctx is
// cancelled; an in-flight request is bounded by the source's own timeout.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.WithFields(logrus.Fields{
		"market":      e.cfg.Market,
		"symbols":     len(e.cfg.Symbols),
		"timeframes":  len(e.cfg.Timeframes),
		"concurrency": e.cfg.Concurrency,
	}).Info("Backfill run starting")

	permits := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, symbol := range e.cfg.Symbols {
		select {
		case <-ctx.Done():
			e.logger.Info("Backfill cancelled, waiting for in-flight symbols")
			wg.Wait()
			return ctx.Err()
		case permits <- struct{}{}:
		}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-permits }()
			e.backfillSymbol(ctx, symbol)
		}(symbol)
	}

	wg.Wait()
	e.logger.Info("Backfill run finished")
	return ctx.Err()
}

func (e *Engine) backfillSymbol(ctx context.Context, symbol string) {
	log := e.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"market": e.cfg.Market,
	})
	log.Info("Backfilling symbol")

	for _, timeframe := range e.cfg.Timeframes {
		if ctx.Err() != nil {
			return
		}

		var err error
		if e.cfg.Recent {
			err = e.fetchRecent(ctx, symbol, timeframe)
		} else {
			err = e.walkTimeframe(ctx, symbol, timeframe)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithFields(logrus.Fields{
				"timeframe": timeframe,
				"error":     err.Error(),
			}).Error("Backfill failed for timeframe")
		}
	}

	log.Info("Symbol backfill complete")
}

// walkTimeframe advances the cursor from the anchor to now in windows of at
// most WindowSpan. A window that exhausts its retry budget is abandoned with
// a logged gap and the walk proceeds to the next one.
func (e *Engine) walkTimeframe(ctx context.Context, symbol, timeframe string) error {
	duration, ok := binance.TimeframeDuration(timeframe)
	if !ok {
		return fmt.Errorf("unknown timeframe %q", timeframe)
	}
	stepMs := duration.Milliseconds()

	log := e.logger.WithFields(logrus.Fields{
		"symbol":    symbol,
		"timeframe": timeframe,
	})

	cursor := e.cfg.AnchorMs
	for cursor < e.nowMs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		windowEnd := cursor + e.cfg.WindowSpan.Milliseconds()
		if nowMs := e.nowMs(); windowEnd > nowMs {
			windowEnd = nowMs
		}

		done, next, err := e.fillWindow(ctx, symbol, timeframe, cursor, windowEnd, stepMs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			// Abandoned window: the gap stays visible in the logs, the walk
			// moves on to the next window.
			log.WithFields(logrus.Fields{
				"window_start": cursor,
				"window_end":   windowEnd,
				"error":        err.Error(),
			}).Error("Abandoning window after retry budget exhausted")
			cursor = windowEnd
			continue
		}
		if done {
			log.WithField("cursor", cursor).Info("No more rows, timeframe exhausted")
			return nil
		}
		cursor = next
	}

	log.Info("Timeframe backfill reached present")
	return nil
}

// fillWindow pages through [start, end). It returns done=true when the
// upstream answers with zero rows, meaning the symbol/timeframe has no more
// history to give. Requests are never bounded with the window end: a bounded
// request returns zero rows for any cursor before the symbol's listing date,
// which would be indistinguishable from exhausted history. The window only
// caps how far the cursor may advance per iteration.
func (e *Engine) fillWindow(ctx context.Context, symbol, timeframe string, start, end, stepMs int64) (done bool, next int64, err error) {
	cursor := start
	for cursor < end {
		rows, err := e.fetchPage(ctx, symbol, timeframe, cursor, 0)
		if err != nil {
			return false, cursor, err
		}
		if len(rows) == 0 {
			return true, cursor, nil
		}

		for i := range rows {
			rows[i].Symbol = models.CanonicalSymbol(rows[i].Symbol, e.cfg.Market)
		}

		if err := e.writeRows(ctx, timeframe, rows); err != nil {
			e.logger.WithFields(logrus.Fields{
				"symbol":    symbol,
				"timeframe": timeframe,
				"rows":      len(rows),
				"error":     err.Error(),
			}).Error("Failed to persist page, data gap possible")
		}

		cursor = rows[len(rows)-1].OpenTime*1000 + stepMs
	}
	return false, cursor, nil
}

// fetchPage requests one page at the cursor. A 429 answer sleeps the fixed
// cooldown and retries the same request without advancing; it never counts
// against the transient retry budget.
func (e *Engine) fetchPage(ctx context.Context, symbol, timeframe string, startMs, endMs int64) ([]models.Candle, error) {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		rows, err := e.source.Klines(ctx, symbol, timeframe, startMs, endMs, e.cfg.PageSize)
		if err == nil {
			return rows, nil
		}

		if errors.Is(err, binance.ErrRateLimited) {
			e.logger.WithFields(logrus.Fields{
				"symbol":    symbol,
				"timeframe": timeframe,
				"cooldown":  e.cfg.RateLimitCooldown.String(),
			}).Warn("Rate limited, cooling down")
			if !e.sleep(ctx, e.cfg.RateLimitCooldown) {
				return nil, ctx.Err()
			}
			continue
		}

		attempts++
		if attempts >= e.cfg.MaxRetries {
			return nil, fmt.Errorf("page fetch failed after %d attempts: %w", attempts, err)
		}
		e.logger.WithFields(logrus.Fields{
			"symbol":    symbol,
			"timeframe": timeframe,
			"attempt":   attempts,
			"error":     err.Error(),
		}).Warn("Page fetch failed, retrying")
		if !e.sleep(ctx, e.cfg.RetryDelay) {
			return nil, ctx.Err()
		}
	}
}

func (e *Engine) writeRows(ctx context.Context, timeframe string, rows []models.Candle) error {
	err := e.writer.UpsertCandles(ctx, e.cfg.Exchange, e.cfg.Market, timeframe, rows)
	if err != nil {
		// One retry per the persistence failure policy.
		err = e.writer.UpsertCandles(ctx, e.cfg.Exchange, e.cfg.Market, timeframe, rows)
	}
	return err
}

// fetchRecent tops up the latest PageSize candles for one timeframe.
func (e *Engine) fetchRecent(ctx context.Context, symbol, timeframe string) error {
	duration, ok := binance.TimeframeDuration(timeframe)
	if !ok {
		return fmt.Errorf("unknown timeframe %q", timeframe)
	}

	startMs := e.nowMs() - int64(e.cfg.PageSize)*duration.Milliseconds()
	if startMs < e.cfg.AnchorMs {
		startMs = e.cfg.AnchorMs
	}

	rows, err := e.fetchPage(ctx, symbol, timeframe, startMs, 0)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	for i := range rows {
		rows[i].Symbol = models.CanonicalSymbol(rows[i].Symbol, e.cfg.Market)
	}

	if err := e.writeRows(ctx, timeframe, rows); err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"symbol":    symbol,
		"timeframe": timeframe,
		"rows":      len(rows),
	}).Info("Recent candles topped up")
	return nil
}

func (e *Engine) nowMs() int64 {
	return e.now().UnixMilli()
}
