package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/pkg/models"
)

type Repository struct {
	db     *DB
	logger *logrus.Logger
}

func NewRepository(db *DB, logger *logrus.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// tableSuffixes maps feed timeframe names onto table name suffixes. Postgres
// folds unquoted identifiers to lower case, so "1m" and "1M" would otherwise
// collide in one table.
var tableSuffixes = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "12h": "12h",
	"1d": "1d", "3d": "3d", "1w": "1w", "1M": "1mo",
}

// CandleTable names the per (exchange, market kind, timeframe) candle table,
// e.g. binance_spot_candles_1m.
func CandleTable(exchange string, market models.MarketType, timeframe string) (string, error) {
	suffix, ok := tableSuffixes[timeframe]
	if !ok {
		return "", fmt.Errorf("unknown timeframe %q", timeframe)
	}
	return fmt.Sprintf("%s_%s_candles_%s", exchange, market, suffix), nil
}

const tickersSchema = `
    CREATE TABLE IF NOT EXISTS tickers (
        id TEXT PRIMARY KEY,
        symbol TEXT NOT NULL,
        price DOUBLE PRECISION NOT NULL,
        price_change DOUBLE PRECISION NOT NULL,
        volume_24h DOUBLE PRECISION NOT NULL,
        market_vol DOUBLE PRECISION NOT NULL,
        market_cap DOUBLE PRECISION,
        exchange TEXT NOT NULL,
        market_type TEXT NOT NULL,
        updated TIMESTAMPTZ NOT NULL
    )`

const candlesSchemaTemplate = `
    CREATE TABLE IF NOT EXISTS %s (
        symbol TEXT NOT NULL,
        open_time BIGINT NOT NULL,
        close_time BIGINT NOT NULL,
        open DOUBLE PRECISION NOT NULL,
        high DOUBLE PRECISION NOT NULL,
        low DOUBLE PRECISION NOT NULL,
        close DOUBLE PRECISION NOT NULL,
        volume DOUBLE PRECISION NOT NULL,
        is_final BOOLEAN NOT NULL,
        PRIMARY KEY (symbol, open_time)
    )`

// EnsureSchema creates the tickers table and one candle table per
// (market kind, timeframe) combination.
func (r *Repository) EnsureSchema(ctx context.Context, exchange string, markets []models.MarketType, timeframes []string) error {
	if _, err := r.db.ExecContext(ctx, tickersSchema); err != nil {
		return fmt.Errorf("failed to create tickers table: %w", err)
	}

	created := 0
	for _, market := range markets {
		for _, timeframe := range timeframes {
			table, err := CandleTable(exchange, market, timeframe)
			if err != nil {
				return err
			}
			if _, err := r.db.ExecContext(ctx, fmt.Sprintf(candlesSchemaTemplate, table)); err != nil {
				return fmt.Errorf("failed to create table %s: %w", table, err)
			}
			created++
		}
	}

	r.logger.WithField("candle_tables", created).Info("Database schema ensured")
	return nil
}

// UpsertTicker overwrites the snapshot stored under its identity key. Every
// accepted ticker event lands here, so the row is last-write-wins.
func (r *Repository) UpsertTicker(ctx context.Context, t models.TickerSnapshot) error {
	query := `
        INSERT INTO tickers (id, symbol, price, price_change, volume_24h, market_vol, market_cap, exchange, market_type, updated)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            symbol = EXCLUDED.symbol, price = EXCLUDED.price, price_change = EXCLUDED.price_change,
            volume_24h = EXCLUDED.volume_24h, market_vol = EXCLUDED.market_vol, market_cap = EXCLUDED.market_cap,
            exchange = EXCLUDED.exchange, market_type = EXCLUDED.market_type, updated = EXCLUDED.updated`

	_, err := r.db.ExecContext(ctx, query,
		t.Key(), t.Symbol, t.Price, t.PriceChange, t.Volume24h, t.MarketVol,
		t.MarketCap, t.Exchange, string(t.MarketType), t.Updated)
	if err != nil {
		return fmt.Errorf("failed to upsert ticker %s: %w", t.Key(), err)
	}
	return nil
}

// ListTickers returns every stored snapshot, used to warm the key-value
// mirror on cold start.
func (r *Repository) ListTickers(ctx context.Context) ([]models.TickerSnapshot, error) {
	query := `
        SELECT symbol, price, price_change, volume_24h, market_vol, market_cap, exchange, market_type, updated
        FROM tickers`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}
	defer rows.Close()

	var tickers []models.TickerSnapshot
	for rows.Next() {
		var t models.TickerSnapshot
		var marketCap sql.NullFloat64
		var marketType string
		if err := rows.Scan(&t.Symbol, &t.Price, &t.PriceChange, &t.Volume24h, &t.MarketVol,
			&marketCap, &t.Exchange, &marketType, &t.Updated); err != nil {
			return nil, fmt.Errorf("failed to scan ticker row: %w", err)
		}
		if marketCap.Valid {
			t.MarketCap = &marketCap.Float64
		}
		t.MarketType = models.MarketType(marketType)
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// TickerSymbols returns the distinct symbols present in the tickers table.
func (r *Repository) TickerSymbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM tickers`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticker symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol row: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// UpsertCandle stores a single candle idempotently.
func (r *Repository) UpsertCandle(ctx context.Context, exchange string, market models.MarketType, timeframe string, candle models.Candle) error {
	return r.UpsertCandles(ctx, exchange, market, timeframe, []models.Candle{candle})
}

// UpsertCandles bulk-upserts a batch keyed by (symbol, open_time). Re-applying
// the same key with later field values overwrites in place.
func (r *Repository) UpsertCandles(ctx context.Context, exchange string, market models.MarketType, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	table, err := CandleTable(exchange, market, timeframe)
	if err != nil {
		return err
	}

	start := time.Now()

	query := fmt.Sprintf(`
        INSERT INTO %s (symbol, open_time, close_time, open, high, low, close, volume, is_final)
        VALUES `, table)

	values := make([]string, 0, len(candles))
	args := make([]interface{}, 0, len(candles)*9)

	for i, c := range candles {
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			i*9+1, i*9+2, i*9+3, i*9+4, i*9+5, i*9+6, i*9+7, i*9+8, i*9+9))

		args = append(args, c.Symbol, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.IsFinal)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (symbol, open_time) DO UPDATE SET ` +
		`close_time = EXCLUDED.close_time, open = EXCLUDED.open, high = EXCLUDED.high, ` +
		`low = EXCLUDED.low, close = EXCLUDED.close, volume = EXCLUDED.volume, is_final = EXCLUDED.is_final`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %d candles into %s: %w", len(candles), table, err)
	}

	r.logger.WithFields(logrus.Fields{
		"table":         table,
		"records_count": len(candles),
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Debug("Upserted candle batch")

	return nil
}

// Candles reads up to limit candles for one symbol, in chronological order.
// A non-zero before restricts the result to candles opened earlier than it.
func (r *Repository) Candles(ctx context.Context, exchange string, market models.MarketType, timeframe, symbol string, before int64, limit int) ([]models.Candle, error) {
	table, err := CandleTable(exchange, market, timeframe)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
        SELECT symbol, open_time, close_time, open, high, low, close, volume, is_final
        FROM %s
        WHERE symbol = $1`, table)
	args := []interface{}{symbol}

	if before > 0 {
		query += ` AND open_time < $2`
		args = append(args, before)
	}
	query += fmt.Sprintf(` ORDER BY open_time DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles from %s: %w", table, err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		c := models.Candle{Timeframe: timeframe}
		if err := rows.Scan(&c.Symbol, &c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.IsFinal); err != nil {
			return nil, fmt.Errorf("failed to scan candle row: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}
