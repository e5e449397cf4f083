package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tradium/marketdata/internal/cache"
)

// IngestorConfig drives the live ingestion binary.
type IngestorConfig struct {
	DatabaseURI string
	Redis       cache.Config

	Exchange string
	// WatchSymbols are the instruments whose kline streams are subscribed,
	// across every market kind and timeframe.
	WatchSymbols []string
	Timeframes   []string
	// ExcludedSymbols never reach persistence or broadcast.
	ExcludedSymbols []string
	QuoteSuffix     string

	QueueSize      int
	StaleThreshold time.Duration
	SnapshotSize   int
	ListenPort     string
}

func LoadIngestor() *IngestorConfig {
	return &IngestorConfig{
		DatabaseURI: getEnv("DB_URI", "postgres://localhost:5432/tradium?sslmode=disable"),
		Redis: cache.Config{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Exchange:        getEnv("EXCHANGE", "binance"),
		WatchSymbols:    getEnvList("WATCH_SYMBOLS", []string{"BTCUSDT", "ETHUSDT"}),
		Timeframes:      getEnvList("TIMEFRAMES", nil),
		ExcludedSymbols: getEnvList("EXCLUDED_SYMBOLS", []string{"USD1USDT", "TUSDT"}),
		QuoteSuffix:     getEnv("QUOTE_SUFFIX", "USDT"),
		QueueSize:       getEnvInt("TICKER_QUEUE_SIZE", 4096),
		StaleThreshold:  getEnvDuration("STALE_THRESHOLD", 30*time.Second),
		SnapshotSize:    getEnvInt("SNAPSHOT_SIZE", 350),
		ListenPort:      getEnv("LISTEN_PORT", "5002"),
	}
}

// BackfillConfig carries the environment part of a backfill run; the symbol,
// market, timeframe and start-date filters arrive as flags.
type BackfillConfig struct {
	DatabaseURI       string
	RateLimitCooldown time.Duration
	RetryDelay        time.Duration
	MaxRetries        int
	Concurrency       int
	PageSize          int
}

func LoadBackfill() *BackfillConfig {
	return &BackfillConfig{
		DatabaseURI:       getEnv("DB_URI", "postgres://localhost:5432/tradium?sslmode=disable"),
		RateLimitCooldown: getEnvDuration("RATE_LIMIT_COOLDOWN", time.Minute),
		RetryDelay:        getEnvDuration("RETRY_DELAY", time.Second),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		Concurrency:       getEnvInt("CONCURRENCY", 2),
		PageSize:          getEnvInt("PAGE_SIZE", 1000),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
