package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tradium/marketdata/internal/backfill"
	"github.com/tradium/marketdata/internal/binance"
	"github.com/tradium/marketdata/internal/config"
	"github.com/tradium/marketdata/internal/database"
	"github.com/tradium/marketdata/internal/logging"
	"github.com/tradium/marketdata/pkg/models"
)

func main() {
	var (
		symbolsFlag    = flag.String("symbols", "", "comma-separated symbols to backfill; empty means every stored ticker symbol")
		marketFlag     = flag.String("market", "spot", "market kind: spot or futures")
		timeframesFlag = flag.String("timeframes", "", "comma-separated timeframes; empty means all")
		startFlag      = flag.String("start", "", "start month in YYYY-MM form; empty means the historical anchor")
		recentFlag     = flag.Bool("recent", false, "fetch only the latest page per timeframe instead of walking from the anchor")
	)
	flag.Parse()

	logger := logging.NewLogger("backfill")
	cfg := config.LoadBackfill()

	market := models.MarketType(*marketFlag)
	if market != models.MarketSpot && market != models.MarketFutures {
		logger.WithField("market", *marketFlag).Fatal("Market must be spot or futures")
	}

	var anchorMs int64
	if *startFlag != "" {
		start, err := time.Parse("2006-01", *startFlag)
		if err != nil {
			logger.WithError(err).Fatal("Start month must be in YYYY-MM form")
		}
		anchorMs = start.UnixMilli()
	}

	timeframes := splitList(*timeframesFlag)
	for _, tf := range timeframes {
		if _, ok := binance.TimeframeDuration(tf); !ok {
			logger.WithField("timeframe", tf).Fatal("Unknown timeframe")
		}
	}

	db, err := database.NewConnection(cfg.DatabaseURI, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	repo := database.NewRepository(db, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schemaTimeframes := timeframes
	if len(schemaTimeframes) == 0 {
		schemaTimeframes = binance.Timeframes
	}
	if err := repo.EnsureSchema(ctx, binance.Exchange, []models.MarketType{market}, schemaTimeframes); err != nil {
		logger.WithError(err).Fatal("Failed to ensure database schema")
	}

	symbols := splitList(*symbolsFlag)
	if len(symbols) == 0 {
		symbols, err = storedSymbols(ctx, repo)
		if err != nil {
			logger.WithError(err).Fatal("Failed to derive symbols from stored tickers")
		}
	}
	if len(symbols) == 0 {
		logger.Fatal("No symbols to backfill")
	}

	engine := backfill.New(
		binance.NewRestClient(market, logger),
		repo,
		backfill.Config{
			Exchange:          binance.Exchange,
			Market:            market,
			Symbols:           symbols,
			Timeframes:        timeframes,
			AnchorMs:          anchorMs,
			PageSize:          cfg.PageSize,
			RateLimitCooldown: cfg.RateLimitCooldown,
			RetryDelay:        cfg.RetryDelay,
			MaxRetries:        cfg.MaxRetries,
			Concurrency:       cfg.Concurrency,
			Recent:            *recentFlag,
		},
		logger,
	)

	// Cooperative stop: the first signal stops issuing new requests and the
	// run unwinds between requests/windows.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Termination requested, stopping backfill...")
		cancel()
	}()

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("Backfill run failed")
	}
	logger.Info("Backfill finished")
}

// storedSymbols derives the symbol list from persisted ticker snapshots the
// way the live pipeline stores them: canonical, market-suffixed. The
// perpetual suffix is stripped so the REST API sees the raw instrument.
func storedSymbols(ctx context.Context, repo *database.Repository) ([]string, error) {
	stored, err := repo.TickerSymbols(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(stored))
	symbols := make([]string, 0, len(stored))
	for _, s := range stored {
		s = strings.TrimSuffix(strings.ToUpper(s), models.PerpSuffix)
		if !strings.HasSuffix(s, "USDT") {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	return symbols, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
