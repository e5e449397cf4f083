package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/internal/api"
	"github.com/tradium/marketdata/internal/binance"
	"github.com/tradium/marketdata/internal/cache"
	"github.com/tradium/marketdata/internal/config"
	"github.com/tradium/marketdata/internal/database"
	"github.com/tradium/marketdata/internal/health"
	"github.com/tradium/marketdata/internal/ingest"
	"github.com/tradium/marketdata/internal/live"
	"github.com/tradium/marketdata/internal/logging"
	"github.com/tradium/marketdata/internal/snapshot"
	"github.com/tradium/marketdata/internal/stream"
	"github.com/tradium/marketdata/internal/task"
	"github.com/tradium/marketdata/internal/ws"
	"github.com/tradium/marketdata/pkg/models"
)

func main() {
	logger := logging.NewLogger("ingestor")

	cfg := config.LoadIngestor()
	timeframes := cfg.Timeframes
	if len(timeframes) == 0 {
		timeframes = binance.Timeframes
	}
	logger.WithFields(logrus.Fields{
		"exchange":      cfg.Exchange,
		"watch_symbols": cfg.WatchSymbols,
		"timeframes":    len(timeframes),
		"listen_port":   cfg.ListenPort,
	}).Info("Configuration loaded")

	db, err := database.NewConnection(cfg.DatabaseURI, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	repo := database.NewRepository(db, logger)

	markets := []models.MarketType{models.MarketSpot, models.MarketFutures}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := repo.EnsureSchema(ctx, cfg.Exchange, markets, timeframes); err != nil {
		logger.WithError(err).Fatal("Failed to ensure database schema")
	}

	redis, err := cache.New(cfg.Redis, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redis.Close()

	// Cold start: restore the key-value mirror from persisted snapshots.
	tickers, err := repo.ListTickers(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to list stored tickers")
	}
	if err := redis.WarmUp(ctx, tickers); err != nil {
		logger.WithError(err).Fatal("Failed to warm up redis")
	}

	registry := health.NewRegistry()
	watchdog := health.NewWatchdog(registry, cfg.StaleThreshold, logger)
	if err := watchdog.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start watchdog")
	}
	defer watchdog.Stop()

	hub := ws.NewHub(logger)

	liveRegistry := live.NewRegistry(hub, logger)
	task.Go(ctx, "countdown-broadcaster", logger, liveRegistry.Run)

	pipeline := ingest.NewPipeline(repo, redis, hub, ingest.PipelineConfig{
		Exchange:    cfg.Exchange,
		QueueSize:   cfg.QueueSize,
		QuoteSuffix: cfg.QuoteSuffix,
		Excluded:    cfg.ExcludedSymbols,
	}, logger)
	task.Go(ctx, "ticker-pipeline", logger, pipeline.Run)

	klines := ingest.NewKlineProcessor(repo, hub, liveRegistry, cfg.Exchange, logger)

	// One resilient connection per ticker feed, plus one multiplexed kline
	// connection per (market kind, timeframe) pair.
	for _, market := range markets {
		name := fmt.Sprintf("%s:%s:ticker", cfg.Exchange, market)
		conn := stream.New(name, binance.TickerStreamURL(market), stream.TickerHandler(market, pipeline), registry, logger)
		task.Go(ctx, name, logger, conn.Run)

		for _, timeframe := range timeframes {
			name := fmt.Sprintf("%s:%s:kline:%s", cfg.Exchange, market, timeframe)
			url := binance.KlineStreamURL(market, cfg.WatchSymbols, timeframe)
			conn := stream.New(name, url, stream.KlineHandler(market, timeframe, klines), registry, logger)
			task.Go(ctx, name, logger, conn.Run)
		}
	}

	// Ancillary market overview cache on its own feed connection.
	overview := snapshot.NewCache(snapshot.Config{
		QuoteSuffix: cfg.QuoteSuffix,
		Excluded:    cfg.ExcludedSymbols,
		Size:        cfg.SnapshotSize,
	}, logger)
	overviewConn := stream.New(
		fmt.Sprintf("%s:spot:ticker:overview", cfg.Exchange),
		binance.TickerStreamURL(models.MarketSpot),
		overview.Update, registry, logger)
	task.Go(ctx, "market-overview", logger, overviewConn.Run)

	router := mux.NewRouter()
	ws.NewServer(hub, cfg.Exchange, logger).Routes(router)
	overview.Routes(router)
	api.NewCandlesAPI(repo, cfg.Exchange, logger).Routes(router)
	health.NewChecker(db, redis, registry, cfg.StaleThreshold, logger).Routes(router)

	server := &http.Server{
		Addr:         ":" + cfg.ListenPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}
	go func() {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down ingestor...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
	}

	logger.Info("Ingestor stopped")
}
