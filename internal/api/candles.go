package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/pkg/models"
)

const (
	defaultHistoryLimit = 2000
	maxHistoryLimit     = 5000
)

type CandleReader interface {
	Candles(ctx context.Context, exchange string, market models.MarketType, timeframe, symbol string, before int64, limit int) ([]models.Candle, error)
}

// CandlesAPI serves the stored candle history for charting clients.
type CandlesAPI struct {
	repo     CandleReader
	exchange string
	logger   *logrus.Logger
}

func NewCandlesAPI(repo CandleReader, exchange string, logger *logrus.Logger) *CandlesAPI {
	return &CandlesAPI{
		repo:     repo,
		exchange: exchange,
		logger:   logger,
	}
}

func (a *CandlesAPI) Routes(r *mux.Router) {
	r.HandleFunc("/api/candles", a.handleCandles).Methods(http.MethodGet)
}

func (a *CandlesAPI) handleCandles(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	market := models.MarketType(q.Get("market_type"))
	symbol := strings.ToUpper(q.Get("symbol"))
	timeframe := q.Get("tf")
	if timeframe == "" {
		timeframe = "1m"
	}
	if symbol == "" || (market != models.MarketSpot && market != models.MarketFutures) {
		http.Error(w, "symbol and market_type are required", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	var before int64
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid before timestamp", http.StatusBadRequest)
			return
		}
		before = n
	}

	candles, err := a.repo.Candles(req.Context(), a.exchange, market, timeframe, symbol, before, limit)
	if err != nil {
		a.logger.WithError(err).Error("Failed to read candle history")
		http.Error(w, "failed to read candles", http.StatusInternalServerError)
		return
	}
	if candles == nil {
		candles = []models.Candle{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(candles)
}
