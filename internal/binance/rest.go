package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/tradium/marketdata/pkg/models"
)

// ErrRateLimited is returned when the upstream answers HTTP 429. The caller
// decides how long to cool down before retrying the same request.
var ErrRateLimited = errors.New("rate limited by upstream")

const defaultRequestTimeout = 20 * time.Second

type RestClient struct {
	client *resty.Client
	market models.MarketType
	logger *logrus.Logger
}

func NewRestClient(market models.MarketType, logger *logrus.Logger) *RestClient {
	return NewRestClientWithBase(market, RestBase(market), logger)
}

// NewRestClientWithBase exists so tests can point the client at a local server.
func NewRestClientWithBase(market models.MarketType, baseURL string, logger *logrus.Logger) *RestClient {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(defaultRequestTimeout)

	return &RestClient{
		client: client,
		market: market,
		logger: logger,
	}
}

func (c *RestClient) klinesEndpoint() string {
	if c.market == models.MarketFutures {
		return "/fapi/v1/klines"
	}
	return "/api/v3/klines"
}

// Klines fetches up to limit candles starting at startMs. endMs of zero means
// no upper bound. Rows come back oldest first.
func (c *RestClient) Klines(ctx context.Context, symbol, timeframe string, startMs, endMs int64, limit int) ([]models.Candle, error) {
	params := map[string]string{
		"symbol":    symbol,
		"interval":  timeframe,
		"limit":     strconv.Itoa(limit),
		"startTime": strconv.FormatInt(startMs, 10),
	}
	if endMs > 0 {
		params["endTime"] = strconv.FormatInt(endMs, 10)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(c.klinesEndpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines: %w", err)
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("klines request for %s %s returned HTTP %d: %s",
			symbol, timeframe, resp.StatusCode(), resp.String())
	}

	var rows [][]interface{}
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal klines: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKlineRow(symbol, timeframe, row)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"symbol":    symbol,
				"timeframe": timeframe,
				"error":     err.Error(),
			}).Warn("Skipping malformed kline row")
			continue
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// parseKlineRow decodes one REST row of the form
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlineRow(symbol, timeframe string, row []interface{}) (models.Candle, error) {
	if len(row) < 7 {
		return models.Candle{}, fmt.Errorf("kline row has %d fields, want at least 7", len(row))
	}

	openMs, ok := row[0].(float64)
	if !ok {
		return models.Candle{}, fmt.Errorf("open time is not numeric: %v", row[0])
	}
	closeMs, ok := row[6].(float64)
	if !ok {
		return models.Candle{}, fmt.Errorf("close time is not numeric: %v", row[6])
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return models.Candle{}, fmt.Errorf("field %d is not a string: %v", i, row[i])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("failed to parse field %d %q: %w", i, s, err)
		}
		fields[i-1] = v
	}

	return models.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
		OpenTime:  int64(openMs) / 1000,
		CloseTime: int64(closeMs) / 1000,
		IsFinal:   true,
	}, nil
}
