package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tradium/marketdata/internal/binance"
	"github.com/tradium/marketdata/internal/ingest"
	"github.com/tradium/marketdata/pkg/models"
)

// TickerHandler parses the all-market ticker array, tags every element with
// the stream's market kind and pushes it onto the normalization queue.
func TickerHandler(market models.MarketType, pipeline *ingest.Pipeline) Handler {
	return func(_ context.Context, message []byte) error {
		var events []binance.TickerEvent
		if err := json.Unmarshal(message, &events); err != nil {
			return fmt.Errorf("failed to unmarshal ticker array: %w", err)
		}

		for _, ev := range events {
			pipeline.Enqueue(ingest.RawTicker{Event: ev, Market: market})
		}
		return nil
	}
}
