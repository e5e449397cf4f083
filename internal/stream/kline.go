package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tradium/marketdata/internal/binance"
	"github.com/tradium/marketdata/internal/ingest"
	"github.com/tradium/marketdata/pkg/models"
)

// KlineHandler unwraps combined-stream kline messages and processes them
// inline. One multiplexed connection carries every watched symbol for a
// (market kind, timeframe) pair; each message carries its own symbol tag.
func KlineHandler(market models.MarketType, timeframe string, processor *ingest.KlineProcessor) Handler {
	return func(ctx context.Context, message []byte) error {
		var wrapper binance.CombinedStreamEvent
		if err := json.Unmarshal(message, &wrapper); err != nil {
			return fmt.Errorf("failed to unmarshal stream wrapper: %w", err)
		}
		if len(wrapper.Data) == 0 {
			// Subscription acks and other control frames carry no data.
			return nil
		}

		var ev binance.KlineEvent
		if err := json.Unmarshal(wrapper.Data, &ev); err != nil {
			return fmt.Errorf("failed to unmarshal kline event: %w", err)
		}
		if ev.Symbol == "" {
			return nil
		}

		return processor.Process(ctx, market, timeframe, ev)
	}
}
