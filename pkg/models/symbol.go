package models

import "strings"

// PerpSuffix disambiguates a perpetual-futures instrument from the spot
// instrument of the same base/quote pair.
const PerpSuffix = "PERP"

// CanonicalSymbol derives the stored/broadcast symbol: spot symbols pass
// through, futures symbols carry the perpetual suffix exactly once.
func CanonicalSymbol(symbol string, market MarketType) string {
	symbol = strings.ToUpper(symbol)
	if market == MarketFutures && !strings.HasSuffix(symbol, PerpSuffix) {
		return symbol + PerpSuffix
	}
	return symbol
}
