package cache

import (
	"strings"

	"market-stream/src/models"
)

const (
	QuotePrefix  = "quote"
	SeriesPrefix = "series"
)

// QuoteKey is the cache key of the latest quote of symbol.
func QuoteKey(symbol string) string {
	return QuotePrefix + ":" + models.NormalizeSymbol(symbol)
}

// SeriesKey is the cache key of the chart of symbol for one timeframe.
func SeriesKey(symbol, timeframe string) string {
	return SeriesPrefix + ":" + models.NormalizeSymbol(symbol) + ":" + timeframe
}

// ParseKey splits a key built by QuoteKey or SeriesKey.
// Unknown keys return an empty symbol.
func ParseKey(key string) (prefix, symbol, timeframe string) {
	parts := strings.SplitN(key, ":", 3)
	switch {
	case len(parts) == 2 && parts[0] == QuotePrefix:
		return parts[0], parts[1], ""
	case len(parts) == 3 && parts[0] == SeriesPrefix:
		return parts[0], parts[1], parts[2]
	default:
		return "", "", ""
	}
}
