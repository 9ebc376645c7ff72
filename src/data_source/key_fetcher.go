package datasource

import (
	"context"
	"fmt"

	"market-stream/src/cache"
	"market-stream/src/interfaces"
	"market-stream/src/models"
)

// KeyFetcher adapts source to the cache: quote keys load a quote, series keys load the
// chart for their timeframe with indicators attached when computer is set.
func KeyFetcher(source interfaces.IQuoteFetcher, computer interfaces.IIndicatorComputer) cache.FetchFunc {
	return func(ctx context.Context, key string) (*models.MSnapshot, error) {
		prefix, symbol, timeframe := cache.ParseKey(key)
		if symbol == "" {
			return nil, fmt.Errorf("malformed cache key %q", key)
		}

		switch prefix {
		case cache.QuotePrefix:
			return source.FetchQuote(ctx, symbol, "")

		case cache.SeriesPrefix:
			snap, err := source.FetchSeries(ctx, symbol, "", timeframe)
			if err != nil {
				return nil, err
			}
			if computer != nil && len(snap.ChartData) > 0 {
				snap.Indicators = computer.Compute(snap.ChartData)
			}
			return snap, nil

		default:
			return nil, fmt.Errorf("unknown cache key kind %q", prefix)
		}
	}
}
