package interfaces

import (
	"context"

	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// IQuoteFetcher fetches the latest data for one symbol from an upstream provider.
// Implementations may fail with fetch, rate-limit or timeout errors.
// -----------------------------------------------------------------------------

type IQuoteFetcher interface {

	// Name returns the unique identifier of the source
	Name() string

	// -----------------------------------------------------------------------------

	// FetchQuote returns the current quote with a short intraday chart.
	FetchQuote(ctx context.Context, symbol string, kind models.AssetKind) (*models.MSnapshot, error)

	// -----------------------------------------------------------------------------

	// FetchSeries returns the chart series for a display timeframe ("1m", "5m", "1h", ...).
	FetchSeries(ctx context.Context, symbol string, kind models.AssetKind, timeframe string) (*models.MSnapshot, error)
}

// -----------------------------------------------------------------------------
// IIndicatorComputer derives technical indicators from a chart series.
// -----------------------------------------------------------------------------

type IIndicatorComputer interface {
	Compute(series []models.MChartPoint) map[string]interface{}
}
