package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"market-stream/src/analysis"
	"market-stream/src/analysis/core"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
)

var _ interfaces.IQuoteFetcher = (*CoinGeckoSource)(nil)

type chartQuery struct {
	days     string
	resample int64
}

// CoinGecko picks the granularity from the day count: 5 minutes for 1 day, hourly up to 90, daily beyond.
var timeframeQueries = map[string]chartQuery{
	"1m":  {days: "1"},
	"5m":  {days: "1"},
	"15m": {days: "1", resample: 900},
	"30m": {days: "1", resample: 1800},
	"1h":  {days: "2", resample: 3600},
	"4h":  {days: "14", resample: 4 * 3600},
	"1d":  {days: "90", resample: 86400},
	"1w":  {days: "365", resample: 7 * 86400},
}

// -----------------------------------------------------------------------------

// CoinGeckoSource serves crypto assets. Symbols passed in are CoinGecko coin ids.
type CoinGeckoSource struct {
	Config    *models.MConfig
	Network   interfaces.INetworkManager
	Logger    *logger.Logger
	BaseURL   string
	Resampler *analysis.TimeSeriesResampler
	now       func() time.Time
}

// -----------------------------------------------------------------------------

func NewCoinGeckoSource(cfg *models.MConfig, netMgr interfaces.INetworkManager, l *logger.Logger) *CoinGeckoSource {
	return &CoinGeckoSource{
		Config:    cfg,
		Network:   netMgr,
		Logger:    l,
		BaseURL:   strings.TrimRight(cfg.DataSource.CoinGeckoBaseURL, "/"),
		Resampler: &analysis.TimeSeriesResampler{},
		now:       time.Now,
	}
}

// -----------------------------------------------------------------------------

func (s *CoinGeckoSource) Name() string {
	return "coingecko"
}

// -----------------------------------------------------------------------------

type simplePrice struct {
	USD          *float64 `json:"usd"`
	USDChange24h float64  `json:"usd_24h_change"`
	USDVolume24h float64  `json:"usd_24h_vol"`
	USDMarketCap float64  `json:"usd_market_cap"`
}

type marketChart struct {
	Prices       [][2]*float64 `json:"prices"`
	TotalVolumes [][2]*float64 `json:"total_volumes"`
}

// -----------------------------------------------------------------------------

// FetchQuote reads the spot price and a one day chart. A failing chart request leaves the chart empty.
func (s *CoinGeckoSource) FetchQuote(ctx context.Context, symbol string, kind models.AssetKind) (*models.MSnapshot, error) {
	coinID := strings.ToLower(strings.TrimSpace(symbol))

	body, err := s.Network.Get(ctx, s.BaseURL+"/simple/price", map[string]string{
		"ids":                 coinID,
		"vs_currencies":       "usd",
		"include_24hr_change": "true",
		"include_24hr_vol":    "true",
		"include_market_cap":  "true",
	})
	if err != nil {
		return nil, fmt.Errorf("coingecko %s: %w", coinID, err)
	}

	var prices map[string]simplePrice
	if err := json.Unmarshal(body, &prices); err != nil {
		return nil, helpers.NewFetchError(fmt.Sprintf("coingecko %s: decode price", coinID), err)
	}
	quote, ok := prices[coinID]
	if !ok || quote.USD == nil {
		return nil, helpers.NewFetchError(fmt.Sprintf("coingecko %s: no usd price", coinID), nil)
	}

	snap := &models.MSnapshot{
		Symbol:        strings.ToUpper(coinID),
		Kind:          models.KindCrypto,
		Timestamp:     s.now().UTC(),
		Price:         *quote.USD,
		ChangePercent: core.RoundTo(quote.USDChange24h, 4),
		Volume:        quote.USDVolume24h,
		MarketCap:     quote.USDMarketCap,
	}
	if pct := quote.USDChange24h; pct > -100 {
		prev := *quote.USD / (1 + pct/100)
		snap.Change = core.RoundTo(*quote.USD-prev, 6)
	}

	points, err := s.marketChart(ctx, coinID, "1")
	if err != nil {
		s.Logger.Warning("Chart unavailable for %s: %v", coinID, err)
	} else {
		snap.ChartData = analysis.Downsample(points, s.Config.DataSource.ChartPoints)
	}
	return snap, nil
}

// -----------------------------------------------------------------------------

// FetchSeries reads the chart for timeframe. Price fields are taken from the last point.
func (s *CoinGeckoSource) FetchSeries(ctx context.Context, symbol string, kind models.AssetKind, timeframe string) (*models.MSnapshot, error) {
	q, ok := timeframeQueries[timeframe]
	if !ok {
		return nil, helpers.NewFetchError(fmt.Sprintf("unsupported timeframe %q", timeframe), nil)
	}
	coinID := strings.ToLower(strings.TrimSpace(symbol))

	points, err := s.marketChart(ctx, coinID, q.days)
	if err != nil {
		return nil, err
	}
	if q.resample > 0 {
		points = s.Resampler.Resample(points, q.resample)
	}

	first, last := points[0], points[len(points)-1]
	return &models.MSnapshot{
		Symbol:        strings.ToUpper(coinID),
		Kind:          models.KindCrypto,
		Timestamp:     s.now().UTC(),
		Price:         last.Close,
		Change:        core.RoundTo(last.Close-first.Open, 6),
		ChangePercent: core.RoundTo(core.CalculateChangePercent(last.Close, first.Open), 4),
		Volume:        last.Volume,
		Timeframe:     timeframe,
		ChartData:     analysis.Downsample(points, s.Config.DataSource.ChartPoints),
	}, nil
}

// -----------------------------------------------------------------------------

func (s *CoinGeckoSource) marketChart(ctx context.Context, coinID, days string) ([]models.MChartPoint, error) {
	endpoint := fmt.Sprintf("%s/coins/%s/market_chart", s.BaseURL, url.PathEscape(coinID))
	body, err := s.Network.Get(ctx, endpoint, map[string]string{"vs_currency": "usd", "days": days})
	if err != nil {
		return nil, fmt.Errorf("coingecko %s chart: %w", coinID, err)
	}

	var chart marketChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, helpers.NewFetchError(fmt.Sprintf("coingecko %s: decode chart", coinID), err)
	}

	volumes := make(map[int64]float64, len(chart.TotalVolumes))
	for _, v := range chart.TotalVolumes {
		if v[0] != nil && v[1] != nil {
			volumes[int64(*v[0])/1000] = *v[1]
		}
	}

	points := make([]models.MChartPoint, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		if p[0] == nil || p[1] == nil {
			continue
		}
		ts := int64(*p[0]) / 1000
		price := *p[1]
		points = append(points, models.MChartPoint{
			Time: ts, Open: price, High: price, Low: price, Close: price, Volume: volumes[ts],
		})
	}
	if len(points) == 0 {
		return nil, helpers.NewFetchError(fmt.Sprintf("coingecko %s: empty chart", coinID), nil)
	}
	return points, nil
}
