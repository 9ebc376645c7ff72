package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"market-stream/src/analysis"
	"market-stream/src/analysis/core"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
)

var _ interfaces.IQuoteFetcher = (*YahooFinanceSource)(nil)

// chartQuery is the upstream request for one display timeframe.
type chartQuery struct {
	interval string
	rng      string
	resample int64 // seconds, 0 keeps upstream bars
}

var timeframeQueries = map[string]chartQuery{
	"1m":  {interval: "1m", rng: "1d"},
	"5m":  {interval: "5m", rng: "5d"},
	"15m": {interval: "15m", rng: "5d"},
	"30m": {interval: "30m", rng: "1mo"},
	"1h":  {interval: "60m", rng: "1mo"},
	"4h":  {interval: "60m", rng: "3mo", resample: 4 * 3600},
	"1d":  {interval: "1d", rng: "1y"},
	"1w":  {interval: "1wk", rng: "5y"},
}

// quoteQuery backs the live quote: today's session in 5 minute bars.
var quoteQuery = chartQuery{interval: "5m", rng: "1d"}

// -----------------------------------------------------------------------------

// YahooFinanceSource serves stocks, commodities and forex from the chart API.
type YahooFinanceSource struct {
	Config    *models.MConfig
	Network   interfaces.INetworkManager
	Logger    *logger.Logger
	BaseURL   string
	Resampler *analysis.TimeSeriesResampler
	now       func() time.Time
}

// -----------------------------------------------------------------------------

func NewYahooFinanceSource(cfg *models.MConfig, netMgr interfaces.INetworkManager, l *logger.Logger) *YahooFinanceSource {
	return &YahooFinanceSource{
		Config:    cfg,
		Network:   netMgr,
		Logger:    l,
		BaseURL:   strings.TrimRight(cfg.DataSource.YahooBaseURL, "/"),
		Resampler: &analysis.TimeSeriesResampler{},
		now:       time.Now,
	}
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) Name() string {
	return "yahoo"
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) FetchQuote(ctx context.Context, symbol string, kind models.AssetKind) (*models.MSnapshot, error) {
	return s.fetch(ctx, symbol, kind, "", quoteQuery)
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) FetchSeries(ctx context.Context, symbol string, kind models.AssetKind, timeframe string) (*models.MSnapshot, error) {
	q, ok := timeframeQueries[timeframe]
	if !ok {
		return nil, helpers.NewFetchError(fmt.Sprintf("unsupported timeframe %q", timeframe), nil)
	}
	return s.fetch(ctx, symbol, kind, timeframe, q)
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) fetch(ctx context.Context, symbol string, kind models.AssetKind, timeframe string, q chartQuery) (*models.MSnapshot, error) {
	upstream := UpstreamSymbol(symbol, kind)
	params := map[string]string{
		"interval":       q.interval,
		"range":          q.rng,
		"includePrePost": "false",
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s", s.BaseURL, url.PathEscape(upstream))
	respBytes, err := s.Network.Get(ctx, endpoint, params)
	if err != nil {
		return nil, fmt.Errorf("yahoo %s: %w", symbol, err)
	}

	meta, points, err := s.parseChartResponse(upstream, respBytes)
	if err != nil {
		return nil, helpers.NewFetchError(fmt.Sprintf("yahoo %s", symbol), err)
	}
	if q.resample > 0 {
		points = s.Resampler.Resample(points, q.resample)
	}

	snap := s.buildSnapshot(symbol, kind, meta, points)
	snap.Timeframe = timeframe
	return snap, nil
}

// -----------------------------------------------------------------------------

// UpstreamSymbol maps a catalog symbol to the chart API ticker. Forex pairs use the "=X" suffix.
func UpstreamSymbol(symbol string, kind models.AssetKind) string {
	symbol = models.NormalizeSymbol(symbol)
	if kind == models.KindForex && !strings.HasSuffix(symbol, "=X") {
		return symbol + "=X"
	}
	return symbol
}

// -----------------------------------------------------------------------------

type chartMeta struct {
	Currency           string  `json:"currency"`
	Symbol             string  `json:"symbol"`
	ExchangeName       string  `json:"exchangeName"`
	InstrumentType     string  `json:"instrumentType"`
	RegularMarketTime  int64   `json:"regularMarketTime"`
	RegularMarketPrice float64 `json:"regularMarketPrice"`
	ChartPreviousClose float64 `json:"chartPreviousClose"`
	DataGranularity    string  `json:"dataGranularity"`
	Range              string  `json:"range"`
}

type YahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta       chartMeta `json:"meta"`
			Timestamp  []int64   `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					High   []*float64 `json:"high"` // null for missing bars
					Low    []*float64 `json:"low"`
					Open   []*float64 `json:"open"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) parseChartResponse(symbol string, data []byte) (chartMeta, []models.MChartPoint, error) {
	var resp YahooChartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return chartMeta{}, nil, fmt.Errorf("json unmarshal failed: %w", err)
	}

	if resp.Chart.Error != nil {
		return chartMeta{}, nil, fmt.Errorf("yahoo api error: %s - %s", resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return chartMeta{}, nil, fmt.Errorf("no result in response for %s", symbol)
	}

	result := resp.Chart.Result[0]
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return chartMeta{}, nil, fmt.Errorf("no quote data in response for %s", symbol)
	}

	quote := result.Indicators.Quote[0]
	n := len(result.Timestamp)
	if len(quote.Close) != n || len(quote.Open) != n || len(quote.High) != n ||
		len(quote.Low) != n || len(quote.Volume) != n {
		return chartMeta{}, nil, fmt.Errorf("data alignment error for %s", symbol)
	}

	points := make([]models.MChartPoint, 0, n)
	skipped := 0
	for i, ts := range result.Timestamp {
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			skipped++
			continue
		}
		volume := 0.0
		if quote.Volume[i] != nil {
			volume = *quote.Volume[i]
		}
		if *quote.Close[i] <= 0 || volume < 0 {
			skipped++
			continue
		}

		points = append(points, models.MChartPoint{
			Time:   ts,
			Open:   *quote.Open[i],
			High:   *quote.High[i],
			Low:    *quote.Low[i],
			Close:  *quote.Close[i],
			Volume: volume,
		})
	}

	if len(points) == 0 {
		return chartMeta{}, nil, fmt.Errorf("no valid data points for %s", symbol)
	}
	if skipped > 0 {
		s.Logger.Debug("Skipped %d incomplete bars for %s", skipped, symbol)
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Time < points[j].Time })
	return result.Meta, points, nil
}

// -----------------------------------------------------------------------------

// buildSnapshot derives the quote from the chart: change is measured from the first bar's open.
func (s *YahooFinanceSource) buildSnapshot(symbol string, kind models.AssetKind, meta chartMeta, points []models.MChartPoint) *models.MSnapshot {
	last := points[len(points)-1]
	price := last.Close
	if meta.RegularMarketPrice > 0 {
		price = meta.RegularMarketPrice
	}

	extremes := make([]float64, 0, len(points)*2)
	for _, p := range points {
		extremes = append(extremes, p.High, p.Low)
	}
	session := core.ComputeOHLCV(extremes, nil)
	open := points[0].Open

	return &models.MSnapshot{
		Symbol:        models.NormalizeSymbol(symbol),
		Kind:          kind,
		Timestamp:     s.now().UTC(),
		Price:         core.RoundTo(price, 4),
		Change:        core.RoundTo(price-open, 4),
		ChangePercent: core.RoundTo(core.CalculateChangePercent(price, open), 4),
		Volume:        last.Volume,
		Open:          open,
		High:          session.High,
		Low:           session.Low,
		ChartData:     analysis.Downsample(points, s.Config.DataSource.ChartPoints),
	}
}
