package mock

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"market-stream/src/analysis"
	"market-stream/src/analysis/core"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/models"
)

var basePrices = map[string]float64{
	"AAPL": 175.50, "GOOGL": 2750.00, "MSFT": 330.00, "TSLA": 250.00,
	"AMZN": 3200.00, "META": 320.00, "NVDA": 450.00, "NFLX": 400.00,
	"BITCOIN": 45000.00, "ETHEREUM": 3000.00, "SOLANA": 100.00,
	"GC=F": 1950.00, "CL=F": 85.00, "EURUSD": 1.08,
}

const (
	defaultBasePrice = 100.0
	baseStepSeconds  = 60
	generatedPoints  = 500
)

var _ interfaces.IQuoteFetcher = (*MockSource)(nil)

// -----------------------------------------------------------------------------

// MockSource generates a random walk per symbol around fixed base prices.
// Every symbol has its own seeded generator, so a fresh source replays the same walk.
type MockSource struct {
	ChartPoints int
	Resampler   *analysis.TimeSeriesResampler
	now         func() time.Time
	mu          sync.Mutex
	walks       map[string]*walk
}

type walk struct {
	rng   *rand.Rand
	price float64
	open  float64
}

// -----------------------------------------------------------------------------

func NewMockSource(cfg *models.MConfig) *MockSource {
	return &MockSource{
		ChartPoints: cfg.DataSource.ChartPoints,
		Resampler:   &analysis.TimeSeriesResampler{},
		now:         time.Now,
		walks:       make(map[string]*walk),
	}
}

// -----------------------------------------------------------------------------

func (s *MockSource) Name() string {
	return "mock"
}

// -----------------------------------------------------------------------------

// BasePrice returns the starting price of symbol.
func BasePrice(symbol string) float64 {
	if p, ok := basePrices[models.NormalizeSymbol(symbol)]; ok {
		return p
	}
	return defaultBasePrice
}

// -----------------------------------------------------------------------------

// FetchQuote advances the walk of symbol by one step, at most 0.5% either way.
func (s *MockSource) FetchQuote(ctx context.Context, symbol string, kind models.AssetKind) (*models.MSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, helpers.NewTimeoutError("mock quote cancelled", err)
	}
	symbol = models.NormalizeSymbol(symbol)

	s.mu.Lock()
	w := s.walkFor(symbol)
	w.price *= 1 + (w.rng.Float64()-0.5)/100
	price, open := w.price, w.open
	volume := float64(1_000_000 + w.rng.IntN(99_000_000))
	now := s.now().UTC()
	s.mu.Unlock()

	points := s.series(symbol, price, now, baseStepSeconds*5)

	snap := &models.MSnapshot{
		Symbol:        symbol,
		Kind:          kind,
		Timestamp:     now,
		Price:         core.RoundTo(price, decimals(price)),
		Change:        core.RoundTo(price-open, decimals(price)),
		ChangePercent: core.RoundTo(core.CalculateChangePercent(price, open), 4),
		Volume:        volume,
		ChartData:     analysis.Downsample(points, s.ChartPoints),
	}
	if kind != models.KindCrypto {
		bars := core.ComputeOHLCV(extremesOf(points), nil)
		snap.Open = core.RoundTo(open, decimals(open))
		snap.High = core.RoundTo(max(bars.High, price), decimals(price))
		snap.Low = core.RoundTo(min(bars.Low, price), decimals(price))
	}
	return snap, nil
}

// -----------------------------------------------------------------------------

// FetchSeries builds a chart for timeframe ending at the current walk price.
func (s *MockSource) FetchSeries(ctx context.Context, symbol string, kind models.AssetKind, timeframe string) (*models.MSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, helpers.NewTimeoutError("mock series cancelled", err)
	}
	step, ok := analysis.TimeframeSeconds(timeframe)
	if !ok {
		return nil, helpers.NewFetchError("unsupported timeframe "+timeframe, nil)
	}
	symbol = models.NormalizeSymbol(symbol)

	s.mu.Lock()
	price := s.walkFor(symbol).price
	now := s.now().UTC()
	s.mu.Unlock()

	points := s.series(symbol, price, now, baseStepSeconds)
	points = s.Resampler.Resample(points, step)
	if len(points) == 0 {
		return nil, helpers.NewFetchError("empty mock series", nil)
	}

	first, last := points[0], points[len(points)-1]
	return &models.MSnapshot{
		Symbol:        symbol,
		Kind:          kind,
		Timestamp:     now,
		Price:         core.RoundTo(last.Close, decimals(last.Close)),
		Change:        core.RoundTo(last.Close-first.Open, decimals(last.Close)),
		ChangePercent: core.RoundTo(core.CalculateChangePercent(last.Close, first.Open), 4),
		Volume:        last.Volume,
		Timeframe:     timeframe,
		ChartData:     analysis.Downsample(points, s.ChartPoints),
	}, nil
}

// -----------------------------------------------------------------------------

// walkFor must be called with s.mu held.
func (s *MockSource) walkFor(symbol string) *walk {
	w, ok := s.walks[symbol]
	if !ok {
		h := fnv.New64a()
		_, _ = h.Write([]byte(symbol))
		base := BasePrice(symbol)
		w = &walk{rng: rand.New(rand.NewPCG(h.Sum64(), 0x5eed)), price: base, open: base}
		s.walks[symbol] = w
	}
	return w
}

// -----------------------------------------------------------------------------

// series walks backwards from price in bars of stepSeconds, aligned to the step.
// The generator is seeded from the symbol and the end time so repeated calls agree.
func (s *MockSource) series(symbol string, price float64, end time.Time, stepSeconds int64) []models.MChartPoint {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	endTs := end.Unix() - end.Unix()%stepSeconds
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(endTs)))

	points := make([]models.MChartPoint, generatedPoints)
	closePrice := price
	for i := generatedPoints - 1; i >= 0; i-- {
		openPrice := closePrice * (1 + (rng.Float64()-0.5)/250)
		high := max(openPrice, closePrice) * (1 + rng.Float64()/400)
		low := min(openPrice, closePrice) * (1 - rng.Float64()/400)
		points[i] = models.MChartPoint{
			Time:   endTs - int64(generatedPoints-1-i)*stepSeconds,
			Open:   core.RoundTo(openPrice, decimals(openPrice)),
			High:   core.RoundTo(high, decimals(high)),
			Low:    core.RoundTo(low, decimals(low)),
			Close:  core.RoundTo(closePrice, decimals(closePrice)),
			Volume: float64(10_000 + rng.IntN(990_000)),
		}
		closePrice = openPrice
	}
	return points
}

// -----------------------------------------------------------------------------

// SetClock overrides the time source.
func (s *MockSource) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------

func extremesOf(points []models.MChartPoint) []float64 {
	out := make([]float64, 0, len(points)*2)
	for _, p := range points {
		out = append(out, p.High, p.Low)
	}
	return out
}

func decimals(price float64) int {
	if price < 10 {
		return 6
	}
	return 2
}
