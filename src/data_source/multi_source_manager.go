package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"market-stream/src/data_source/coingecko"
	"market-stream/src/data_source/mock"
	"market-stream/src/data_source/yahoo"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/models"
)

var _ interfaces.IQuoteFetcher = (*MultiSourceManager)(nil)

// MultiSourceManager routes each instrument to the source serving its asset kind
// and falls back to generated data when that source fails.
type MultiSourceManager struct {
	Sources      map[models.AssetKind]interfaces.IQuoteFetcher
	Fallback     interfaces.IQuoteFetcher
	MockFallback bool
	Logger       *logger.Logger
	mu           sync.RWMutex
	catalog      map[string]models.MInstrument
}

// -----------------------------------------------------------------------------

func NewMultiSourceManager(instruments []models.MInstrument, log *logger.Logger) *MultiSourceManager {
	m := &MultiSourceManager{
		Sources: make(map[models.AssetKind]interfaces.IQuoteFetcher),
		Logger:  log,
		catalog: make(map[string]models.MInstrument, len(instruments)),
	}
	for _, inst := range instruments {
		m.AddInstrument(inst)
	}
	return m
}

// -----------------------------------------------------------------------------

// NewFromConfig wires the live or mock sources selected by the configuration.
func NewFromConfig(cfg *models.MConfig, netMgr interfaces.INetworkManager, log *logger.Logger) *MultiSourceManager {
	m := NewMultiSourceManager(cfg.DataSource.Instruments, log)
	generated := mock.NewMockSource(cfg)

	if cfg.DataSource.Provider == "mock" {
		for _, kind := range []models.AssetKind{models.KindStock, models.KindCrypto, models.KindForex, models.KindCommodity} {
			m.SetSource(kind, generated)
		}
		log.Info("Serving generated market data for every asset kind")
		return m
	}

	yf := yahoo.NewYahooFinanceSource(cfg, netMgr, log.With("YahooFinanceSource"))
	m.SetSource(models.KindStock, yf)
	m.SetSource(models.KindForex, yf)
	m.SetSource(models.KindCommodity, yf)
	m.SetSource(models.KindCrypto, coingecko.NewCoinGeckoSource(cfg, netMgr, log.With("CoinGeckoSource")))

	if cfg.DataSource.MockFallback {
		m.Fallback = generated
		m.MockFallback = true
	}
	return m
}

// -----------------------------------------------------------------------------

func (m *MultiSourceManager) Name() string {
	return "MultiSourceManager"
}

// -----------------------------------------------------------------------------

// SetSource assigns the fetcher serving kind.
func (m *MultiSourceManager) SetSource(kind models.AssetKind, source interfaces.IQuoteFetcher) {
	m.mu.Lock()
	m.Sources[kind] = source
	m.mu.Unlock()
}

// -----------------------------------------------------------------------------

// AddInstrument adds or replaces a catalog entry.
func (m *MultiSourceManager) AddInstrument(inst models.MInstrument) {
	inst.Symbol = models.NormalizeSymbol(inst.Symbol)
	if inst.Symbol == "" {
		return
	}
	m.mu.Lock()
	m.catalog[inst.Symbol] = inst
	m.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Resolve returns the catalog entry of symbol. Unknown symbols are treated as stocks.
func (m *MultiSourceManager) Resolve(symbol string) (models.MInstrument, bool) {
	key := models.NormalizeSymbol(symbol)

	m.mu.RLock()
	inst, ok := m.catalog[key]
	m.mu.RUnlock()

	if !ok {
		return models.MInstrument{Symbol: key, Name: key, Kind: models.KindStock}, false
	}
	return inst, true
}

// -----------------------------------------------------------------------------

// Instruments lists the catalog ordered by symbol.
func (m *MultiSourceManager) Instruments() []models.MInstrument {
	m.mu.RLock()
	out := make([]models.MInstrument, 0, len(m.catalog))
	for _, inst := range m.catalog {
		out = append(out, inst)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// -----------------------------------------------------------------------------

// FetchQuote fetches the quote of symbol. An empty kind means the catalog kind.
func (m *MultiSourceManager) FetchQuote(ctx context.Context, symbol string, kind models.AssetKind) (*models.MSnapshot, error) {
	inst := m.instrumentFor(symbol, kind)
	return m.route(ctx, inst, "quote", func(src interfaces.IQuoteFetcher, id string) (*models.MSnapshot, error) {
		return src.FetchQuote(ctx, id, inst.Kind)
	})
}

// -----------------------------------------------------------------------------

// FetchSeries fetches the chart of symbol for timeframe. An empty kind means the catalog kind.
func (m *MultiSourceManager) FetchSeries(ctx context.Context, symbol string, kind models.AssetKind, timeframe string) (*models.MSnapshot, error) {
	inst := m.instrumentFor(symbol, kind)
	return m.route(ctx, inst, "series "+timeframe, func(src interfaces.IQuoteFetcher, id string) (*models.MSnapshot, error) {
		return src.FetchSeries(ctx, id, inst.Kind, timeframe)
	})
}

// -----------------------------------------------------------------------------

func (m *MultiSourceManager) instrumentFor(symbol string, kind models.AssetKind) models.MInstrument {
	inst, _ := m.Resolve(symbol)
	if kind != "" {
		inst.Kind = kind
	}
	return inst
}

// -----------------------------------------------------------------------------

func (m *MultiSourceManager) route(
	ctx context.Context,
	inst models.MInstrument,
	what string,
	call func(src interfaces.IQuoteFetcher, id string) (*models.MSnapshot, error),
) (*models.MSnapshot, error) {
	m.mu.RLock()
	src, ok := m.Sources[inst.Kind]
	fallback := m.Fallback
	m.mu.RUnlock()

	if !ok {
		if fallback == nil {
			return nil, fmt.Errorf("no source for %s assets", inst.Kind)
		}
		src = fallback
	}

	snap, err := call(src, providerID(inst, src))
	if err != nil && fallback != nil && src != fallback && ctx.Err() == nil {
		m.Logger.Warning("%s %s failed on %s, using generated data: %v", inst.Symbol, what, src.Name(), err)
		snap, err = call(fallback, inst.Symbol)
	}
	if err != nil {
		return nil, err
	}

	snap.Symbol = inst.Symbol
	snap.Name = inst.Name
	snap.Kind = inst.Kind
	return snap, nil
}

// -----------------------------------------------------------------------------

// providerID is the identifier the upstream source expects for inst.
func providerID(inst models.MInstrument, src interfaces.IQuoteFetcher) string {
	if src.Name() == "mock" {
		return inst.Symbol
	}
	if inst.ProviderID != "" {
		return inst.ProviderID
	}
	if inst.Kind == models.KindCrypto {
		return strings.ToLower(inst.Symbol)
	}
	return inst.Symbol
}
