package utils

import (
	"sync"
	"time"

	"market-stream/src/logger"
	"market-stream/src/models"
)

// MarketScheduler tracks the calendars of a set of instruments.
type MarketScheduler struct {
	Calendars map[string]*TradingCalendar // by normalized symbol
	Logger    *logger.Logger
	now       func() time.Time
	mu        sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(instruments []models.MInstrument, l *logger.Logger) *MarketScheduler {
	ms := &MarketScheduler{
		Calendars: make(map[string]*TradingCalendar),
		Logger:    l,
		now:       time.Now,
	}
	ms.MapInstrumentsToCalendars(instruments)
	return ms
}

// -----------------------------------------------------------------------------

// MapInstrumentsToCalendars replaces the tracked set. Calendars are shared per MIC.
func (ms *MarketScheduler) MapInstrumentsToCalendars(instruments []models.MInstrument) {
	byMIC := make(map[string]*TradingCalendar)
	calendars := make(map[string]*TradingCalendar, len(instruments))

	for _, inst := range instruments {
		cal := GetCalendar(inst)
		if shared, ok := byMIC[cal.MIC]; ok {
			cal = shared
		} else {
			byMIC[cal.MIC] = cal
		}
		calendars[models.NormalizeSymbol(inst.Symbol)] = cal
	}

	ms.mu.Lock()
	ms.Calendars = calendars
	ms.mu.Unlock()

	if ms.Logger != nil {
		ms.Logger.Info("MarketScheduler: Mapped %d instruments to %d unique calendars.", len(instruments), len(byMIC))
	}
}

// -----------------------------------------------------------------------------

// AnyMarketOpen checks if ANY tracked exchange (24x7 markets excluded) is open now.
func (ms *MarketScheduler) AnyMarketOpen() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	now := ms.now().UTC()

	seen := make(map[*TradingCalendar]bool)
	for _, cal := range ms.Calendars {
		if cal.AlwaysOn || seen[cal] {
			continue
		}
		seen[cal] = true
		if cal.IsOpenOnMinute(now) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------

// IsOpen reports whether the market of symbol is open now.
// Unknown symbols are checked against NYSE.
func (ms *MarketScheduler) IsOpen(symbol string) bool {
	key := models.NormalizeSymbol(symbol)

	ms.mu.RLock()
	cal, ok := ms.Calendars[key]
	now := ms.now().UTC()
	ms.mu.RUnlock()

	if !ok {
		cal = GetCalendar(models.MInstrument{Symbol: key, Kind: models.KindStock})
		ms.mu.Lock()
		ms.Calendars[key] = cal
		ms.mu.Unlock()
	}
	return cal.IsOpenOnMinute(now)
}

// -----------------------------------------------------------------------------

// SetClock overrides the time source.
func (ms *MarketScheduler) SetClock(now func() time.Time) {
	ms.mu.Lock()
	ms.now = now
	ms.mu.Unlock()
}
