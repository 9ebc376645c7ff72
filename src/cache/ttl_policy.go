package cache

import (
	"time"

	"market-stream/src/models"
)

// IMarketClock reports whether the market of a symbol is trading right now.
type IMarketClock interface {
	IsOpen(symbol string) bool
}

// -----------------------------------------------------------------------------

// TTLPolicy gives quotes a short lifetime while their market trades and a long one otherwise.
type TTLPolicy struct {
	clock       IMarketClock
	marketHours time.Duration
	offHours    time.Duration
}

// -----------------------------------------------------------------------------

// NewTTLPolicy builds a policy. A nil clock always yields the off-hours TTL.
func NewTTLPolicy(cfg models.MCacheConfig, clock IMarketClock) *TTLPolicy {
	return &TTLPolicy{
		clock:       clock,
		marketHours: cfg.MarketHoursTTL(),
		offHours:    cfg.DefaultTTL(),
	}
}

// -----------------------------------------------------------------------------

// TTLFor returns the lifetime of a cache key.
func (p *TTLPolicy) TTLFor(key string) time.Duration {
	_, symbol, _ := ParseKey(key)
	if symbol != "" && p.clock != nil && p.clock.IsOpen(symbol) {
		return p.marketHours
	}
	return p.offHours
}
