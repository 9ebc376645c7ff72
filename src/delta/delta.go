package delta

import (
	"sync"

	"market-stream/src/models"
)

// Computer keeps the last volatile fields seen per symbol and reports what changed.
type Computer struct {
	mu    sync.Mutex
	state map[string]map[string]float64
}

// -----------------------------------------------------------------------------

func NewComputer() *Computer {
	return &Computer{state: make(map[string]map[string]float64)}
}

// -----------------------------------------------------------------------------

// Delta returns the volatile fields of snapshot that differ from the stored state
// for symbol (a field present on one side only counts as changed), then stores
// the snapshot's fields as the new state. An unchanged snapshot yields an empty map.
func (c *Computer) Delta(symbol string, snapshot *models.MSnapshot) models.MDelta {
	symbol = models.NormalizeSymbol(symbol)
	current := snapshot.VolatileFields()

	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.state[symbol]
	out := make(models.MDelta)

	for field, value := range current {
		if old, ok := previous[field]; !ok || old != value {
			out[field] = value
		}
	}
	// Field dropped since last time: report it so the client can clear it
	for field := range previous {
		if _, ok := current[field]; !ok {
			out[field] = 0
		}
	}

	c.state[symbol] = current
	return out
}

// -----------------------------------------------------------------------------

// Reset forgets symbol so the next Delta returns the full field set.
func (c *Computer) Reset(symbol string) {
	c.mu.Lock()
	delete(c.state, models.NormalizeSymbol(symbol))
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (c *Computer) ResetAll() {
	c.mu.Lock()
	c.state = make(map[string]map[string]float64)
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Tracked returns the number of symbols with stored state.
func (c *Computer) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state)
}
