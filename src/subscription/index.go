package subscription

import (
	"sort"
	"sync"

	"market-stream/src/models"
)

// -----------------------------------------------------------------------------
// Index
// -----------------------------------------------------------------------------

// Index is the bidirectional client <-> symbol mapping.
// A client is in a symbol's set iff the symbol is in the client's set,
// and a symbol without subscribers has no entry.
type Index struct {
	mu       sync.RWMutex
	byClient map[string]map[string]struct{}
	bySymbol map[string]map[string]struct{}
}

// -----------------------------------------------------------------------------

func NewIndex() *Index {
	return &Index{
		byClient: make(map[string]map[string]struct{}),
		bySymbol: make(map[string]map[string]struct{}),
	}
}

// -----------------------------------------------------------------------------

// Subscribe adds edges for every non-empty normalized symbol. Existing edges are kept.
func (idx *Index) Subscribe(clientID string, symbols []string) {
	if clientID == "" {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, raw := range symbols {
		symbol := models.NormalizeSymbol(raw)
		if symbol == "" {
			continue
		}

		clientSet, ok := idx.byClient[clientID]
		if !ok {
			clientSet = make(map[string]struct{})
			idx.byClient[clientID] = clientSet
		}
		clientSet[symbol] = struct{}{}

		symbolSet, ok := idx.bySymbol[symbol]
		if !ok {
			symbolSet = make(map[string]struct{})
			idx.bySymbol[symbol] = symbolSet
		}
		symbolSet[clientID] = struct{}{}
	}
}

// -----------------------------------------------------------------------------

// Unsubscribe removes the named edges; unknown clients or symbols are ignored.
func (idx *Index) Unsubscribe(clientID string, symbols []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, raw := range symbols {
		idx.removeEdge(clientID, models.NormalizeSymbol(raw))
	}
}

// -----------------------------------------------------------------------------

// UnsubscribeAll drops every edge of the client under a single lock.
func (idx *Index) UnsubscribeAll(clientID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for symbol := range idx.byClient[clientID] {
		idx.removeEdge(clientID, symbol)
	}
	delete(idx.byClient, clientID)
}

// -----------------------------------------------------------------------------

// removeEdge must be called with the write lock held.
func (idx *Index) removeEdge(clientID, symbol string) {
	if clientSet, ok := idx.byClient[clientID]; ok {
		delete(clientSet, symbol)
		if len(clientSet) == 0 {
			delete(idx.byClient, clientID)
		}
	}

	if symbolSet, ok := idx.bySymbol[symbol]; ok {
		delete(symbolSet, clientID)
		if len(symbolSet) == 0 {
			delete(idx.bySymbol, symbol)
		}
	}
}

// -----------------------------------------------------------------------------
// Reads (never nil, sorted)
// -----------------------------------------------------------------------------

func (idx *Index) SubscribersOf(symbol string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return sortedKeys(idx.bySymbol[models.NormalizeSymbol(symbol)])
}

// -----------------------------------------------------------------------------

func (idx *Index) SubscriptionsOf(clientID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return sortedKeys(idx.byClient[clientID])
}

// -----------------------------------------------------------------------------

func (idx *Index) AllSubscribedSymbols() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return sortedKeys(idx.bySymbol)
}

// -----------------------------------------------------------------------------

func (idx *Index) Stats() models.MSubscriptionStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	edges := 0
	for _, set := range idx.byClient {
		edges += len(set)
	}
	return models.MSubscriptionStats{
		Clients: len(idx.byClient),
		Symbols: len(idx.bySymbol),
		Edges:   edges,
	}
}

// -----------------------------------------------------------------------------

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
