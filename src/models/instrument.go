package models

import "strings"

// AssetKind selects the upstream provider for a symbol.
type AssetKind string

const (
	KindStock     AssetKind = "stock"
	KindCrypto    AssetKind = "crypto"
	KindForex     AssetKind = "forex"
	KindCommodity AssetKind = "commodity"
)

// MInstrument describes one tradable asset known to the catalog.
type MInstrument struct {
	Symbol     string    `yaml:"symbol" json:"symbol"`
	Name       string    `yaml:"name" json:"name"`
	Kind       AssetKind `yaml:"kind" json:"type"`
	ProviderID string    `yaml:"provider_id" json:"provider_id,omitempty"` // e.g. coingecko id "bitcoin"
}

// -----------------------------------------------------------------------------

// NormalizeSymbol uppercases and trims a client supplied symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
