package models

import "time"

// Volatile fields compared by the delta computer.
const (
	FieldPrice         = "current_price"
	FieldChangePercent = "change_percent"
	FieldVolume        = "volume"
	FieldOpen          = "open"
	FieldHigh          = "high"
	FieldLow           = "low"
)

// MChartPoint is one OHLCV bar of a chart series.
type MChartPoint struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// MSnapshot is the latest known data for one symbol.
type MSnapshot struct {
	Symbol        string                 `json:"symbol"`
	Name          string                 `json:"name,omitempty"`
	Kind          AssetKind              `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	Price         float64                `json:"current_price"`
	Change        float64                `json:"change"`
	ChangePercent float64                `json:"change_percent"`
	Volume        float64                `json:"volume"`
	Open          float64                `json:"open,omitempty"`
	High          float64                `json:"high,omitempty"`
	Low           float64                `json:"low,omitempty"`
	MarketCap     float64                `json:"market_cap,omitempty"`
	Timeframe     string                 `json:"timeframe,omitempty"`
	ChartData     []MChartPoint          `json:"chart_data,omitempty"`
	Indicators    map[string]interface{} `json:"indicators,omitempty"`
}

// MDelta holds the volatile fields that changed since the last snapshot sent.
type MDelta map[string]float64

// -----------------------------------------------------------------------------

// VolatileFields returns the ticker strip fields present in the snapshot.
// Session OHLC is absent (not zero) for assets that do not report it.
func (s *MSnapshot) VolatileFields() map[string]float64 {
	fields := map[string]float64{
		FieldPrice:         s.Price,
		FieldChangePercent: s.ChangePercent,
		FieldVolume:        s.Volume,
	}
	if s.Open != 0 {
		fields[FieldOpen] = s.Open
	}
	if s.High != 0 {
		fields[FieldHigh] = s.High
	}
	if s.Low != 0 {
		fields[FieldLow] = s.Low
	}
	return fields
}
