package core

import "math"

// OHLCV summarizes a window of prices and volumes.
type OHLCV struct {
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	AvgPrice float64
}

// -----------------------------------------------------------------------------

// ComputeOHLCV calculates OHLCV and AvgPrice from price/volume arrays.
// volumes may be shorter than prices; missing volumes count as zero.
func ComputeOHLCV(prices []float64, volumes []float64) OHLCV {
	if len(prices) == 0 {
		return OHLCV{}
	}

	out := OHLCV{
		Open:  prices[0],
		Close: prices[len(prices)-1],
		High:  -math.MaxFloat64,
		Low:   math.MaxFloat64,
	}
	sumPrice := 0.0

	for i, p := range prices {
		if p > out.High {
			out.High = p
		}
		if p < out.Low {
			out.Low = p
		}
		if i < len(volumes) {
			out.Volume += volumes[i]
		}
		sumPrice += p
	}

	out.AvgPrice = sumPrice / float64(len(prices))
	return out
}

// -----------------------------------------------------------------------------

// CalculateChangePercent returns the change from previous to current in percent.
func CalculateChangePercent(current, previous float64) float64 {
	if previous == 0 {
		return 0.0
	}
	return (current - previous) / previous * 100
}

// -----------------------------------------------------------------------------

// RoundTo rounds v to the given number of decimals.
func RoundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
