package analysis

import (
	"market-stream/src/analysis/core"
	"market-stream/src/interfaces"
	"market-stream/src/models"
)

const (
	rsiPeriod       = 14
	smaPeriod       = 20
	emaPeriod       = 12
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	bollingerPeriod = 20
	bollingerWidth  = 2.0
)

var _ interfaces.IIndicatorComputer = (*IndicatorComputer)(nil)

// IndicatorComputer derives technical indicators from closing prices.
type IndicatorComputer struct{}

// -----------------------------------------------------------------------------

// Compute returns every indicator the series is long enough for.
func (IndicatorComputer) Compute(series []models.MChartPoint) map[string]interface{} {
	out := make(map[string]interface{})
	if len(series) == 0 {
		return out
	}

	closes := make([]float64, len(series))
	for i, p := range series {
		closes[i] = p.Close
	}

	out["ema_12"] = core.RoundTo(EMA(closes, emaPeriod), 4)

	if rsi, ok := RSI(closes, rsiPeriod); ok {
		out["rsi"] = core.RoundTo(rsi, 2)
	}
	if sma, ok := SMA(closes, smaPeriod); ok {
		out["sma_20"] = core.RoundTo(sma, 4)
	}
	if len(closes) >= macdSlow {
		macd, signal, hist := MACD(closes, macdFast, macdSlow, macdSignal)
		out["macd"] = map[string]float64{
			"macd":      core.RoundTo(macd, 4),
			"signal":    core.RoundTo(signal, 4),
			"histogram": core.RoundTo(hist, 4),
		}
	}
	if upper, middle, lower, ok := Bollinger(closes, bollingerPeriod, bollingerWidth); ok {
		out["bollinger_bands"] = map[string]float64{
			"upper":  core.RoundTo(upper, 4),
			"middle": core.RoundTo(middle, 4),
			"lower":  core.RoundTo(lower, 4),
		}
	}

	return out
}

// -----------------------------------------------------------------------------

// RSI is the simple-average relative strength index over the last period changes.
// A flat window reads 50.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}

	switch {
	case gain == 0 && loss == 0:
		return 50, true
	case loss == 0:
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}

// -----------------------------------------------------------------------------

func SMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	mean, _ := core.CalculateMeanStd(closes[len(closes)-period:])
	return mean, true
}

// -----------------------------------------------------------------------------

func EMA(closes []float64, span int) float64 {
	ema := core.EMASeries(closes, span)
	if len(ema) == 0 {
		return 0
	}
	return ema[len(ema)-1]
}

// -----------------------------------------------------------------------------

// MACD returns the last MACD line, signal line and histogram values.
func MACD(closes []float64, fast, slow, signal int) (float64, float64, float64) {
	fastEMA := core.EMASeries(closes, fast)
	slowEMA := core.EMASeries(closes, slow)
	if len(fastEMA) == 0 {
		return 0, 0, 0
	}

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := core.EMASeries(line, signal)

	last := len(line) - 1
	return line[last], signalLine[last], line[last] - signalLine[last]
}

// -----------------------------------------------------------------------------

// Bollinger returns the bands around the period SMA using the sample deviation.
func Bollinger(closes []float64, period int, width float64) (upper, middle, lower float64, ok bool) {
	if period <= 1 || len(closes) < period {
		return 0, 0, 0, false
	}
	mean, std := core.CalculateSampleStd(closes[len(closes)-period:])
	return mean + width*std, mean, mean - width*std, true
}
