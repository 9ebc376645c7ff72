package core

import "math"

// -----------------------------------------------------------------------------

// CalculateMeanStd computes mean and population standard deviation.
func CalculateMeanStd(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, v := range data {
		sum += v
	}
	mean := sum / float64(len(data))

	if len(data) == 1 {
		return mean, 0
	}

	varianceSum := 0.0
	for _, v := range data {
		varianceSum += (v - mean) * (v - mean)
	}
	std := math.Sqrt(varianceSum / float64(len(data)))
	return mean, std
}

// -----------------------------------------------------------------------------

// CalculateSampleStd computes mean and sample standard deviation (N-1 denominator).
func CalculateSampleStd(data []float64) (float64, float64) {
	mean, std := CalculateMeanStd(data)
	n := float64(len(data))
	if n < 2 {
		return mean, 0
	}
	return mean, std * math.Sqrt(n/(n-1))
}

// -----------------------------------------------------------------------------

// EMASeries returns the exponential moving average of data with the given span,
// seeded with the first value.
func EMASeries(data []float64, span int) []float64 {
	if len(data) == 0 || span <= 0 {
		return nil
	}

	alpha := 2.0 / (float64(span) + 1)
	out := make([]float64, len(data))
	out[0] = data[0]
	for i := 1; i < len(data); i++ {
		out[i] = alpha*data[i] + (1-alpha)*out[i-1]
	}
	return out
}
