package analysis

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"market-stream/src/analysis/core"
	"market-stream/src/models"
)

// TimeSeriesResampler handles time-based resampling calculations.
type TimeSeriesResampler struct{}

// Window is one group of point indices sharing a time bucket.
type Window struct {
	Indices   []int
	StartTime int64
	EndTime   int64
}

// -----------------------------------------------------------------------------

// ResampleIndices groups sorted timestamps into aligned windows of windowSeconds.
// Empty windows are skipped.
func (r *TimeSeriesResampler) ResampleIndices(timestamps []int64, windowSeconds int64) []Window {
	if len(timestamps) == 0 || windowSeconds <= 0 {
		return nil
	}

	var results []Window
	for start := 0; start < len(timestamps); {
		windowStart, windowEnd := CalculateWindowBoundaries(timestamps[start], windowSeconds)

		end := start + sort.Search(len(timestamps)-start, func(j int) bool {
			return timestamps[start+j] >= windowEnd
		})

		indices := make([]int, end-start)
		for i := range indices {
			indices[i] = start + i
		}
		results = append(results, Window{Indices: indices, StartTime: windowStart, EndTime: windowEnd})
		start = end
	}

	return results
}

// -----------------------------------------------------------------------------

// Resample aggregates chart points into bars of windowSeconds.
// Points must be ordered by time.
func (r *TimeSeriesResampler) Resample(points []models.MChartPoint, windowSeconds int64) []models.MChartPoint {
	if windowSeconds <= 0 || len(points) == 0 {
		return points
	}

	timestamps := make([]int64, len(points))
	for i, p := range points {
		timestamps[i] = p.Time
	}

	windows := r.ResampleIndices(timestamps, windowSeconds)
	out := make([]models.MChartPoint, 0, len(windows))
	for _, w := range windows {
		first := points[w.Indices[0]]
		last := points[w.Indices[len(w.Indices)-1]]

		highs := make([]float64, 0, len(w.Indices)*2)
		volumes := make([]float64, 0, len(w.Indices))
		for _, idx := range w.Indices {
			highs = append(highs, points[idx].High, points[idx].Low)
			volumes = append(volumes, points[idx].Volume)
		}
		agg := core.ComputeOHLCV(highs, volumes)

		out = append(out, models.MChartPoint{
			Time:   w.StartTime,
			Open:   first.Open,
			High:   agg.High,
			Low:    agg.Low,
			Close:  last.Close,
			Volume: agg.Volume,
		})
	}
	return out
}

// -----------------------------------------------------------------------------

// Downsample keeps at most limit points by taking every n-th point.
func Downsample(points []models.MChartPoint, limit int) []models.MChartPoint {
	if limit <= 0 || len(points) <= limit {
		return points
	}

	step := len(points) / limit
	out := make([]models.MChartPoint, 0, limit)
	for i := 0; i < len(points) && len(out) < limit; i += step {
		out = append(out, points[i])
	}
	return out
}

// -----------------------------------------------------------------------------

// CalculateWindowBoundaries returns the aligned window containing ts.
func CalculateWindowBoundaries(ts int64, window int64) (int64, int64) {
	start := ts - (ts % window)
	return start, start + window
}

// -----------------------------------------------------------------------------

// TimeframeSeconds converts "1m", "4h", "1d" or "1w" to seconds.
func TimeframeSeconds(tf string) (int64, bool) {
	tf = strings.TrimSpace(strings.ToLower(tf))
	if n := len(tf); n > 1 && (tf[n-1] == 'd' || tf[n-1] == 'w') {
		count, err := strconv.Atoi(tf[:n-1])
		if err != nil || count <= 0 {
			return 0, false
		}
		days := int64(count)
		if tf[n-1] == 'w' {
			days *= 7
		}
		return days * 86400, true
	}

	d, err := time.ParseDuration(tf)
	if err != nil || d < time.Second {
		return 0, false
	}
	return int64(d / time.Second), true
}
