package aggregate

import (
	"fmt"
	"math"
	"sort"
)

// Stat summarises one score across lectures.
type Stat struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// newStat returns nil for an empty sample.
func newStat(values []float64) *Stat {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return &Stat{
		Mean:   round2(sum / float64(n)),
		Median: round2(median),
		Min:    sorted[0],
		Max:    sorted[n-1],
		Count:  n,
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Bucket counts scores in [Low, High). The last bucket includes 100.
type Bucket struct {
	Label string  `json:"label"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

const bucketWidth = 20

func distribution(values []float64) []Bucket {
	buckets := make([]Bucket, 100/bucketWidth)
	for i := range buckets {
		lo := float64(i * bucketWidth)
		buckets[i] = Bucket{Label: fmt.Sprintf("%d-%d", i*bucketWidth, (i+1)*bucketWidth), Low: lo, High: lo + bucketWidth}
	}
	for _, v := range values {
		i := int(v) / bucketWidth
		if i >= len(buckets) {
			i = len(buckets) - 1
		}
		if i < 0 {
			i = 0
		}
		buckets[i].Count++
	}
	return buckets
}

// Direction describes how engagement moves over a teacher's lectures.
type Direction string

const (
	DirectionImproving Direction = "improving"
	DirectionDeclining Direction = "declining"
	DirectionStable    Direction = "stable"
	DirectionUnknown   Direction = "unknown"
)

// trendWindow lectures at each end of the series are compared.
const (
	trendWindow    = 2
	trendTolerance = 0.05
)

// direction compares the mean of the earliest and latest trendWindow values
// of a date-ordered series.
func direction(series []float64) Direction {
	if len(series) < 2*trendWindow {
		return DirectionUnknown
	}
	early := mean(series[:trendWindow])
	late := mean(series[len(series)-trendWindow:])
	switch {
	case early == 0 && late > 0:
		return DirectionImproving
	case late > early*(1+trendTolerance):
		return DirectionImproving
	case late < early*(1-trendTolerance):
		return DirectionDeclining
	}
	return DirectionStable
}
