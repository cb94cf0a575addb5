package quality

import (
	"math"
	"sort"
)

// lowerMedian returns the element at index (n-1)/2 of the sorted values.
// Unlike the averaged median it is always a member of the input, so
// replacing outliers with it leaves it unchanged.
func lowerMedian(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted[(len(sorted)-1)/2]
}

// medianAbsoluteDeviation returns the lower median of |v - median|
func medianAbsoluteDeviation(values []float64, median float64) float64 {
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - median)
	}
	return lowerMedian(dev)
}
