package stats

import (
	"math"
	"sort"
)

// MADScale converts a raw median absolute deviation into the
// normal-consistent estimate of standard deviation.
const MADScale = 1.4826

// DefaultThreshold is the outlier cutoff in normalized MADs when the
// caller does not provide one.
const DefaultThreshold = 3.0

// Direction selects which side(s) of the median count as outliers.
type Direction int

const (
	Both Direction = iota // deviations on either side
	High                  // only values above the median
	Low                   // only values below the median
)

// OutlierOptions configures DetectOutliers.
type OutlierOptions struct {
	Threshold float64   // cutoff in normalized MADs; <= 0 uses DefaultThreshold
	Direction Direction // which side of the median to flag
}

// OutlierResult carries the classification and the threshold values
// used, for diagnostics. Inliers and Outliers preserve input order.
type OutlierResult[T any] struct {
	Inliers  []T
	Outliers []T
	Median   float64
	MAD      float64 // normalized (raw MAD x MADScale)
	Cutoff   float64 // Threshold x normalized MAD
}

// Median returns the standard median of values: the middle element for
// odd counts, the mean of the two middle elements for even counts.
// Returns NaN for an empty input. The input slice is not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2.0
}

// DetectOutliers classifies entries as inliers or outliers based on
// their deviation from the median, measured in normalized MADs.
// An entry is an outlier when its deviation in the requested direction
// exceeds Threshold x normalized MAD. With a zero MAD (all values
// identical) the outlier band has zero width and only entries that
// deviate at all are flagged.
//
// Classification is deterministic: Inliers and Outliers keep the input
// order, ties are resolved by the strict ">" comparison.
func DetectOutliers[T any](entries []T, value func(T) float64, opts OutlierOptions) OutlierResult[T] {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	values := make([]float64, len(entries))
	for i, e := range entries {
		values[i] = value(e)
	}

	median := Median(values)

	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - median)
	}
	mad := Median(deviations) * MADScale
	cutoff := threshold * mad

	result := OutlierResult[T]{
		Median: median,
		MAD:    mad,
		Cutoff: cutoff,
	}

	for i, e := range entries {
		delta := values[i] - median
		var exceeds bool
		switch opts.Direction {
		case High:
			exceeds = delta > cutoff
		case Low:
			exceeds = -delta > cutoff
		default:
			exceeds = math.Abs(delta) > cutoff
		}
		if exceeds {
			result.Outliers = append(result.Outliers, e)
		} else {
			result.Inliers = append(result.Inliers, e)
		}
	}

	return result
}
