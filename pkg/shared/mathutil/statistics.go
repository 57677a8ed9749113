// Package mathutil collects the small numeric helpers shared by the
// priority scorer, cooldown calculator, and completion-snapshot trend
// query: basic descriptive statistics plus clamping/weighting helpers
// that keep scoring logic free of ad-hoc arithmetic.
package mathutil

import "math"

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// Variance returns the population variance of values, or 0 for fewer
// than two values.
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sumSquares float64
	for _, v := range values {
		d := v - mean
		sumSquares += d * d
	}
	return sumSquares / float64(len(values))
}

// StandardDeviation returns the population standard deviation of values.
func StandardDeviation(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// Min returns the smallest value in values, or 0 for an empty slice.
func Min(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest value in values, or 0 for an empty slice.
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Sum returns the sum of values.
func Sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// Clamp01 restricts v to [0, 1].
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Clamp restricts v to [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// WeightedFactor pairs a normalized [0,1] factor value with its
// configured weight, as used by the priority scorer's per-factor
// breakdown.
type WeightedFactor struct {
	Value  float64
	Weight float64
}

// WeightedSum combines factors into a single [0,1] score, normalizing
// by the sum of weights so callers don't need their configured
// weights to add up to any particular total. Returns 0 if every
// weight is zero.
func WeightedSum(factors []WeightedFactor) float64 {
	var weightedTotal, weightTotal float64
	for _, f := range factors {
		weightedTotal += f.Value * f.Weight
		weightTotal += f.Weight
	}
	if weightTotal == 0 {
		return 0
	}
	return Clamp01(weightedTotal / weightTotal)
}

// RoundScore rounds a [0,1] score to the given number of decimal
// places, e.g. for display in the activity log.
func RoundScore(score float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(score*mult) / mult
}
