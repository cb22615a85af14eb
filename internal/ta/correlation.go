package ta

import "math"

// Pearson returns the correlation coefficient of the paired series, computed
// from deviations around each series' mean. Series of different length are
// truncated to the shorter one. Empty input, a constant series or a zero
// denominator yields 0.
func Pearson(x, y []float64) float64 {
	n := min(len(x), len(y))
	if n == 0 {
		return 0
	}
	x, y = x[:n], y[:n]
	if constant(x) || constant(y) {
		return 0
	}

	meanX, _ := MeanStd(x)
	meanY, _ := MeanStd(y)
	var sxy, sxx, syy float64
	for i := range n {
		dx := x[i] - meanX
		dy := y[i] - meanY
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	denominator := math.Sqrt(sxx * syy)
	if denominator == 0 || math.IsNaN(denominator) || math.IsInf(denominator, 0) {
		return 0
	}

	r := sxy / denominator
	if math.IsNaN(r) {
		return 0
	}
	// float rounding can push a perfect fit a hair past ±1
	return math.Max(-1, math.Min(1, r))
}

// constant reports whether every value equals the first. A rounded mean can
// leave tiny nonzero deviations for such a series.
func constant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

// MeanStd returns the mean and population standard deviation of values.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
