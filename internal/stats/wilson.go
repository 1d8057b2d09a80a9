// Package stats provides the confidence math shown by the results command.
package stats

import "math"

// WilsonInterval computes the Wilson score interval for won conversions out
// of displayed trials at the given confidence level. Returns (0, 0) when
// nothing was displayed.
func WilsonInterval(won, displayed int64, confidence float64) (lower, upper float64) {
	if displayed == 0 {
		return 0, 0
	}

	n := float64(displayed)
	p := float64(won) / n
	z := zScore(confidence)
	z2 := z * z

	denominator := 1 + z2/n
	center := p + z2/(2*n)
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	lower = (center - margin) / denominator
	upper = (center + margin) / denominator

	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return lower, upper
}

// zScore maps common confidence levels to their normal quantile.
func zScore(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.576
	case confidence >= 0.95:
		return 1.96
	case confidence >= 0.90:
		return 1.645
	default:
		return 1.96
	}
}
