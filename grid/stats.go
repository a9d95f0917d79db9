package grid

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// degenerateDen is the smallest |n*Sxx - Sx^2| accepted by fitLine
const degenerateDen = 1e-12

// medianOf returns the lower median of vals. It reports false for an empty slice.
func medianOf(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil), true
}

func meanOf(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	return stat.Mean(vals, nil), true
}

// without returns vals with index i removed
func without(vals []float64, i int) []float64 {
	out := make([]float64, 0, len(vals))
	out = append(out, vals[:i]...)
	return append(out, vals[i+1:]...)
}

// fitLine fits y = alpha + beta*x by ordinary least squares. It reports false
// for fewer than two samples or when the normal equations are singular.
func fitLine(xs, ys []float64) (alpha, beta float64, ok bool) {
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0, 0, false
	}
	n := float64(len(xs))
	sx := floats.Sum(xs)
	den := n*floats.Dot(xs, xs) - sx*sx
	if math.Abs(den) < degenerateDen {
		return 0, 0, false
	}
	alpha, beta = stat.LinearRegression(xs, ys, nil, false)
	return alpha, beta, true
}
