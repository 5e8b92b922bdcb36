package studystop

import (
	"math"
	"sort"
)

//////
// Helper functions.
//////

const (
	// relTolerance is the relative tolerance of isClose.
	relTolerance = 1e-9

	// roundoff bounds the error of subtracting two float64 values, relative
	// to the larger operand. It keeps 0.701 and 0.700 within 0.001.
	roundoff = 4 * 0x1p-52
)

// normalCDF is the cumulative distribution function of the standard normal
// distribution. Used by PI and EI.
func normalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// normalPDF is the probability density function of the standard normal
// distribution. Used by EI.
func normalPDF(x float64) float64 {
	return math.Exp(-x*x/2.0) / math.Sqrt(2.0*math.Pi)
}

// isBetter reports whether a is strictly better than b in direction d.
func isBetter(d Direction, a, b float64) bool {
	if d == Minimize {
		return a < b
	}

	return a > b
}

// bestOf returns the best of values in direction d. values must not be empty.
func bestOf(d Direction, values []float64) float64 {
	best := values[0]
	for _, v := range values[1:] {
		if isBetter(d, v, best) {
			best = v
		}
	}

	return best
}

// stalled reports whether recent fails to beat early by at least epsilon in
// direction d.
func stalled(d Direction, early, recent, epsilon float64) bool {
	if d == Minimize {
		return early-epsilon < recent
	}

	return early+epsilon > recent
}

// reached reports whether value is at least as good as threshold in
// direction d.
func reached(d Direction, value, threshold float64) bool {
	if d == Minimize {
		return value <= threshold
	}

	return value >= threshold
}

// topK returns the k best values, best first. values is not modified.
func topK(d Direction, values []float64, k int) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)

	sort.SliceStable(sorted, func(i, j int) bool {
		return isBetter(d, sorted[i], sorted[j])
	})

	if k > len(sorted) {
		k = len(sorted)
	}

	return sorted[:k]
}

// isClose reports whether a and b are equal within absolute tolerance absTol,
// or within relTolerance of the larger magnitude, whichever is looser.
func isClose(a, b, absTol float64) bool {
	m := math.Max(math.Abs(a), math.Abs(b))
	tol := math.Max(relTolerance*m, absTol+roundoff*m)

	return math.Abs(a-b) <= tol
}

// allClose reports whether every unordered pair of values is close.
func allClose(values []float64, absTol float64) bool {
	for i := 0; i < len(values); i++ {
		for j := i + 1; j < len(values); j++ {
			if !isClose(values[i], values[j], absTol) {
				return false
			}
		}
	}

	return true
}

// toLoss orients a metric so that lower is better, which is what the
// Gaussian Process and acquisition functions expect.
func toLoss(d Direction, value float64) float64 {
	if d == Maximize {
		return -value
	}

	return value
}
