package studystop

import (
	"math"
	"sync"
)

//////
// Const, vars, types.
//////

// gaussianProcess is the surrogate model Optimize uses to guess the loss of
// untried hyperparameters from the trials of the study so far.
//
// Only Complete and Failed trials are fed to it: a pruned trial tells
// nothing about the loss of its parameters.
type gaussianProcess struct {
	// mu protects every field below.
	mu sync.RWMutex

	// x holds the observed hyperparameter points.
	x [][]float64

	// y holds the loss observed at each point of x.
	y []float64

	// sigma is the RBF kernel width.
	sigma float64
}

//////
// Methods.
//////

// kernel is the RBF similarity between two points, in (0, 1].
//
//	k(a, b) = exp(-|a - b|^2 / (2 * sigma^2))
//
// Panics if a and b have different lengths. Callers must hold mu.
func (gp *gaussianProcess) kernel(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("input vectors must have the same length")
	}

	var sum float64

	for i := range a {
		diff := a[i] - b[i]

		sum += diff * diff
	}

	return math.Exp(-sum / (2 * gp.sigma * gp.sigma))
}

// Predict returns the estimated loss at x and the uncertainty of the
// estimate. With no observation the prior (0, 1) is returned.
func (gp *gaussianProcess) Predict(x []float64) (mean, variance float64) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	n := len(gp.x)
	if n == 0 {
		return 0, 1
	}

	k := make([]float64, n)
	for i := range gp.x {
		k[i] = gp.kernel(x, gp.x[i])
	}

	var sum, similarity float64

	for i := range gp.x {
		sum += k[i] * gp.y[i]
		similarity += k[i]
	}

	mean = sum / float64(n)

	// Simplified posterior variance: 1 - (sum k)^2 / n, floored to stay
	// usable by the acquisition functions.
	variance = math.Max(1.0-similarity*similarity/float64(n), 1e-9)

	return mean, variance
}

// Update records the loss y observed at x.
func (gp *gaussianProcess) Update(x []float64, y float64) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	point := make([]float64, len(x))
	copy(point, x)

	gp.x = append(gp.x, point)
	gp.y = append(gp.y, y)
}

// Worst returns the highest loss observed, and false when there is none.
func (gp *gaussianProcess) Worst() (float64, bool) {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	if len(gp.y) == 0 {
		return 0, false
	}

	worst := gp.y[0]
	for _, v := range gp.y[1:] {
		worst = math.Max(worst, v)
	}

	return worst, true
}

// Len returns the number of observations.
func (gp *gaussianProcess) Len() int {
	gp.mu.RLock()
	defer gp.mu.RUnlock()

	return len(gp.x)
}

//////
// Factory.
//////

// newGaussianProcess returns an empty model with a kernel width of 1.
func newGaussianProcess() *gaussianProcess {
	return &gaussianProcess{sigma: 1.0}
}
