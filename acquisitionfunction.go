package studystop

import "math"

//////
// Available acquisition functions.
//
// Each one scores a candidate from the Gaussian Process prediction of its
// loss. Lower scores are more promising. BestSoFar is the lowest loss seen.
//////

// UCB is the (lower) confidence bound: predicted loss minus Beta standard
// deviations. Higher Beta explores more.
//
//	config := DefaultOptimizationConfig()
//	config.AcqParams.Beta = 2.0
func UCB(mean, variance float64, params AcquisitionParams) float64 {
	return mean - params.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement scores a candidate by how likely it is to lower
// the loss by at least Xi. Conservative: it prefers likely small gains.
func ProbabilityOfImprovement(mean, variance float64, params AcquisitionParams) float64 {
	z := (params.BestSoFar - params.Xi - mean) / math.Sqrt(variance)

	return -normalCDF(z)
}

// ExpectedImprovement scores a candidate by the expected amount it lowers
// the loss beyond Xi, weighting both probability and size of the gain.
func ExpectedImprovement(mean, variance float64, params AcquisitionParams) float64 {
	sigma := math.Sqrt(variance)
	gain := params.BestSoFar - params.Xi - mean
	z := gain / sigma

	return -(gain*normalCDF(z) + sigma*normalPDF(z))
}

// ThompsonSampling draws the score from the predicted distribution.
// params.RandomState must be set.
func ThompsonSampling(mean, variance float64, params AcquisitionParams) float64 {
	return mean + math.Sqrt(variance)*params.RandomState.NormFloat64()
}
