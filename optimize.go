package studystop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/exp/constraints"
)

//////
// Const, vars, types.
//////

const (
	phaseInitialSampling = "InitialSampling"
	phaseOptimization    = "Optimization"
)

// OptimizationResult is what Optimize returns.
type OptimizationResult[T constraints.Integer | constraints.Float] struct {
	// Study holds every trial that ran, in order.
	Study *Study

	// BestParams are the parameters of the best complete trial, in the order
	// of the ranges given to Optimize. Nil when no trial completed.
	BestParams []T

	// BestValue is the value of the best complete trial; HasBest is false
	// when no trial completed.
	BestValue float64
	HasBest   bool

	// Stopped is true when the Stopper ended the study before the trial
	// budget was used. StoppedAt is the trial that was pruned as a result.
	Stopped   bool
	StoppedAt int
}

//////
// Exported functionalities.
//////

// DefaultOptimizationConfig returns a default optimizer configuration:
// maximize, 10 initial samples, 50 iterations, 50 candidates, UCB with Beta
// 2.0, and an Evaluator built from DefaultConfig as Stopper.
func DefaultOptimizationConfig() OptimizationConfig {
	// DefaultConfig is valid by construction.
	evaluator, _ := NewEvaluator(DefaultConfig())

	return OptimizationConfig{
		Direction:       Maximize,
		Iterations:      50,
		InitialSamples:  10,
		NumCandidates:   50,
		AcquisitionFunc: UCB,
		AcqParams: AcquisitionParams{
			BestSoFar:   math.MaxFloat64,
			Beta:        2.0,
			RandomState: rand.New(rand.NewSource(time.Now().UnixNano())),
			Xi:          0.01,
		},
		Stopper: evaluator,
	}
}

// Optimize runs a study of InitialSamples + Iterations trials of objective,
// choosing parameters with Bayesian optimization, and asks config.Stopper
// after every trial whether the whole study should stop.
//
// How it works:
//  1. The first InitialSamples trials use random parameters.
//  2. Every following trial scores NumCandidates random candidates with the
//     Gaussian Process and AcquisitionFunc and runs the most promising one.
//  3. The trial is recorded: Complete with the returned value, Pruned when
//     the objective returned ErrPruneTrial, Failed for any other error.
//  4. The Stopper is evaluated. On StopAndPrune the current trial is marked
//     Pruned (unless it failed) and no further trial is started.
//
// Errors:
//   - ErrInvalidConfiguration for bad ranges or config
//   - the error of the Stopper, wrapped, when it fails
//   - the error of the Study, wrapped, when a trial outcome cannot be recorded
//   - ctx.Err() when ctx is cancelled between trials
//
// In every error case the partial result is returned alongside.
//
// Usage example:
//
//	config := DefaultOptimizationConfig()
//	config.Direction = Maximize
//
//	result, err := Optimize(ctx, config,
//	    ObjectiveFunc[float64](func(params ...float64) (float64, error) {
//	        return trainAndScore(params[0], params[1])
//	    }),
//	    ParameterRange[float64]{Min: 0.0001, Max: 0.1}, // Learning rate
//	    ParameterRange[float64]{Min: 0.0, Max: 1.0},    // Momentum
//	)
func Optimize[T constraints.Integer | constraints.Float](
	ctx context.Context,
	config OptimizationConfig,
	objective ObjectiveFunc[T],
	hypers ...ParameterRange[T],
) (OptimizationResult[T], error) {
	if err := checkOptimizationConfig(config, objective, hypers); err != nil {
		return OptimizationResult[T]{}, err
	}

	study, err := NewStudy(config.Direction)
	if err != nil {
		return OptimizationResult[T]{}, err
	}

	result := OptimizationResult[T]{Study: study}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var rngMu sync.Mutex

	randomParams := func() []T {
		rngMu.Lock()
		defer rngMu.Unlock()

		return sampleParams(rng, hypers)
	}

	gp := newGaussianProcess()
	total := config.InitialSamples + config.Iterations
	bestLoss := math.MaxFloat64

	sendProgress := func(phase string, trial int, state TrialState, value float64, decision Decision) {
		if config.ProgressChan == nil {
			return
		}

		update := ProgressUpdate{
			Phase:       phase,
			Trial:       trial,
			TotalTrials: total,
			State:       state,
			Value:       value,
			Decision:    decision,
		}

		if best, err := study.BestValue(); err == nil {
			update.BestValue, update.HasBest = best, true
		}

		select {
		case config.ProgressChan <- update:
		default:
			// Skip update if channel is full.
		}
	}

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return finishResult(result), err
		}

		if config.RateLimiter != nil {
			if err := config.RateLimiter.Wait(ctx); err != nil {
				return finishResult(result), fmt.Errorf("rate limiter: %w", err)
			}
		}

		phase := phaseOptimization

		var params []T

		if i < config.InitialSamples || gp.Len() == 0 {
			phase = phaseInitialSampling
			params = randomParams()
		} else {
			params = nextCandidate(config, gp, bestLoss, randomParams)
		}

		floatParams := paramsToFloat64s(params)

		n, err := study.AddTrial(floatParams...)
		if err != nil {
			// Stopped from outside, e.g. by another Stopper sharing the study.
			break
		}

		state, value, err := runTrial(study, n, objective, params)
		if err != nil {
			return finishResult(result), err
		}

		switch state {
		case Complete:
			loss := toLoss(config.Direction, value)
			gp.Update(floatParams, loss)
			bestLoss = math.Min(bestLoss, loss)
		case Failed:
			// Teach the model to avoid failing regions without wrecking its
			// scale: one unit worse than the worst loss seen.
			penalty := 1.0
			if worst, ok := gp.Worst(); ok {
				penalty = worst + 1
			}

			gp.Update(floatParams, penalty)
		}

		decision := Continue

		if config.Stopper != nil {
			decision, err = config.Stopper.Evaluate(study, n)
			if err != nil {
				return finishResult(result), fmt.Errorf("evaluate trial %d: %w", n, err)
			}
		}

		if decision == StopAndPrune {
			// A failed trial keeps its state; anything else is discarded.
			if state != Failed {
				if err := study.Prune(n); err != nil {
					return finishResult(result), err
				}

				state, value = Pruned, 0
			}

			result.Stopped, result.StoppedAt = true, n
		}

		sendProgress(phase, n, state, value, decision)

		if study.Stopped() {
			break
		}
	}

	return finishResult(result), nil
}

//////
// Helpers.
//////

func checkOptimizationConfig[T constraints.Integer | constraints.Float](
	config OptimizationConfig,
	objective ObjectiveFunc[T],
	hypers []ParameterRange[T],
) error {
	switch {
	case objective == nil:
		return fmt.Errorf("%w: nil objective", ErrInvalidConfiguration)
	case len(hypers) == 0:
		return fmt.Errorf("%w: no parameter range", ErrInvalidConfiguration)
	case config.InitialSamples < 0 || config.Iterations < 0:
		return fmt.Errorf("%w: negative trial budget", ErrInvalidConfiguration)
	case config.Iterations > 0 && config.NumCandidates < 1:
		return fmt.Errorf("%w: NumCandidates must be at least 1", ErrInvalidConfiguration)
	case config.Iterations > 0 && config.AcquisitionFunc == nil:
		return fmt.Errorf("%w: nil acquisition function", ErrInvalidConfiguration)
	}

	for i, h := range hypers {
		if h.Min > h.Max {
			return fmt.Errorf("%w: range %d has Min > Max", ErrInvalidConfiguration, i)
		}
	}

	return nil
}

// runTrial evaluates objective and records the outcome on the study. The
// error is only set when the outcome could not be recorded; objective
// errors become trial states.
func runTrial[T constraints.Integer | constraints.Float](
	study *Study,
	n int,
	objective ObjectiveFunc[T],
	params []T,
) (TrialState, float64, error) {
	value, objErr := objective(params...)

	state := Complete

	switch {
	case errors.Is(objErr, ErrPruneTrial):
		state = Pruned
	case objErr != nil:
		state = Failed
	case math.IsNaN(value) || math.IsInf(value, 0):
		// Non-finite values cannot be compared; count them as failures.
		state = Failed
	}

	var err error

	switch state {
	case Pruned:
		err = study.Prune(n)
	case Failed:
		err = study.Fail(n)
	default:
		err = study.Complete(n, value)
	}

	if err != nil {
		return state, 0, fmt.Errorf("record trial %d as %s: %w", n, state, err)
	}

	if state != Complete {
		return state, 0, nil
	}

	return Complete, value, nil
}

// nextCandidate returns the most promising of NumCandidates random points.
func nextCandidate[T constraints.Integer | constraints.Float](
	config OptimizationConfig,
	gp *gaussianProcess,
	bestLoss float64,
	randomParams func() []T,
) []T {
	acqParams := config.AcqParams
	acqParams.BestSoFar = bestLoss

	var next []T

	bestAcquisition := math.Inf(1)

	for j := 0; j < config.NumCandidates; j++ {
		candidate := randomParams()

		mean, variance := gp.Predict(paramsToFloat64s(candidate))

		acquisition := config.AcquisitionFunc(mean, variance, acqParams)
		if next == nil || acquisition < bestAcquisition {
			bestAcquisition = acquisition
			next = candidate
		}
	}

	return next
}

// sampleParams draws one random point inside hypers. Integer ranges are
// sampled uniformly over [Min, Max], float ranges over [Min, Max).
func sampleParams[T constraints.Integer | constraints.Float](rng *rand.Rand, hypers []ParameterRange[T]) []T {
	params := make([]T, len(hypers))

	for i, h := range hypers {
		if isIntegerType[T]() {
			lo, hi := int64(h.Min), int64(h.Max)
			params[i] = T(lo + rng.Int63n(hi-lo+1))

			continue
		}

		lo, hi := float64(h.Min), float64(h.Max)
		params[i] = T(lo + rng.Float64()*(hi-lo))
	}

	return params
}

func isIntegerType[T constraints.Integer | constraints.Float]() bool {
	half := 0.5

	return T(half) == 0
}

func paramsToFloat64s[T constraints.Integer | constraints.Float](params []T) []float64 {
	floats := make([]float64, len(params))
	for i, v := range params {
		floats[i] = float64(v)
	}

	return floats
}

// finishResult fills the best-trial fields from the study. It runs at the
// end because a stop may prune the trial that was best when it completed.
func finishResult[T constraints.Integer | constraints.Float](result OptimizationResult[T]) OptimizationResult[T] {
	study := result.Study
	if study == nil {
		return result
	}

	best, err := study.BestValue()
	if err != nil {
		return result
	}

	for _, tv := range study.Trials() {
		t, ok := tv.(Trial)
		if !ok {
			continue
		}

		if v, complete := t.Value(); complete && v == best {
			params := t.Params()
			result.BestParams = make([]T, len(params))

			for i, p := range params {
				result.BestParams[i] = T(p)
			}

			break
		}
	}

	result.BestValue, result.HasBest = best, true

	return result
}
