package studystop

import (
	"math/rand"

	"golang.org/x/exp/constraints"
	"golang.org/x/time/rate"
)

//////
// Study and trial contracts.
//////

// Direction tells which way a study optimizes its metric.
type Direction string

const (
	// Maximize means higher values are better.
	Maximize Direction = "maximize"

	// Minimize means lower values are better.
	Minimize Direction = "minimize"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Maximize || d == Minimize
}

// TrialState is the lifecycle state of a single trial.
type TrialState string

const (
	// Running trials have been started but not reported yet.
	Running TrialState = "RUNNING"

	// Complete trials finished and carry a value.
	Complete TrialState = "COMPLETE"

	// Pruned trials were stopped early, either by a per-trial pruner or
	// because the study was stopped while they were current.
	Pruned TrialState = "PRUNED"

	// Failed trials raised an error in the objective.
	Failed TrialState = "FAILED"
)

// Valid reports whether s is one of the known states.
func (s TrialState) Valid() bool {
	switch s {
	case Running, Complete, Pruned, Failed:
		return true
	}

	return false
}

// TrialView is the read-only view of a trial the checks need.
//
// Invariant: Value returns ok == true iff State() == Complete.
type TrialView interface {
	// Number is the ordinal of the trial inside its study, starting at 0.
	Number() int

	// State is the current lifecycle state.
	State() TrialState

	// Value is the recorded metric. ok is false when no value is recorded.
	Value() (value float64, ok bool)
}

// StudyView is what a stopping check reads from, and the single mutation it
// is allowed to perform (Stop).
//
// Implementations are owned by the host optimization engine. The checks
// never hold on to a StudyView after returning.
type StudyView interface {
	// Trials returns every trial in execution order.
	Trials() []TrialView

	// Direction of optimization.
	Direction() Direction

	// BestValue returns the best value among complete trials, or an error
	// wrapping ErrUndefinedBestValue when there is none.
	BestValue() (float64, error)

	// Stop moves the study to its terminal stopped state. Idempotent.
	Stop()

	// Stopped reports whether Stop was called.
	Stopped() bool
}

// Decision is the outcome of a stopping check.
//
// The zero value is Continue so an unset Decision never stops a study.
type Decision int

const (
	// Continue leaves the study untouched.
	Continue Decision = iota

	// StopAndPrune means the study was stopped and the current trial has to
	// be discarded by the host.
	StopAndPrune
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	switch d {
	case Continue:
		return "Continue"
	case StopAndPrune:
		return "StopAndPrune"
	default:
		return "UnknownDecision"
	}
}

// Stopper is anything that can decide, after a trial finished, whether the
// study should stop. *Evaluator implements it.
type Stopper interface {
	Evaluate(study StudyView, currentTrial int) (Decision, error)
}

// StopperFunc adapts an ordinary function to the Stopper interface.
type StopperFunc func(study StudyView, currentTrial int) (Decision, error)

// Evaluate calls f(study, currentTrial).
func (f StopperFunc) Evaluate(study StudyView, currentTrial int) (Decision, error) {
	return f(study, currentTrial)
}

//////
// Host optimizer types.
//////

// ProgressUpdate is sent on OptimizationConfig.ProgressChan after every trial.
type ProgressUpdate struct {
	// Phase is "InitialSampling" or "Optimization".
	Phase string

	// Trial is the number of the trial that just finished.
	Trial int

	// TotalTrials is InitialSamples + Iterations.
	TotalTrials int

	// State the trial ended in.
	State TrialState

	// Value of the trial, zero unless State is Complete.
	Value float64

	// BestValue is the study best so far; HasBest is false while undefined.
	BestValue float64
	HasBest   bool

	// Decision returned by the stopper for this trial.
	Decision Decision
}

// ParameterRange defines the inclusive search interval of one hyperparameter.
//
// Min must be less than or equal to Max.
//
//	learningRate := ParameterRange[float64]{Min: 0.0001, Max: 0.1}
//	workers := ParameterRange[int]{Min: 1, Max: 32}
type ParameterRange[T constraints.Integer | constraints.Float] struct {
	// Min is the inclusive lower bound.
	Min T

	// Max is the inclusive upper bound.
	Max T
}

// ObjectiveFunc evaluates one hyperparameter combination and returns the
// metric of the trial.
//
// Returning an error marks the trial Failed, except errors wrapping
// ErrPruneTrial, which mark it Pruned.
//
//	objective := ObjectiveFunc[float64](func(params ...float64) (float64, error) {
//	    acc, err := train(params[0], params[1])
//	    if err != nil {
//	        return 0, fmt.Errorf("train: %w", err)
//	    }
//
//	    return acc, nil
//	})
type ObjectiveFunc[T constraints.Integer | constraints.Float] func(params ...T) (float64, error)

// AcquisitionFunc scores a candidate point from the Gaussian Process
// prediction. Lower scores are more promising. Predictions are expressed as
// loss, i.e. already oriented so that lower is better regardless of the
// study direction.
type AcquisitionFunc func(mean, variance float64, params AcquisitionParams) float64

// AcquisitionParams holds the knobs of the built-in acquisition functions.
type AcquisitionParams struct {
	// Beta is the exploration weight of UCB. Typical values 0.1 to 5.0.
	Beta float64

	// Xi is the minimum improvement PI and EI look for. Typical values
	// 0.01 to 0.1.
	Xi float64

	// BestSoFar is the lowest loss observed so far. Maintained by Optimize.
	BestSoFar float64

	// RandomState is used by ThompsonSampling. Must not be nil when that
	// acquisition function is selected, and must not be shared between runs.
	RandomState *rand.Rand
}

// OptimizationConfig controls Optimize.
type OptimizationConfig struct {
	// Direction of the objective metric.
	Direction Direction

	// Iterations is the number of model-guided trials after initial sampling.
	Iterations int

	// InitialSamples is the number of random trials used to seed the model.
	InitialSamples int

	// NumCandidates is the number of random candidates scored per iteration.
	NumCandidates int

	// AcquisitionFunc selects the next candidate. See UCB and friends.
	AcquisitionFunc AcquisitionFunc

	// AcqParams are passed to AcquisitionFunc.
	AcqParams AcquisitionParams

	// Stopper runs after every trial. Nil disables study-level stopping.
	Stopper Stopper

	// RateLimiter, when set, throttles how fast trials are started.
	RateLimiter *rate.Limiter

	// ProgressChan receives one update per trial. Updates are dropped when
	// the channel is full. Nil disables updates.
	ProgressChan chan<- ProgressUpdate
}
