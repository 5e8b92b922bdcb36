package studystop

import (
	"fmt"
	"math"
)

// Trial is an immutable snapshot of one trial of a Study.
type Trial struct {
	number int
	state  TrialState
	value  float64
	params []float64
}

// NewTrial builds a finished or running trial snapshot. value is ignored
// unless state is Complete.
func NewTrial(number int, state TrialState, value float64) Trial {
	t := Trial{number: number, state: state}
	if state == Complete {
		t.value = value
	}

	return t
}

// Number implements TrialView.
func (t Trial) Number() int { return t.number }

// State implements TrialView.
func (t Trial) State() TrialState { return t.state }

// Value implements TrialView.
func (t Trial) Value() (float64, bool) {
	if t.state != Complete {
		return 0, false
	}

	return t.value, true
}

// Params returns the hyperparameters the trial was run with, if known.
func (t Trial) Params() []float64 {
	out := make([]float64, len(t.params))
	copy(out, t.params)

	return out
}

// checkTrial enforces the value/state invariant on a trial coming from an
// arbitrary StudyView implementation.
func checkTrial(t TrialView) (float64, bool, error) {
	v, ok := t.Value()

	switch {
	case !t.State().Valid():
		return 0, false, fmt.Errorf("%w: trial %d has unknown state %q", ErrMalformedTrial, t.Number(), t.State())
	case t.State() == Complete && !ok:
		return 0, false, fmt.Errorf("%w: trial %d is complete without a value", ErrMalformedTrial, t.Number())
	case t.State() != Complete && ok:
		return 0, false, fmt.Errorf("%w: trial %d is %s but carries a value", ErrMalformedTrial, t.Number(), t.State())
	case ok && (math.IsNaN(v) || math.IsInf(v, 0)):
		return 0, false, fmt.Errorf("%w: trial %d has non-finite value %v", ErrMalformedTrial, t.Number(), v)
	}

	return v, ok, nil
}
