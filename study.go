package studystop

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
)

//////
// Const, vars, types.
//////

// Study is an in-memory, thread-safe StudyView. It is what Optimize hosts
// trials on, and what the CLI rebuilds recorded histories into.
//
// Lifecycle:
//   - Trials are started with AddTrial (Running) and finished with Complete,
//     Prune or Fail. Append records an already finished trial in one step.
//   - Stop moves the study to the terminal stopped state. After that no new
//     trial can be added, but running trials can still be finished.
//
// Every method is safe for concurrent use. Trials and Trial return
// snapshots, so a caller never observes a trial changing under it.
//
// Usage example:
//
//	study, err := NewStudy(Minimize)
//	if err != nil {
//	    return err
//	}
//
//	n, err := study.AddTrial(0.01, 0.9) // Learning rate, momentum.
//	if err != nil {
//	    return err // ErrStudyStopped once a check stopped the study.
//	}
//
//	loss, err := train(0.01, 0.9)
//	if err != nil {
//	    return study.Fail(n)
//	}
//
//	if err := study.Complete(n, loss); err != nil {
//	    return err
//	}
//
//	decision, err := evaluator.Evaluate(study, n)
type Study struct {
	// mu protects every field below.
	mu sync.RWMutex

	id        string
	direction Direction
	trials    []Trial
	stopped   bool
}

//////
// Factory.
//////

// NewStudy returns an empty, running study optimizing in direction d.
//
// Parameters:
// - d: Maximize or Minimize; decides which value is the best
//
// Returns:
// - *Study: the study, with a fresh random ID
// - error: ErrInvalidConfiguration when d is not a known direction
func NewStudy(d Direction) (*Study, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidConfiguration, d)
	}

	return &Study{
		id:        uuid.NewString(),
		direction: d,
	}, nil
}

//////
// Methods.
//////

// ID uniquely identifies the study in logs.
func (s *Study) ID() string {
	return s.id
}

// Direction implements StudyView.
func (s *Study) Direction() Direction {
	return s.direction
}

// Trials implements StudyView. The returned slice is a snapshot.
func (s *Study) Trials() []TrialView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TrialView, len(s.trials))
	for i, t := range s.trials {
		out[i] = t
	}

	return out
}

// Trial returns the snapshot of trial number n.
func (s *Study) Trial(n int) (Trial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n < 0 || n >= len(s.trials) {
		return Trial{}, fmt.Errorf("%w: %d", ErrUnknownTrial, n)
	}

	return s.trials[n], nil
}

// Len returns the number of trials, in any state.
func (s *Study) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.trials)
}

// BestValue implements StudyView.
func (s *Study) BestValue() (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best, found := 0.0, false
	for _, t := range s.trials {
		if t.state != Complete {
			continue
		}

		if !found || isBetter(s.direction, t.value, best) {
			best, found = t.value, true
		}
	}

	if !found {
		return 0, ErrUndefinedBestValue
	}

	return best, nil
}

// Stop implements StudyView. Calling it on a stopped study is a no-op.
func (s *Study) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
}

// Stopped implements StudyView.
func (s *Study) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stopped
}

// AddTrial starts a new Running trial and returns its number. Trials are
// numbered from 0 in the order they were added.
//
// Parameters:
// - params: the hyperparameters the trial runs with, kept for reporting
//
// Returns:
// - int: the number of the new trial
// - error: ErrStudyStopped when the study was stopped
func (s *Study) AddTrial(params ...float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0, ErrStudyStopped
	}

	n := len(s.trials)

	p := make([]float64, len(params))
	copy(p, params)

	s.trials = append(s.trials, Trial{number: n, state: Running, params: p})

	return n, nil
}

// Append records an already finished trial in one step. It is how recorded
// histories are rebuilt into a study.
//
// Parameters:
// - state: Complete, Pruned or Failed
// - value: required for Complete, must be nil otherwise
//
// Returns:
// - int: the number of the recorded trial
// - error: ErrMalformedTrial when state and value disagree, the value is
//   not finite or state is Running; ErrStudyStopped when the study was
//   stopped. On error the study is left unchanged.
//
// Usage example:
//
//	v := 0.71
//	study.Append(Complete, &v)
//	study.Append(Failed, nil)
func (s *Study) Append(state TrialState, value *float64) (int, error) {
	if state == Running {
		return 0, fmt.Errorf("%w: append needs a finished state", ErrMalformedTrial)
	}

	n, err := s.AddTrial()
	if err != nil {
		return 0, err
	}

	switch {
	case state == Complete && value == nil:
		err = fmt.Errorf("%w: trial %d is complete without a value", ErrMalformedTrial, n)
	case state != Complete && value != nil:
		err = fmt.Errorf("%w: trial %d is %s but carries a value", ErrMalformedTrial, n, state)
	case state == Complete:
		err = s.Complete(n, *value)
	default:
		err = s.finish(n, state, 0)
	}

	if err != nil {
		s.dropLast(n)

		return 0, err
	}

	return n, nil
}

// Complete finishes running trial n with value. Non-finite values are
// rejected with ErrMalformedTrial, finished trials with ErrTrialFinished.
func (s *Study) Complete(n int, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: trial %d has non-finite value %v", ErrMalformedTrial, n, value)
	}

	return s.finish(n, Complete, value)
}

// Fail finishes a running trial as Failed.
func (s *Study) Fail(n int) error {
	return s.finish(n, Failed, 0)
}

// Prune marks trial n as Pruned. Unlike Complete and Fail, it also accepts a
// Complete trial: that is how a study stop discards the current trial.
func (s *Study) Prune(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 || n >= len(s.trials) {
		return fmt.Errorf("%w: %d", ErrUnknownTrial, n)
	}

	t := &s.trials[n]
	if t.state != Running && t.state != Complete && t.state != Pruned {
		return fmt.Errorf("%w: trial %d is %s", ErrTrialFinished, n, t.state)
	}

	t.state = Pruned
	t.value = 0

	return nil
}

func (s *Study) finish(n int, state TrialState, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 || n >= len(s.trials) {
		return fmt.Errorf("%w: %d", ErrUnknownTrial, n)
	}

	t := &s.trials[n]
	if t.state != Running {
		return fmt.Errorf("%w: trial %d is %s", ErrTrialFinished, n, t.state)
	}

	t.state = state
	t.value = value

	return nil
}

func (s *Study) dropLast(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.trials) == n+1 {
		s.trials = s.trials[:n]
	}
}
