package studystop

import "errors"

var (
	// ErrUndefinedBestValue is returned by StudyView.BestValue when no trial
	// of the study is complete.
	ErrUndefinedBestValue = errors.New("best value undefined: no complete trial")

	// ErrInvalidConfiguration is wrapped by every parameter validation error.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrMalformedTrial means a trial broke the value/state invariant.
	ErrMalformedTrial = errors.New("malformed trial")

	// ErrPruneTrial can be returned (or wrapped) by an ObjectiveFunc to have
	// the trial recorded as Pruned instead of Failed.
	ErrPruneTrial = errors.New("trial pruned")

	// ErrStudyStopped is returned when a trial is added to a stopped study.
	ErrStudyStopped = errors.New("study stopped")

	// ErrUnknownTrial is returned when a trial number does not exist.
	ErrUnknownTrial = errors.New("unknown trial")

	// ErrTrialFinished is returned when a finished trial is reported again.
	ErrTrialFinished = errors.New("trial already finished")
)
