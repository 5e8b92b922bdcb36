package studystop

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/thalesfsp/studystop/internal/logging"
)

//////
// Const, vars, types.
//////

const (
	checkNoCompletion = "no_completion"
	checkPatience     = "patience"
	checkPlateau      = "plateau"
)

// Evaluator runs the study-level stopping checks and logs their decisions.
//
// The zero value is not usable; build one with NewEvaluator. An Evaluator
// holds no per-study state, so one instance can serve many studies, as long
// as the host calls it for a given study one trial at a time.
type Evaluator struct {
	config Config
	logger *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger stop decisions are reported to. Defaults to a
// logger that discards everything. A nil logger keeps the default.
//
// Every stop is logged at Info with the check name, the trial number, the
// study ID when the study has one, and the values that led to the stop.
//
// Usage example:
//
//	logger := logging.New(os.Stderr, slog.LevelInfo, false)
//	evaluator, err := NewEvaluator(cfg, WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

//////
// Factory.
//////

// NewEvaluator validates cfg and returns an Evaluator for it.
//
// Parameters:
// - cfg: the configuration of every check, see DefaultConfig and LoadConfig
// - opts: optional settings such as WithLogger
//
// Returns:
// - *Evaluator: ready to be used as the Stopper of a host optimizer
// - error: ErrInvalidConfiguration when cfg does not validate
//
// Usage example:
//
//	cfg := DefaultConfig()
//	cfg.Plateau.Threshold = &target
//
//	evaluator, err := NewEvaluator(cfg)
//	if err != nil {
//	    return err
//	}
//
//	config := DefaultOptimizationConfig()
//	config.Stopper = evaluator
func NewEvaluator(cfg Config, opts ...Option) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Evaluator{
		config: cfg,
		logger: logging.Discard(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

//////
// Methods.
//////

// Config returns the configuration the Evaluator was built with.
func (e *Evaluator) Config() Config {
	return e.config
}

// Evaluate implements Stopper. It runs the enabled checks of the
// configuration in order no-completion, patience, plateau, and returns the
// first StopAndPrune. Errors stop the evaluation and are returned as is.
//
// Parameters:
// - study: the study the current trial belongs to
// - currentTrial: the number of the trial that just finished
//
// Returns:
// - Decision: StopAndPrune when any enabled check stopped the study; the
//   study is then already stopped and the host discards currentTrial
// - error: ErrInvalidConfiguration or ErrMalformedTrial, see the checks
//
// Usage example:
//
//	decision, err := evaluator.Evaluate(study, n)
//	if err != nil {
//	    return err
//	}
//
//	if decision == StopAndPrune {
//	    return study.Prune(n)
//	}
func (e *Evaluator) Evaluate(study StudyView, currentTrial int) (Decision, error) {
	checks := []struct {
		enabled bool
		run     func() (Decision, error)
	}{
		{e.config.NoCompletion.Enabled, func() (Decision, error) {
			return e.CheckNoCompletion(study, currentTrial, e.config.NoCompletion)
		}},
		{e.config.Patience.Enabled, func() (Decision, error) {
			return e.CheckPatience(study, currentTrial, e.config.Patience)
		}},
		{e.config.Plateau.Enabled, func() (Decision, error) {
			return e.CheckPlateau(study, currentTrial, e.config.Plateau)
		}},
	}

	for _, c := range checks {
		if !c.enabled {
			continue
		}

		d, err := c.run()
		if err != nil {
			return Continue, err
		}

		if d == StopAndPrune {
			return d, nil
		}
	}

	return Continue, nil
}

// CheckNoCompletion stops the study when, past the warm-up, not a single
// trial has completed. Every trial failing or being pruned would otherwise
// burn the whole trial budget.
//
// Returns:
//   - Continue while currentTrial < p.WarmupSteps or once any trial completed
//   - StopAndPrune otherwise, after calling study.Stop
//   - an error wrapping ErrInvalidConfiguration for bad parameters, or the
//     error of study.BestValue when it is not ErrUndefinedBestValue
func (e *Evaluator) CheckNoCompletion(study StudyView, currentTrial int, p NoCompletionParams) (Decision, error) {
	if err := checkCall(study, currentTrial, p); err != nil {
		return Continue, err
	}

	if currentTrial < p.WarmupSteps {
		return Continue, nil
	}

	completed, err := hasCompleted(study)
	if err != nil {
		return Continue, err
	}

	if completed {
		return Continue, nil
	}

	return e.stop(study, currentTrial, checkNoCompletion, "no trial completed after warm-up",
		slog.Int("warmup_steps", p.WarmupSteps),
	), nil
}

// CheckPatience stops the study when the best of the last p.Patience
// complete values does not improve on the best of the first p.Patience
// complete values by more than p.Epsilon.
//
// Values are taken in execution order. "Best" follows the study direction.
// With fewer than p.Patience+1 complete trials there is not enough history
// and the check continues. Between p.Patience+1 and 2*p.Patience complete
// trials the two windows overlap; the check then asks whether one of the
// earliest values is still the best overall.
//
// Example, maximizing, Patience 2, Epsilon 0.001:
//
//	values [0.5, 0.9, 0.91, 0.5, 0.5]: early best 0.9, recent best 0.5 -> StopAndPrune
//	values [0.1, 0.2, 0.9, 0.95]:      early best 0.2, recent best 0.95 -> Continue
func (e *Evaluator) CheckPatience(study StudyView, currentTrial int, p PatienceParams) (Decision, error) {
	if err := checkCall(study, currentTrial, p); err != nil {
		return Continue, err
	}

	if currentTrial < p.WarmupSteps {
		return Continue, nil
	}

	values, err := completedValues(study)
	if err != nil {
		return Continue, err
	}

	n := len(values)
	if n <= p.Patience {
		return Continue, nil
	}

	d := study.Direction()
	bestEarly := bestOf(d, values[:p.Patience])
	bestRecent := bestOf(d, values[n-p.Patience:])

	if !stalled(d, bestEarly, bestRecent, p.Epsilon) {
		return Continue, nil
	}

	return e.stop(study, currentTrial, checkPatience, "no improvement within patience",
		slog.Int("patience", p.Patience),
		slog.Float64("best_early", bestEarly),
		slog.Float64("best_recent", bestRecent),
	), nil
}

// CheckPlateau stops the study when its p.K best complete values are all
// within p.Epsilon of each other. Trial order does not matter.
//
// Order of evaluation:
//  1. Completion guard: with p.CompletionPatience set, currentTrial at or
//     past it and no complete trial, StopAndPrune. Warm-up is ignored here.
//  2. Warm-up: Continue while currentTrial < p.WarmupSteps.
//  3. Threshold gate: with p.Threshold set, Continue until the study best
//     value reaches it in the direction of optimization.
//  4. Fewer than p.K complete values: Continue.
//  5. Every pair of the p.K best values close within p.Epsilon: StopAndPrune.
//
// Example, maximizing, K 3, Epsilon 0.001:
//
//	[0.1, 0.701, 0.700, 0.6995, 0.2] -> top [0.701 0.700 0.6995], spread 0.0015 -> Continue
//	[0.1, 0.701, 0.700, 0.7001, 0.2] -> top [0.701 0.7001 0.700], spread 0.001 -> StopAndPrune
func (e *Evaluator) CheckPlateau(study StudyView, currentTrial int, p PlateauParams) (Decision, error) {
	if err := checkCall(study, currentTrial, p); err != nil {
		return Continue, err
	}

	if p.CompletionPatience != nil && currentTrial >= *p.CompletionPatience {
		completed, err := hasCompleted(study)
		if err != nil {
			return Continue, err
		}

		if !completed {
			return e.stop(study, currentTrial, checkPlateau, "no trial completed within completion patience",
				slog.Int("completion_patience", *p.CompletionPatience),
			), nil
		}
	}

	if currentTrial < p.WarmupSteps {
		return Continue, nil
	}

	d := study.Direction()

	if p.Threshold != nil {
		best, err := study.BestValue()

		switch {
		case errors.Is(err, ErrUndefinedBestValue):
			return Continue, nil
		case err != nil:
			return Continue, fmt.Errorf("read best value: %w", err)
		case !reached(d, best, *p.Threshold):
			return Continue, nil
		}
	}

	values, err := completedValues(study)
	if err != nil {
		return Continue, err
	}

	if len(values) < p.K {
		return Continue, nil
	}

	top := topK(d, values, p.K)
	if !allClose(top, p.Epsilon) {
		return Continue, nil
	}

	return e.stop(study, currentTrial, checkPlateau, "plateau of best values",
		slog.Float64("best_value", top[0]),
		slog.Any("top_values", top),
		slog.Any("completed_values", values),
	), nil
}

// stop performs the study transition and reports it. It always returns
// StopAndPrune.
func (e *Evaluator) stop(study StudyView, currentTrial int, check, msg string, attrs ...slog.Attr) Decision {
	study.Stop()

	args := make([]any, 0, len(attrs)+3)
	args = append(args, slog.String("check", check), slog.Int("trial", currentTrial))

	if s, ok := study.(interface{ ID() string }); ok {
		args = append(args, slog.String("study", s.ID()))
	}

	for _, a := range attrs {
		args = append(args, a)
	}

	e.logger.Info(msg, args...)

	return StopAndPrune
}

//////
// Package-level shortcuts.
//////

// CheckNoCompletion runs Evaluator.CheckNoCompletion without logging.
func CheckNoCompletion(study StudyView, currentTrial int, p NoCompletionParams) (Decision, error) {
	return silent.CheckNoCompletion(study, currentTrial, p)
}

// CheckPatience runs Evaluator.CheckPatience without logging.
func CheckPatience(study StudyView, currentTrial int, p PatienceParams) (Decision, error) {
	return silent.CheckPatience(study, currentTrial, p)
}

// CheckPlateau runs Evaluator.CheckPlateau without logging.
func CheckPlateau(study StudyView, currentTrial int, p PlateauParams) (Decision, error) {
	return silent.CheckPlateau(study, currentTrial, p)
}

// silent backs the package-level shortcuts. It is never mutated.
var silent = &Evaluator{logger: logging.Discard()}

//////
// Helpers.
//////

type validatable interface {
	Validate() error
}

func checkCall(study StudyView, currentTrial int, p validatable) error {
	if study == nil {
		return fmt.Errorf("%w: nil study", ErrInvalidConfiguration)
	}

	if currentTrial < 0 {
		return fmt.Errorf("%w: negative trial number %d", ErrInvalidConfiguration, currentTrial)
	}

	if !study.Direction().Valid() {
		return fmt.Errorf("%w: study has unknown direction %q", ErrInvalidConfiguration, study.Direction())
	}

	return p.Validate()
}

// completedValues returns the values of complete trials in execution order,
// validating every trial on the way.
func completedValues(study StudyView) ([]float64, error) {
	trials := study.Trials()
	values := make([]float64, 0, len(trials))

	for _, t := range trials {
		v, ok, err := checkTrial(t)
		if err != nil {
			return nil, err
		}

		if ok {
			values = append(values, v)
		}
	}

	return values, nil
}

// hasCompleted reports whether the study best value is defined.
func hasCompleted(study StudyView) (bool, error) {
	_, err := study.BestValue()

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUndefinedBestValue):
		return false, nil
	default:
		return false, fmt.Errorf("read best value: %w", err)
	}
}
