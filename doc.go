// Package studystop decides when a hyperparameter-optimization study as a
// whole should stop. This is different from per-trial pruning, which stops a
// single trial early.
//
// A host optimization loop calls the checks after each trial has finished
// and its value has been recorded. Each check reads the trial history of the
// study and returns a Decision. On StopAndPrune the check has already moved
// the study to its stopped state; the host discards the current trial and
// schedules no further trials.
//
// # Checks
//
// No-completion guard. Past a warm-up, stops a study in which no trial has
// completed yet (every trial failed or was pruned):
//
//	d, err := CheckNoCompletion(study, trial, NoCompletionParams{WarmupSteps: 3})
//
// Patience monitor. Compares the best of the first Patience complete values
// with the best of the last Patience complete values, in execution order,
// and stops when the recent window does not improve by at least Epsilon:
//
//	d, err := CheckPatience(study, trial, PatienceParams{
//	    WarmupSteps: 10,
//	    Patience:    10,
//	    Epsilon:     DefaultEpsilon,
//	})
//
// Plateau detector. Stops when the K best complete values, regardless of
// when they happened, all lie within Epsilon of each other. Optionally gated
// by a quality Threshold, and optionally guarded by a CompletionPatience
// budget that acts like the no-completion guard:
//
//	d, err := CheckPlateau(study, trial, PlateauParams{
//	    WarmupSteps: 10,
//	    K:           3,
//	    Epsilon:     DefaultEpsilon,
//	})
//
// Every comparison of "best" follows the direction of the study, so
// minimizing studies need no negated values.
//
// # Evaluator
//
// An Evaluator bundles a Config, runs the enabled checks in order and logs
// every stop through log/slog:
//
//	cfg, err := LoadConfig() // STUDYSTOP_* environment variables
//	if err != nil {
//	    return err
//	}
//
//	evaluator, err := NewEvaluator(cfg, WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	d, err := evaluator.Evaluate(study, trial)
//
// # Studies
//
// Checks work on any StudyView. Study is the in-memory implementation used
// by Optimize and the studystop CLI:
//
//	study, _ := NewStudy(Maximize)
//	n, _ := study.AddTrial()
//	_ = study.Complete(n, 0.93)
//
// # Optimize
//
// Optimize is a small Bayesian optimizer (Gaussian Process surrogate plus an
// acquisition function: UCB, ProbabilityOfImprovement, ExpectedImprovement
// or ThompsonSampling) that hosts a study and calls a Stopper after every
// trial:
//
//	config := DefaultOptimizationConfig()
//	config.Stopper = evaluator
//
//	result, err := Optimize(ctx, config, objective,
//	    ParameterRange[float64]{Min: 0.0001, Max: 0.1},
//	)
//
// # Thread Safety
//
// The checks are synchronous and keep no state between calls. The host must
// not call them concurrently for the same study. Study itself is safe for
// concurrent use.
package studystop
