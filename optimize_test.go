package studystop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// Sample objective: a smooth bump peaking at bufferSize 64, multiplier 2.
func bufferScore(bufferSize, multiplier float64) float64 {
	return -math.Pow((bufferSize-64)/64, 2) - math.Pow(multiplier-2, 2)
}

func smallConfig() OptimizationConfig {
	config := DefaultOptimizationConfig()

	// The following isn't necessary, this is just exist for testing purposes.
	config.InitialSamples = 3
	config.Iterations = 5
	config.NumCandidates = 10
	config.Stopper = nil

	return config
}

func TestOptimizeRunsWholeBudget(t *testing.T) {
	config := smallConfig()

	ranges := []ParameterRange[float64]{
		{Min: 1, Max: 128}, // Buffer size
		{Min: 1, Max: 3},   // Multiplier
	}

	result, err := Optimize(context.Background(), config,
		func(params ...float64) (float64, error) {
			return bufferScore(params[0], params[1]), nil
		},
		ranges...,
	)
	require.NoError(t, err)

	assert.Equal(t, config.InitialSamples+config.Iterations, result.Study.Len())
	assert.False(t, result.Stopped)
	require.True(t, result.HasBest)
	require.Len(t, result.BestParams, 2)

	for i, p := range result.BestParams {
		assert.GreaterOrEqual(t, p, ranges[i].Min)
		assert.LessOrEqual(t, p, ranges[i].Max)
	}

	best, err := result.Study.BestValue()
	require.NoError(t, err)
	assert.Equal(t, best, result.BestValue)
	assert.InDelta(t, bufferScore(result.BestParams[0], result.BestParams[1]), result.BestValue, 1e-9)
}

func TestOptimizeProgressChannel(t *testing.T) {
	config := smallConfig()

	// Create a bidirectional channel for progress updates
	progressChan := make(chan ProgressUpdate, config.InitialSamples+config.Iterations)

	config.ProgressChan = progressChan

	_, err := Optimize(context.Background(), config,
		func(params ...int) (float64, error) {
			return float64(params[0] * params[1]), nil
		},
		ParameterRange[int]{Min: 1024, Max: 1048576}, // Buffer size (1KB to 1MB).
		ParameterRange[int]{Min: 1, Max: 32},         // Worker count.
	)
	require.NoError(t, err)
	close(progressChan)

	var counter int32

	phases := map[string]int{}

	for update := range progressChan {
		atomic.AddInt32(&counter, 1)

		phases[update.Phase]++

		assert.Equal(t, Complete, update.State)
		assert.True(t, update.HasBest)
		assert.Equal(t, Continue, update.Decision)
	}

	assert.Equal(t, int32(config.InitialSamples+config.Iterations), atomic.LoadInt32(&counter))
	assert.Equal(t, config.InitialSamples, phases[phaseInitialSampling])
	assert.Equal(t, config.Iterations, phases[phaseOptimization])
}

func TestOptimizeStopsOnPlateau(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoCompletion.Enabled = false
	cfg.Patience.Enabled = false
	cfg.Plateau.WarmupSteps = 0
	cfg.Plateau.K = 3

	evaluator, err := NewEvaluator(cfg)
	require.NoError(t, err)

	config := smallConfig()
	config.Stopper = evaluator

	progressChan := make(chan ProgressUpdate, config.InitialSamples+config.Iterations)
	config.ProgressChan = progressChan

	// Every trial scores the same, so the third one completes a plateau.
	result, err := Optimize(context.Background(), config,
		func(params ...float64) (float64, error) { return 0.5, nil },
		ParameterRange[float64]{Min: 0, Max: 1},
	)
	require.NoError(t, err)
	close(progressChan)

	assert.True(t, result.Stopped)
	assert.Equal(t, 2, result.StoppedAt)
	assert.Equal(t, 3, result.Study.Len())
	assert.True(t, result.Study.Stopped())

	last, err := result.Study.Trial(2)
	require.NoError(t, err)
	assert.Equal(t, Pruned, last.State())

	var updates []ProgressUpdate
	for u := range progressChan {
		updates = append(updates, u)
	}

	require.Len(t, updates, 3)
	assert.Equal(t, StopAndPrune, updates[2].Decision)
	assert.Equal(t, Pruned, updates[2].State)
}

func TestOptimizeStopsWhenNothingCompletes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NoCompletion.WarmupSteps = 4
	cfg.Patience.Enabled = false
	cfg.Plateau.Enabled = false

	evaluator, err := NewEvaluator(cfg)
	require.NoError(t, err)

	config := smallConfig()
	config.Stopper = evaluator

	var calls int32

	result, err := Optimize(context.Background(), config,
		func(params ...int) (float64, error) {
			if atomic.AddInt32(&calls, 1)%2 == 0 {
				return 0, ErrPruneTrial
			}

			return 0, errors.New("out of memory")
		},
		ParameterRange[int]{Min: 1, Max: 10},
	)
	require.NoError(t, err)

	assert.True(t, result.Stopped)
	assert.Equal(t, 4, result.StoppedAt)
	assert.False(t, result.HasBest)
	assert.Nil(t, result.BestParams)

	states := map[TrialState]int{}
	for _, tr := range result.Study.Trials() {
		states[tr.State()]++
	}

	assert.Equal(t, map[TrialState]int{Failed: 3, Pruned: 2}, states)
}

func TestOptimizeMinimize(t *testing.T) {
	config := smallConfig()
	config.Direction = Minimize
	config.AcquisitionFunc = ExpectedImprovement
	config.RateLimiter = rate.NewLimiter(rate.Inf, 1)

	result, err := Optimize(context.Background(), config,
		func(params ...int) (float64, error) {
			return math.Pow(float64(params[0]-3), 2), nil
		},
		ParameterRange[int]{Min: 0, Max: 6},
	)
	require.NoError(t, err)
	require.True(t, result.HasBest)

	for _, tr := range result.Study.Trials() {
		v, ok := tr.Value()
		require.True(t, ok)
		assert.LessOrEqual(t, result.BestValue, v)
	}

	require.Len(t, result.BestParams, 1)
	assert.Equal(t, math.Pow(float64(result.BestParams[0]-3), 2), result.BestValue)
}

func TestOptimizeStopperErrorPropagates(t *testing.T) {
	boom := errors.New("broken integration")

	config := smallConfig()
	config.Stopper = StopperFunc(func(StudyView, int) (Decision, error) { return Continue, boom })

	result, err := Optimize(context.Background(), config,
		func(params ...float64) (float64, error) { return params[0], nil },
		ParameterRange[float64]{Min: 0, Max: 1},
	)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, result.Study.Len())
}

func TestRunTrialRecordsOutcome(t *testing.T) {
	tests := map[string]struct {
		value     float64
		err       error
		wantState TrialState
		wantValue float64
	}{
		"complete":       {value: 0.5, wantState: Complete, wantValue: 0.5},
		"pruned":         {err: ErrPruneTrial, wantState: Pruned},
		"wrapped pruned": {err: fmt.Errorf("epoch 3: %w", ErrPruneTrial), wantState: Pruned},
		"failed":         {err: errors.New("out of memory"), wantState: Failed},
		"not a number":   {value: math.NaN(), wantState: Failed},
		"infinite":       {value: math.Inf(-1), wantState: Failed},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			study, err := NewStudy(Maximize)
			require.NoError(t, err)

			n, err := study.AddTrial(1)
			require.NoError(t, err)

			state, value, err := runTrial(study, n, func(...float64) (float64, error) {
				return tt.value, tt.err
			}, []float64{1})
			require.NoError(t, err)

			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantValue, value)

			recorded, err := study.Trial(n)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, recorded.State())
		})
	}
}

func TestRunTrialReportsUnrecordableOutcome(t *testing.T) {
	study, err := NewStudy(Maximize)
	require.NoError(t, err)

	n, err := study.AddTrial(1)
	require.NoError(t, err)
	require.NoError(t, study.Complete(n, 0.5))

	// The trial already finished, so the failure cannot be recorded.
	state, _, err := runTrial(study, n, func(...float64) (float64, error) {
		return 0, errors.New("out of memory")
	}, []float64{1})
	assert.Equal(t, Failed, state)
	assert.ErrorIs(t, err, ErrTrialFinished)

	_, _, err = runTrial(study, 7, func(...float64) (float64, error) {
		return 1, nil
	}, []float64{1})
	assert.ErrorIs(t, err, ErrUnknownTrial)
}

func TestOptimizeHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Optimize(ctx, smallConfig(),
		func(params ...float64) (float64, error) { return params[0], nil },
		ParameterRange[float64]{Min: 0, Max: 1},
	)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Study.Len())
}

func TestOptimizeRejectsInvalidConfig(t *testing.T) {
	objective := ObjectiveFunc[float64](func(params ...float64) (float64, error) { return 0, nil })

	_, err := Optimize(context.Background(), smallConfig(), objective)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Optimize(context.Background(), smallConfig(), objective, ParameterRange[float64]{Min: 2, Max: 1})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Optimize[float64](context.Background(), smallConfig(), nil, ParameterRange[float64]{Min: 0, Max: 1})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	config := smallConfig()
	config.Direction = "sideways"
	_, err = Optimize(context.Background(), config, objective, ParameterRange[float64]{Min: 0, Max: 1})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestSampleParamsStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	ints := []ParameterRange[int]{{Min: 2, Max: 4}, {Min: -3, Max: -3}}
	seen := map[int]bool{}

	for i := 0; i < 500; i++ {
		p := sampleParams(rng, ints)

		assert.GreaterOrEqual(t, p[0], 2)
		assert.LessOrEqual(t, p[0], 4)
		assert.Equal(t, -3, p[1])

		seen[p[0]] = true
	}

	assert.Len(t, seen, 3, "both bounds of an integer range are reachable")

	floats := []ParameterRange[float32]{{Min: 0.5, Max: 0.75}}
	for i := 0; i < 500; i++ {
		p := sampleParams(rng, floats)

		assert.GreaterOrEqual(t, p[0], float32(0.5))
		assert.LessOrEqual(t, p[0], float32(0.75))
	}
}
