package studystop

import (
	"fmt"
	"math"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

//////
// Const, vars, types.
//////

// DefaultEpsilon is the tolerance used by DefaultConfig for improvement and
// approximate-equality comparisons.
const DefaultEpsilon = 0.001

// EnvPrefix is the prefix of every environment variable read by LoadConfig.
const EnvPrefix = "STUDYSTOP_"

// validate is the shared validator instance used across the package.
var validate *validator.Validate

func init() {
	validate = validator.New()

	if err := validate.RegisterValidation("finite", validateFinite); err != nil {
		panic(fmt.Sprintf("failed to register finite validator: %v", err))
	}
}

// validateFinite rejects NaN and infinities, which gte/lte let through or
// mishandle.
func validateFinite(fl validator.FieldLevel) bool {
	v := fl.Field().Float()

	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// NoCompletionParams configures CheckNoCompletion.
type NoCompletionParams struct {
	// Enabled is only consulted by Evaluator.Evaluate.
	Enabled bool `env:"ENABLED" envDefault:"true" yaml:"enabled"`

	// WarmupSteps is the number of trials during which the check is a no-op.
	WarmupSteps int `env:"WARMUP_STEPS" envDefault:"10" yaml:"warmup_steps" validate:"gte=0"`
}

// PatienceParams configures CheckPatience.
type PatienceParams struct {
	// Enabled is only consulted by Evaluator.Evaluate.
	Enabled bool `env:"ENABLED" envDefault:"true" yaml:"enabled"`

	// WarmupSteps is the number of trials during which the check is a no-op.
	WarmupSteps int `env:"WARMUP_STEPS" envDefault:"10" yaml:"warmup_steps" validate:"gte=0"`

	// Patience is the size of both the early and the recent window, counted
	// in complete trials.
	Patience int `env:"WINDOW" envDefault:"10" yaml:"patience" validate:"gte=1"`

	// Epsilon is the minimum improvement the recent window must show.
	Epsilon float64 `env:"EPSILON" envDefault:"0.001" yaml:"epsilon" validate:"finite,gte=0"`
}

// PlateauParams configures CheckPlateau.
type PlateauParams struct {
	// Enabled is only consulted by Evaluator.Evaluate.
	Enabled bool `env:"ENABLED" envDefault:"true" yaml:"enabled"`

	// WarmupSteps is the number of trials during which the check is a no-op.
	WarmupSteps int `env:"WARMUP_STEPS" envDefault:"10" yaml:"warmup_steps" validate:"gte=0"`

	// K is how many of the best values have to agree.
	K int `env:"K" envDefault:"3" yaml:"k" validate:"gte=2"`

	// Epsilon is the absolute tolerance for two values to count as equal.
	Epsilon float64 `env:"EPSILON" envDefault:"0.001" yaml:"epsilon" validate:"finite,gte=0"`

	// CompletionPatience, when set, stops the study once this many trials
	// ran without any of them completing. Applies during warm-up too.
	CompletionPatience *int `env:"COMPLETION_PATIENCE" yaml:"completion_patience,omitempty" validate:"omitempty,gte=0"`

	// Threshold, when set, suppresses plateau detection until the study best
	// value reaches it in the direction of optimization.
	Threshold *float64 `env:"THRESHOLD" yaml:"threshold,omitempty" validate:"omitempty,finite"`
}

// Config bundles the configuration of every check plus the settings a host
// needs to create a study.
//
// Usage example:
//
//	cfg := DefaultConfig()
//	cfg.Patience.Patience = 5
//	cfg.Plateau.K = 4
//
//	evaluator, err := NewEvaluator(cfg, WithLogger(logger))
type Config struct {
	// Direction of the studies this configuration is used with. The checks
	// read the direction of the study itself; hosts use this one to create
	// studies and to read histories that do not record a direction.
	Direction Direction `env:"DIRECTION" envDefault:"maximize" yaml:"direction" validate:"oneof=maximize minimize"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level" validate:"oneof=debug info warn error"`

	NoCompletion NoCompletionParams `envPrefix:"NO_COMPLETION_" yaml:"no_completion"`
	Patience     PatienceParams     `envPrefix:"PATIENCE_" yaml:"patience"`
	Plateau      PlateauParams      `envPrefix:"PLATEAU_" yaml:"plateau"`
}

//////
// Exported functionalities.
//////

// DefaultConfig returns a configuration with every check enabled, a warm-up
// of 10 trials, a patience of 10, K of 3 and DefaultEpsilon as tolerance.
func DefaultConfig() Config {
	return Config{
		Direction: Maximize,
		LogLevel:  "info",
		NoCompletion: NoCompletionParams{
			Enabled:     true,
			WarmupSteps: 10,
		},
		Patience: PatienceParams{
			Enabled:     true,
			WarmupSteps: 10,
			Patience:    10,
			Epsilon:     DefaultEpsilon,
		},
		Plateau: PlateauParams{
			Enabled:     true,
			WarmupSteps: 10,
			K:           3,
			Epsilon:     DefaultEpsilon,
		},
	}
}

// LoadConfig reads a Config from STUDYSTOP_* environment variables, falling
// back to the same defaults as DefaultConfig, and validates it.
//
// Returns:
// - Config: the loaded configuration
// - error: ErrInvalidConfiguration when a variable does not parse or the
//   result does not validate
//
// Variables:
//
//	STUDYSTOP_DIRECTION, STUDYSTOP_LOG_LEVEL
//	STUDYSTOP_NO_COMPLETION_{ENABLED,WARMUP_STEPS}
//	STUDYSTOP_PATIENCE_{ENABLED,WARMUP_STEPS,WINDOW,EPSILON}
//	STUDYSTOP_PLATEAU_{ENABLED,WARMUP_STEPS,K,EPSILON,COMPLETION_PATIENCE,THRESHOLD}
func LoadConfig() (Config, error) {
	var cfg Config

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks every field of the configuration, nested parameters
// included. Failures wrap ErrInvalidConfiguration and a
// validator.ValidationErrors naming the offending fields.
func (c Config) Validate() error {
	return validateStruct(c)
}

// Validate checks the parameters of CheckNoCompletion.
func (p NoCompletionParams) Validate() error {
	return validateStruct(p)
}

// Validate checks the parameters of CheckPatience.
func (p PatienceParams) Validate() error {
	return validateStruct(p)
}

// Validate checks the parameters of CheckPlateau.
func (p PlateauParams) Validate() error {
	return validateStruct(p)
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	return nil
}
