package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/studystop"
	"github.com/thalesfsp/studystop/internal/logging"
)

// options holds everything the subcommands share once flags are parsed.
type options struct {
	configPath string
	logLevel   string
	noColor    bool
	direction  string

	warmup             int
	patience           int
	k                  int
	epsilon            float64
	completionPatience int
	threshold          float64
	disable            []string

	cfg    studystop.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "studystop",
		Short: "Study-level early stopping for hyperparameter optimization",
		Long: `studystop decides whether a hyperparameter-optimization study as a whole
should stop, from the history of its trials.

Checks:
- no_completion: stop when no trial completed after the warm-up
- patience:      stop when the recent trials do not beat the earliest ones
- plateau:       stop when the best K values agree within epsilon

Configuration comes from STUDYSTOP_* environment variables, then the file
given with --config, then flags. The configured direction applies to
histories that do not record their own.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&opts.direction, "direction", "", "maximize or minimize, for histories without a direction")
	flags.IntVar(&opts.warmup, "warmup", 0, "Warm-up trials for every check")
	flags.IntVar(&opts.patience, "patience", 0, "Patience window, in complete trials")
	flags.IntVar(&opts.k, "k", 0, "Number of best values that must agree for a plateau")
	flags.Float64Var(&opts.epsilon, "epsilon", studystop.DefaultEpsilon, "Tolerance for patience and plateau")
	flags.IntVar(&opts.completionPatience, "completion-patience", 0, "Stop the plateau check after this many trials without a completion")
	flags.Float64Var(&opts.threshold, "threshold", 0, "Suppress plateau detection until the best value reaches this")
	flags.StringSliceVar(&opts.disable, "disable", nil, "Checks to disable: no_completion, patience, plateau")

	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newReplayCmd(opts))

	return root
}

// load builds the effective configuration: environment, then file, then
// flags that were explicitly set.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := studystop.LoadConfig()
	if err != nil {
		return err
	}

	if o.configPath != "" {
		data, err := os.ReadFile(o.configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}

	flags := cmd.Flags()

	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}

	if flags.Changed("direction") {
		cfg.Direction = studystop.Direction(o.direction)
	}

	if flags.Changed("warmup") {
		cfg.NoCompletion.WarmupSteps = o.warmup
		cfg.Patience.WarmupSteps = o.warmup
		cfg.Plateau.WarmupSteps = o.warmup
	}

	if flags.Changed("patience") {
		cfg.Patience.Patience = o.patience
	}

	if flags.Changed("k") {
		cfg.Plateau.K = o.k
	}

	if flags.Changed("epsilon") {
		cfg.Patience.Epsilon = o.epsilon
		cfg.Plateau.Epsilon = o.epsilon
	}

	if flags.Changed("completion-patience") {
		v := o.completionPatience
		cfg.Plateau.CompletionPatience = &v
	}

	if flags.Changed("threshold") {
		v := o.threshold
		cfg.Plateau.Threshold = &v
	}

	for _, name := range o.disable {
		switch name {
		case "no_completion":
			cfg.NoCompletion.Enabled = false
		case "patience":
			cfg.Patience.Enabled = false
		case "plateau":
			cfg.Plateau.Enabled = false
		default:
			return fmt.Errorf("unknown check %q", name)
		}
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	if o.noColor {
		color.NoColor = true
	}

	o.cfg = cfg
	o.logger = logging.New(cmd.ErrOrStderr(), level, o.noColor || color.NoColor)

	return nil
}
