package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/studystop"
	"github.com/thalesfsp/studystop/internal/history"
)

func newReplayCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "replay <history.yaml>",
		Short: "Replay a recorded study trial by trial and report where it would stop",
		Long: `Replay a recorded study one trial at a time, running the enabled checks
after each trial like a live optimizer would.

With --output, the replayed study is written back as YAML: trials after
the stop are dropped and the stopping trial is marked PRUNED.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := history.Load(args[0], opts.cfg.Direction)
			if err != nil {
				return err
			}

			return runReplay(cmd.OutOrStdout(), opts, h, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the replayed study to this YAML file")

	return cmd
}

func runReplay(w io.Writer, opts *options, h history.History, output string) error {
	evaluator, err := studystop.NewEvaluator(opts.cfg, studystop.WithLogger(opts.logger))
	if err != nil {
		return err
	}

	study, stoppedAt, err := h.Replay(func(s *studystop.Study, trial int) (studystop.Decision, error) {
		return evaluator.Evaluate(s, trial)
	})
	if err != nil {
		return err
	}

	if stoppedAt < 0 {
		color.New(color.FgGreen).Fprintf(w, "study would not stop: all %d trials ran\n", len(h.Trials))
	} else {
		saved := len(h.Trials) - stoppedAt - 1
		color.New(color.FgRed).Fprintf(w, "study would stop at trial %d, saving %d of %d trials\n", stoppedAt, saved, len(h.Trials))
	}

	if best, err := study.BestValue(); err == nil {
		fmt.Fprintf(w, "best value: %g\n", best)
	} else {
		fmt.Fprintln(w, "best value: undefined")
	}

	if output == "" {
		return nil
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	return history.Encode(f, history.FromStudy(study))
}
