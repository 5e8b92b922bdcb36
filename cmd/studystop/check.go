package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/studystop"
	"github.com/thalesfsp/studystop/internal/history"
)

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check <history.yaml>",
		Short: "Evaluate every check at the last trial of a recorded study",
		Long: `Evaluate the no_completion, patience and plateau checks against a recorded
study, as if its last trial had just finished.

Each check is run on its own copy of the study, so one check stopping the
study does not influence the others. The combined decision runs the enabled
checks in order and stops at the first StopAndPrune.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := history.Load(args[0], opts.cfg.Direction)
			if err != nil {
				return err
			}

			return runCheck(cmd.OutOrStdout(), opts, h)
		},
	}
}

func runCheck(w io.Writer, opts *options, h history.History) error {
	if len(h.Trials) == 0 {
		return errors.New("history has no trials")
	}

	evaluator, err := studystop.NewEvaluator(opts.cfg, studystop.WithLogger(opts.logger))
	if err != nil {
		return err
	}

	current := len(h.Trials) - 1
	cfg := evaluator.Config()

	checks := []struct {
		name    string
		enabled bool
		run     func(studystop.StudyView) (studystop.Decision, error)
	}{
		{"no_completion", cfg.NoCompletion.Enabled, func(s studystop.StudyView) (studystop.Decision, error) {
			return evaluator.CheckNoCompletion(s, current, cfg.NoCompletion)
		}},
		{"patience", cfg.Patience.Enabled, func(s studystop.StudyView) (studystop.Decision, error) {
			return evaluator.CheckPatience(s, current, cfg.Patience)
		}},
		{"plateau", cfg.Plateau.Enabled, func(s studystop.StudyView) (studystop.Decision, error) {
			return evaluator.CheckPlateau(s, current, cfg.Plateau)
		}},
		{"combined", true, func(s studystop.StudyView) (studystop.Decision, error) {
			return evaluator.Evaluate(s, current)
		}},
	}

	fmt.Fprintf(w, "study: %s, %d trials, current trial %d\n", h.Direction, len(h.Trials), current)

	for _, c := range checks {
		if !c.enabled {
			printDecision(w, c.name, "disabled", color.FgHiBlack)

			continue
		}

		study, err := h.Study()
		if err != nil {
			return err
		}

		d, err := c.run(study)
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}

		printDecision(w, c.name, d.String(), decisionColor(d))
	}

	return nil
}

func decisionColor(d studystop.Decision) color.Attribute {
	if d == studystop.StopAndPrune {
		return color.FgRed
	}

	return color.FgGreen
}

func printDecision(w io.Writer, name, decision string, attr color.Attribute) {
	fmt.Fprintf(w, "  %-14s ", name)
	color.New(attr).Fprintln(w, decision)
}
