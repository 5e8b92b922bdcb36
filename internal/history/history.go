// Package history reads and writes recorded study histories as YAML, so
// stopping decisions can be checked and replayed outside a live optimizer.
//
// Format:
//
//	direction: maximize
//	trials:
//	  - state: COMPLETE
//	    value: 0.71
//	  - state: FAILED
//	  - state: PRUNED
package history

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/studystop"
)

// ErrInvalidHistory is wrapped by every decoding and building error.
var ErrInvalidHistory = errors.New("invalid history")

// History is a recorded study.
type History struct {
	Direction studystop.Direction `yaml:"direction"`
	Trials    []Trial             `yaml:"trials"`
}

// Trial is one recorded trial. Number is optional; when present it must
// match the position of the trial.
type Trial struct {
	Number *int                 `yaml:"number,omitempty"`
	State  studystop.TrialState `yaml:"state"`
	Value  *float64             `yaml:"value,omitempty"`
}

// Load reads the history stored at path. See Decode for fallback.
func Load(path string, fallback studystop.Direction) (History, error) {
	f, err := os.Open(path)
	if err != nil {
		return History{}, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	return Decode(f, fallback)
}

// Decode reads one YAML history from r.
//
// A history without a direction line takes fallback, which is usually the
// configured Config.Direction. An empty fallback means Maximize.
func Decode(r io.Reader, fallback studystop.Direction) (History, error) {
	var h History

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&h); err != nil {
		return History{}, fmt.Errorf("%w: %w", ErrInvalidHistory, err)
	}

	if h.Direction == "" {
		h.Direction = fallback
	}

	if h.Direction == "" {
		h.Direction = studystop.Maximize
	}

	return h, nil
}

// Encode writes h to w as YAML.
func Encode(w io.Writer, h History) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	return enc.Close()
}

// FromStudy records every trial of s.
func FromStudy(s studystop.StudyView) History {
	h := History{Direction: s.Direction()}

	for _, t := range s.Trials() {
		n := t.Number()
		rec := Trial{Number: &n, State: t.State()}

		if v, ok := t.Value(); ok {
			rec.Value = &v
		}

		h.Trials = append(h.Trials, rec)
	}

	return h
}

// Study rebuilds the whole history into a fresh study.
func (h History) Study() (*studystop.Study, error) {
	study, err := studystop.NewStudy(h.Direction)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHistory, err)
	}

	for i, t := range h.Trials {
		if err := add(study, i, t); err != nil {
			return nil, err
		}
	}

	return study, nil
}

// Replay rebuilds the history one trial at a time and calls fn after each
// trial was added, like a host optimizer would after a trial finished.
// Replay ends early when fn returns StopAndPrune, and returns the number of
// the trial that stopped it, or -1.
func (h History) Replay(fn func(study *studystop.Study, trial int) (studystop.Decision, error)) (*studystop.Study, int, error) {
	study, err := studystop.NewStudy(h.Direction)
	if err != nil {
		return nil, -1, fmt.Errorf("%w: %w", ErrInvalidHistory, err)
	}

	for i, t := range h.Trials {
		if err := add(study, i, t); err != nil {
			return study, -1, err
		}

		d, err := fn(study, i)
		if err != nil {
			return study, -1, fmt.Errorf("trial %d: %w", i, err)
		}

		if d == studystop.StopAndPrune {
			if t.State != studystop.Failed {
				if err := study.Prune(i); err != nil {
					return study, i, err
				}
			}

			return study, i, nil
		}
	}

	return study, -1, nil
}

func add(study *studystop.Study, i int, t Trial) error {
	if t.Number != nil && *t.Number != i {
		return fmt.Errorf("%w: trial at position %d is numbered %d", ErrInvalidHistory, i, *t.Number)
	}

	if !t.State.Valid() {
		return fmt.Errorf("%w: trial %d has unknown state %q", ErrInvalidHistory, i, t.State)
	}

	if t.State == studystop.Running {
		if t.Value != nil {
			return fmt.Errorf("%w: running trial %d carries a value", ErrInvalidHistory, i)
		}

		if _, err := study.AddTrial(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidHistory, err)
		}

		return nil
	}

	if _, err := study.Append(t.State, t.Value); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidHistory, err)
	}

	return nil
}
