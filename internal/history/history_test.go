package history

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thalesfsp/studystop"
)

const sample = `direction: minimize
trials:
  - state: FAILED
  - state: COMPLETE
    value: 0.42
  - number: 2
    state: PRUNED
  - state: COMPLETE
    value: 0.40
`

func TestDecodeAndBuildStudy(t *testing.T) {
	h, err := Decode(strings.NewReader(sample), "")
	require.NoError(t, err)

	assert.Equal(t, studystop.Minimize, h.Direction)
	require.Len(t, h.Trials, 4)

	study, err := h.Study()
	require.NoError(t, err)
	assert.Equal(t, 4, study.Len())

	best, err := study.BestValue()
	require.NoError(t, err)
	assert.Equal(t, 0.40, best)
}

func TestDecodeDirectionFallback(t *testing.T) {
	h, err := Decode(strings.NewReader("trials: []\n"), "")
	require.NoError(t, err)
	assert.Equal(t, studystop.Maximize, h.Direction)

	h, err = Decode(strings.NewReader("trials: []\n"), studystop.Minimize)
	require.NoError(t, err)
	assert.Equal(t, studystop.Minimize, h.Direction)

	// An explicit direction wins over the fallback.
	h, err = Decode(strings.NewReader("direction: maximize\ntrials: []\n"), studystop.Minimize)
	require.NoError(t, err)
	assert.Equal(t, studystop.Maximize, h.Direction)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader("direction: maximize\nepsilon: 0.1\n"), "")
	assert.ErrorIs(t, err, ErrInvalidHistory)
}

func TestStudyRejectsBrokenHistories(t *testing.T) {
	tests := map[string]string{
		"complete without value": "trials:\n  - state: COMPLETE\n",
		"failed with value":      "trials:\n  - state: FAILED\n    value: 1\n",
		"unknown state":          "trials:\n  - state: WAITING\n",
		"misnumbered":            "trials:\n  - number: 3\n    state: FAILED\n",
		"unknown direction":      "direction: sideways\ntrials: []\n",
	}

	for name, doc := range tests {
		h, err := Decode(strings.NewReader(doc), "")
		require.NoError(t, err, name)

		_, err = h.Study()
		assert.ErrorIs(t, err, ErrInvalidHistory, name)
	}
}

func TestRoundTripThroughFile(t *testing.T) {
	h, err := Decode(strings.NewReader(sample), "")
	require.NoError(t, err)

	study, err := h.Study()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FromStudy(study)))

	path := filepath.Join(t.TempDir(), "study.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := Load(path, "")
	require.NoError(t, err)

	rebuilt, err := loaded.Study()
	require.NoError(t, err)

	assert.Equal(t, study.Direction(), rebuilt.Direction())
	assert.Equal(t, study.Trials(), rebuilt.Trials())
}

func TestReplayStopsAtFirstStop(t *testing.T) {
	h := History{Direction: studystop.Maximize}
	for _, v := range []float64{0.2, 0.5, 0.5, 0.5, 0.9} {
		v := v
		h.Trials = append(h.Trials, Trial{State: studystop.Complete, Value: &v})
	}

	params := studystop.PlateauParams{K: 3, Epsilon: studystop.DefaultEpsilon}

	study, stoppedAt, err := h.Replay(func(s *studystop.Study, trial int) (studystop.Decision, error) {
		return studystop.CheckPlateau(s, trial, params)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, stoppedAt)
	assert.Equal(t, 4, study.Len())
	assert.True(t, study.Stopped())

	last, err := study.Trial(3)
	require.NoError(t, err)
	assert.Equal(t, studystop.Pruned, last.State())
}

func TestReplayWithoutStop(t *testing.T) {
	h, err := Decode(strings.NewReader(sample), "")
	require.NoError(t, err)

	calls := 0

	study, stoppedAt, err := h.Replay(func(*studystop.Study, int) (studystop.Decision, error) {
		calls++

		return studystop.Continue, nil
	})
	require.NoError(t, err)

	assert.Equal(t, -1, stoppedAt)
	assert.Equal(t, 4, calls)
	assert.False(t, study.Stopped())
}
