package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	for _, s := range []string{"manual", "fireflies", "fathom"} {
		src, err := ParseSource(s)
		require.NoError(t, err)
		assert.Equal(t, Source(s), src)
	}
	_, err := ParseSource("zoom")
	assert.Error(t, err)
}

func TestSource_Pull(t *testing.T) {
	assert.False(t, SourceManual.Pull())
	assert.True(t, SourceFireflies.Pull())
	assert.True(t, SourceFathom.Pull())
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.False(t, Status("running").Valid())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestSteps_AreOrderedCheckpoints(t *testing.T) {
	steps := []Step{StepFetch, StepClassify, StepCompany, StepContent, StepExtract, StepMaterials, StepFiling, StepDone}
	want := []int{10, 25, 40, 60, 75, 85, 95, 100}
	for i, s := range steps {
		assert.Equal(t, want[i], s.Progress())
		assert.NotContains(t, s.String(), "step ", "checkpoint %d needs a name", s)
	}
	assert.Equal(t, "step 42", Step(42).String())
}
