package imports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeProgress(t *testing.T) {
	// No work discovered yet.
	assert.Equal(t, 0.0, ComputeProgress(0, 0, 0, 0))

	// Pure message progress.
	assert.Equal(t, 0.5, ComputeProgress(10, 5, 0, 0))
	assert.Equal(t, 1.0, ComputeProgress(10, 10, 0, 0))

	// Downstream backlog holds completion back.
	assert.Equal(t, 0.5, ComputeProgress(10, 10, 10, 0))
	assert.Equal(t, 1.0, ComputeProgress(10, 10, 10, 10))

	// Clamped against bad inputs.
	assert.Equal(t, 1.0, ComputeProgress(10, 15, 0, 0))
}

func TestBuildSummary(t *testing.T) {
	counts := ItemCounts{Pending: 1, Processing: 2, Done: 5, Failed: 3, Canceled: 1}

	failures := []*Item{
		{ExternalID: "m1", Step: StepSaved, Error: "boom", Attempts: 1},
		{ExternalID: "m2", Step: StepFetched, Error: "bang", Attempts: 2},
	}

	summary := BuildSummary(counts, failures)
	assert.Equal(t, 12, summary.TotalDiscovered)
	assert.Equal(t, 5, summary.Done)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 1, summary.Canceled)
	assert.Equal(t, 3, summary.Unprocessed)
	require.Len(t, summary.Failures, 2)
	assert.Equal(t, "m1", summary.Failures[0].ExternalID)
	assert.Equal(t, "saved", summary.Failures[0].Step)
}

func TestBuildSummaryCapsFailureList(t *testing.T) {
	var failures []*Item
	for i := 0; i < maxFailureSamples+10; i++ {
		failures = append(failures, &Item{ExternalID: "m", Error: "x"})
	}

	summary := BuildSummary(ItemCounts{Failed: len(failures)}, failures)
	assert.Len(t, summary.Failures, maxFailureSamples)
}

func TestSummaryRoundTrip(t *testing.T) {
	s := &Summary{TotalDiscovered: 4, Done: 3, Failed: 1,
		Failures: []FailureDetail{{ExternalID: "m1", Step: "parsed", Error: "bad mime"}}}

	encoded, err := MarshalSummary(s)
	require.NoError(t, err)

	decoded, err := UnmarshalSummary(encoded)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)

	// Nil and empty round to nothing.
	encoded, err = MarshalSummary(nil)
	require.NoError(t, err)
	assert.Empty(t, encoded)
	decoded, err = UnmarshalSummary("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestNextStepAndIndex(t *testing.T) {
	assert.Equal(t, StepFetched, NextStep(StepNone))
	assert.Equal(t, StepSaved, NextStep(StepFetched))
	assert.Equal(t, ItemStep(""), NextStep(StepPersisted))

	assert.Equal(t, -1, StepIndex(StepNone))
	assert.Equal(t, 0, StepIndex(StepFetched))
	assert.Equal(t, len(StepSequence)-1, StepIndex(StepPersisted))
}
