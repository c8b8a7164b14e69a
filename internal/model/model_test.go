package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsensusThresholdFor(t *testing.T) {
	cases := []struct {
		reviewers int
		want      int
	}{
		{0, 1},
		{1, 1},
		{3, 1},
		{4, 3},
		{5, 3},
		{7, 5},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ConsensusThresholdFor(c.reviewers), "N=%d", c.reviewers)
	}
}

func TestExecutionStatusTerminal(t *testing.T) {
	terminal := []ExecutionStatus{ExecutionCompleted, ExecutionFailed, ExecutionCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s.String())
	}
	nonTerminal := []ExecutionStatus{ExecutionPlanning, ExecutionPlanned, ExecutionExecuting, ExecutionReviewing, ExecutionMerging}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), s.String())
	}
}

func TestSubTaskStatusTerminal(t *testing.T) {
	assert.True(t, SubTaskCompleted.IsTerminal())
	assert.True(t, SubTaskSkipped.IsTerminal())
	assert.True(t, SubTaskFailed.IsTerminal())
	assert.False(t, SubTaskPending.IsTerminal())
	assert.False(t, SubTaskBlocked.IsTerminal())
	assert.False(t, SubTaskAssigned.IsTerminal())
	assert.False(t, SubTaskRunning.IsTerminal())
}

func TestDurationSecondsRequiresBothTimestamps(t *testing.T) {
	var st SubTask
	require.Zero(t, st.DurationSeconds())

	start := time.Now()
	st.StartedAt = &start
	require.Zero(t, st.DurationSeconds(), "no CompletedAt yet")

	end := start.Add(90 * time.Second)
	st.CompletedAt = &end
	require.InDelta(t, 90, st.DurationSeconds(), 0.001)
}

func TestDependenciesSatisfied(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	status := map[uuid.UUID]SubTaskStatus{a: SubTaskCompleted, b: SubTaskRunning}

	assert.True(t, DependenciesSatisfied(nil, status), "empty depends_on is trivially satisfied")
	assert.True(t, DependenciesSatisfied([]uuid.UUID{a}, status))
	assert.False(t, DependenciesSatisfied([]uuid.UUID{a, b}, status))
}

func TestWireValuesAreStableLowercase(t *testing.T) {
	assert.Equal(t, "executing", ExecutionExecuting.String())
	assert.Equal(t, "running", SubTaskRunning.String())
	assert.Equal(t, "approve", VoteApprove.String())
	assert.Equal(t, "moderate", ComplexityModerate.String())
}
