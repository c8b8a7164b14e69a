package assignment

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/swarmctl/internal/model"
)

func worker(id byte, priority int, skills ...string) model.WorkerView {
	set := make(map[string]bool, len(skills))
	for _, s := range skills {
		set[s] = true
	}
	var u uuid.UUID
	u[15] = id
	return model.WorkerView{ID: u, Priority: priority, Skills: set}
}

func TestPickEmptyPool(t *testing.T) {
	_, err := New().Pick([]string{"backend"}, nil)
	require.ErrorIs(t, err, ErrNoAvailableWorkers)
}

func TestPickNoRequiredSkillsTiesOnPriorityThenID(t *testing.T) {
	low := worker(1, 5)
	high := worker(2, 9)
	tie := worker(3, 9)

	got, err := New().Pick(nil, []model.WorkerView{low, high, tie})
	require.NoError(t, err)
	require.Equal(t, high.ID, got.ID, "highest priority should win")

	got, err = New().Pick(nil, []model.WorkerView{tie, high})
	require.NoError(t, err)
	require.Equal(t, high.ID, got.ID, "lowest id should break a priority tie")
}

func TestPickScoresBySkillIntersection(t *testing.T) {
	backendOnly := worker(1, 0, "backend")
	fullStack := worker(2, 0, "backend", "frontend")

	got, err := New().Pick([]string{"backend", "frontend"}, []model.WorkerView{backendOnly, fullStack})
	require.NoError(t, err)
	require.Equal(t, fullStack.ID, got.ID)
}

func TestPickReturnsZeroScoreWorkerWhenItIsOnlyOption(t *testing.T) {
	noMatch := worker(1, 0, "documentation")

	got, err := New().Pick([]string{"backend"}, []model.WorkerView{noMatch})
	require.NoError(t, err)
	require.Equal(t, noMatch.ID, got.ID, "a zero-scoring worker is still a valid assignment when it's the only option")
}

func TestPickScoreTieBreaksOnPriorityThenID(t *testing.T) {
	a := worker(1, 1, "backend")
	b := worker(2, 5, "backend")

	got, err := New().Pick([]string{"backend"}, []model.WorkerView{a, b})
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)
}
