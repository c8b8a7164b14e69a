// Package storetest is a conformance suite shared by memstore and sqlstore:
// both backends must satisfy the same store.Store semantics, so the
// behavioral tests live here once and each backend's _test.go just calls
// Run against its own constructor.
package storetest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/swarmctl/internal/model"
	"github.com/bazelment/swarmctl/internal/store"
)

// Run exercises every store.Store method against a fresh instance returned
// by newStore for each subtest.
func Run(t *testing.T, newStore func() store.Store) {
	t.Helper()

	t.Run("ExecutionCRUD", func(t *testing.T) { testExecutionCRUD(t, newStore()) })
	t.Run("SubTaskLifecycleAndReadiness", func(t *testing.T) { testSubTaskLifecycleAndReadiness(t, newStore()) })
	t.Run("AllTerminalExcludesFailed", func(t *testing.T) { testAllTerminalExcludesFailed(t, newStore()) })
	t.Run("AgentProfilesAndSkills", func(t *testing.T) { testAgentProfilesAndSkills(t, newStore()) })
	t.Run("ReviewsAndRounds", func(t *testing.T) { testReviewsAndRounds(t, newStore()) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newStore()) })
}

func testExecutionCRUD(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := &model.Execution{Status: model.ExecutionPlanning, ReviewerCount: 3, ConsensusThreshold: 1, MaxParallelWorkers: 3}
	require.NoError(t, st.CreateExecution(ctx, e))
	require.NotEqual(t, uuid.Nil, e.ID, "the store must mint an ID when the caller leaves it nil")

	got, err := st.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionPlanning, got.Status)

	require.NoError(t, st.UpdateExecutionStatus(ctx, e.ID, model.ExecutionPlanned))
	got, err = st.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionPlanned, got.Status)
	require.NotNil(t, got.PlannedAt)

	require.NoError(t, st.SetPlannerOutput(ctx, e.ID, `{"subtasks":[]}`))
	got, err = st.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, `{"subtasks":[]}`, got.PlannerOutput)

	require.NoError(t, st.SetExecutionError(ctx, e.ID, "boom"))
	got, err = st.GetExecution(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	require.Equal(t, "boom", *got.ErrorMessage)

	n, err := st.IncrementApproval(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = st.IncrementApproval(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = st.IncrementRejection(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func testSubTaskLifecycleAndReadiness(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := &model.Execution{Status: model.ExecutionExecuting, MaxParallelWorkers: 3}
	require.NoError(t, st.CreateExecution(ctx, e))

	a := &model.SubTask{ExecutionID: e.ID, TaskID: uuid.New(), Status: model.SubTaskPending, SequenceOrder: 0}
	require.NoError(t, st.CreateSubTask(ctx, a))
	b := &model.SubTask{ExecutionID: e.ID, TaskID: uuid.New(), Status: model.SubTaskPending, SequenceOrder: 1, DependsOn: []uuid.UUID{a.ID}}
	require.NoError(t, st.CreateSubTask(ctx, b))

	ready, err := st.FindReadySubtasks(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, ready, 1, "only a, whose dependency set is empty, should be ready")
	require.Equal(t, a.ID, ready[0].ID)

	a.Status = model.SubTaskRunning
	require.NoError(t, st.UpdateSubTask(ctx, a))

	running, err := st.FindRunningSubtasks(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, a.ID, running[0].ID)

	ready, err = st.FindReadySubtasks(ctx, e.ID)
	require.NoError(t, err)
	require.Empty(t, ready, "b still isn't ready: its dependency a hasn't completed yet")

	a.Status = model.SubTaskCompleted
	require.NoError(t, st.UpdateSubTask(ctx, a))

	ready, err = st.FindReadySubtasks(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, ready, 1, "b becomes ready once a completes")
	require.Equal(t, b.ID, ready[0].ID)

	all, err := st.ListSubTasks(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)

	progress, err := st.Progress(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 2, progress.Total)
	require.Equal(t, 1, progress.Completed)
	require.Equal(t, 1, progress.Pending)
}

func testAllTerminalExcludesFailed(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := &model.Execution{Status: model.ExecutionExecuting, MaxParallelWorkers: 3}
	require.NoError(t, st.CreateExecution(ctx, e))

	a := &model.SubTask{ExecutionID: e.ID, TaskID: uuid.New(), Status: model.SubTaskCompleted}
	require.NoError(t, st.CreateSubTask(ctx, a))
	b := &model.SubTask{ExecutionID: e.ID, TaskID: uuid.New(), Status: model.SubTaskSkipped}
	require.NoError(t, st.CreateSubTask(ctx, b))

	all, err := st.AllTerminal(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, all, "Completed + Skipped is all-terminal")

	c := &model.SubTask{ExecutionID: e.ID, TaskID: uuid.New(), Status: model.SubTaskFailed}
	require.NoError(t, st.CreateSubTask(ctx, c))

	all, err = st.AllTerminal(ctx, e.ID)
	require.NoError(t, err)
	require.False(t, all, "a Failed SubTask must not count as terminal for this gate")
}

func testAgentProfilesAndSkills(t *testing.T, st store.Store) {
	ctx := context.Background()
	p := &model.AgentProfile{Roles: model.AgentRoles{Worker: true}, Active: true, Priority: 2}
	require.NoError(t, st.UpsertAgentProfile(ctx, p))
	require.NotEqual(t, uuid.Nil, p.ID)

	got, err := st.GetAgentProfile(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.Priority, got.Priority)

	profiles, err := st.ListAgentProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	skill := &model.AgentSkill{Name: "backend", Category: "engineering"}
	require.NoError(t, st.UpsertAgentSkill(ctx, skill))
	require.NotEqual(t, uuid.Nil, skill.ID)

	found, err := st.FindSkillByName(ctx, "backend")
	require.NoError(t, err)
	require.Equal(t, skill.ID, found.ID)

	_, err = st.FindSkillByName(ctx, "does-not-exist")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.SetProfileSkill(ctx, model.ProfileSkill{AgentID: p.ID, SkillID: skill.ID, Proficiency: 4}))
	skills, err := st.ListProfileSkills(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, skills, 1)
	require.Equal(t, 4, skills[0].Proficiency)

	name, err := st.GetSkillName(ctx, skill.ID)
	require.NoError(t, err)
	require.Equal(t, "backend", name)

	// Re-setting the same (agent, skill) pair updates proficiency in place.
	require.NoError(t, st.SetProfileSkill(ctx, model.ProfileSkill{AgentID: p.ID, SkillID: skill.ID, Proficiency: 5}))
	skills, err = st.ListProfileSkills(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, skills, 1, "setting an existing pair must update it in place, not duplicate it")
	require.Equal(t, 5, skills[0].Proficiency)
}

func testReviewsAndRounds(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := &model.Execution{Status: model.ExecutionReviewing, ConsensusThreshold: 1}
	require.NoError(t, st.CreateExecution(ctx, e))

	round, err := st.LatestRound(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 0, round, "no reviews yet: round 0")

	r := &model.Review{ExecutionID: e.ID, ReviewerAgentID: uuid.New(), Vote: model.VotePending, Round: 1}
	require.NoError(t, st.CreateReview(ctx, r))
	require.NotEqual(t, uuid.Nil, r.ID)

	round, err = st.LatestRound(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 1, round)

	got, err := st.GetReview(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, model.VotePending, got.Vote)

	got.Vote = model.VoteApprove
	require.NoError(t, st.UpdateReview(ctx, got))

	reviews, err := st.ListReviews(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	require.Equal(t, model.VoteApprove, reviews[0].Vote)
}

func testGetNotFound(t *testing.T, st store.Store) {
	ctx := context.Background()
	_, err := st.GetExecution(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetSubTask(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetAgentProfile(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetReview(ctx, uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}
