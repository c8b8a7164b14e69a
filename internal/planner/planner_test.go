package planner

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/swarmctl/internal/model"
	"github.com/bazelment/swarmctl/internal/store/memstore"
)

func activePlannerProfile(st *memstore.Store, priority int) *model.AgentProfile {
	p := &model.AgentProfile{
		ID:       uuid.New(),
		Executor: "claude",
		Roles:    model.AgentRoles{Planner: true},
		Priority: priority,
		Active:   true,
	}
	_ = st.UpsertAgentProfile(context.Background(), p)
	return p
}

func TestCreateExecutionRejectsNonEpic(t *testing.T) {
	st := memstore.New()
	p := New(st, nil, DefaultConfig())

	_, err := p.CreateExecution(context.Background(), EpicTask{ID: uuid.New(), IsEpic: false}, uuid.New())
	require.ErrorIs(t, err, ErrNotEpic)
}

func TestCreateExecutionRequiresAPlanner(t *testing.T) {
	st := memstore.New()
	p := New(st, nil, DefaultConfig())

	_, err := p.CreateExecution(context.Background(), EpicTask{ID: uuid.New(), IsEpic: true}, uuid.New())
	require.ErrorIs(t, err, ErrNoPlanner)
}

func TestCreateExecutionPicksHighestPriorityActivePlanner(t *testing.T) {
	st := memstore.New()
	activePlannerProfile(st, 1)
	best := activePlannerProfile(st, 9)
	inactive := &model.AgentProfile{ID: uuid.New(), Roles: model.AgentRoles{Planner: true}, Priority: 100, Active: false}
	_ = st.UpsertAgentProfile(context.Background(), inactive)

	p := New(st, nil, DefaultConfig())
	exec, err := p.CreateExecution(context.Background(), EpicTask{ID: uuid.New(), IsEpic: true}, uuid.New())
	require.NoError(t, err)
	require.Equal(t, best.ID, exec.PlannerAgentID)
	require.Equal(t, model.ExecutionPlanning, exec.Status)
	require.Equal(t, 3, exec.ReviewerCount)
	require.Equal(t, model.ConsensusThresholdFor(3), exec.ConsensusThreshold)
}

func TestGenerateAndExecutePlanTrivialTask(t *testing.T) {
	st := memstore.New()
	activePlannerProfile(st, 1)
	p := New(st, nil, DefaultConfig())

	task := EpicTask{ID: uuid.New(), Title: "fix typo", Description: "", IsEpic: true}
	exec, err := p.CreateExecution(context.Background(), task, uuid.New())
	require.NoError(t, err)

	plan, err := p.GeneratePlan(context.Background(), exec.ID, task)
	require.NoError(t, err)
	require.Equal(t, "trivial", plan.ComplexityLabel)
	require.Len(t, plan.Subtasks, 1)
	require.False(t, plan.RequiresSwarm, "a single subtask is below the default swarm threshold of 2")

	updated, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionPlanned, updated.Status)
	require.NotEmpty(t, updated.PlannerOutput)

	subtasks, err := p.ExecutePlan(context.Background(), exec.ID, plan)
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
	require.Empty(t, subtasks[0].DependsOn)

	updated, err = st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionExecuting, updated.Status)
}

func TestExecutePlanRemapsDependencyIndicesToRealIDs(t *testing.T) {
	st := memstore.New()
	activePlannerProfile(st, 1)
	p := New(st, nil, DefaultConfig())

	task := EpicTask{ID: uuid.New(), Title: "build a complete integration platform", Description: string(make([]byte, 900)), IsEpic: true}
	exec, err := p.CreateExecution(context.Background(), task, uuid.New())
	require.NoError(t, err)

	plan, err := p.GeneratePlan(context.Background(), exec.ID, task)
	require.NoError(t, err)
	require.True(t, len(plan.Subtasks) >= 4, "a complex/epic task should decompose into the multi-phase skeleton")

	subtasks, err := p.ExecutePlan(context.Background(), exec.ID, plan)
	require.NoError(t, err)

	byIndex := make(map[int]uuid.UUID, len(subtasks))
	for i, st := range subtasks {
		byIndex[i] = st.ID
	}
	for i, planned := range plan.Subtasks {
		got := subtasks[i]
		require.Len(t, got.DependsOn, len(planned.DependsOn))
		for j, depIdx := range planned.DependsOn {
			require.Equal(t, byIndex[depIdx], got.DependsOn[j], "dependency index %d on subtask %d should remap to the real SubTask ID", depIdx, i)
		}
	}
}

func TestValidatePlanRejectsSelfDependency(t *testing.T) {
	plan := model.SwarmPlan{
		Subtasks: []model.PlannedSubtask{
			{Title: "a", DependsOn: nil},
			{Title: "b", DependsOn: []int{1}}, // self-reference: not < own index
		},
		RequiresSwarm: true,
	}
	err := validatePlan(plan, DefaultConfig())
	require.ErrorIs(t, err, ErrInvalidPlan)
}

func TestValidatePlanEnforcesMaxSubtasks(t *testing.T) {
	subtasks := make([]model.PlannedSubtask, 11)
	for i := range subtasks {
		subtasks[i] = model.PlannedSubtask{Title: "x"}
	}
	plan := model.SwarmPlan{Subtasks: subtasks, RequiresSwarm: true}
	err := validatePlan(plan, DefaultConfig())
	require.ErrorIs(t, err, ErrInvalidPlan)
}

func TestEstimateComplexityMatrix(t *testing.T) {
	require.Equal(t, model.ComplexityTrivial, EstimateComplexity("fix typo", ""))
	require.Equal(t, model.ComplexitySimple, EstimateComplexity("update docs", "a little bit longer description here that is still short"))
	require.Equal(t, model.ComplexityEpic, EstimateComplexity("build a complete end-to-end platform", string(make([]byte, 1200))))
}
