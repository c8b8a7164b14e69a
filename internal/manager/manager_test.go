package manager

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/swarmctl/internal/agentruntime"
	"github.com/bazelment/swarmctl/internal/events"
	"github.com/bazelment/swarmctl/internal/model"
	"github.com/bazelment/swarmctl/internal/store/memstore"
	"github.com/bazelment/swarmctl/internal/workspace"
)

// gatedRuntime blocks every Execute call until gate is closed, counting how
// many calls are in flight concurrently.
type gatedRuntime struct {
	gate    chan struct{}
	started int64
}

func newGatedRuntime() *gatedRuntime {
	return &gatedRuntime{gate: make(chan struct{})}
}

func (g *gatedRuntime) release() { close(g.gate) }

func (g *gatedRuntime) Execute(_ context.Context, _ agentruntime.Request) (agentruntime.Result, error) {
	atomic.AddInt64(&g.started, 1)
	<-g.gate
	return agentruntime.Result{Success: true}, nil
}

func setupExecution(t *testing.T, st *memstore.Store, ws *workspace.FakeWorkspaceProvider, maxParallel int) *model.Execution {
	t.Helper()
	epic, err := ws.Create(context.Background(), "epic/main", "main")
	require.NoError(t, err)

	worker := &model.AgentProfile{ID: uuid.New(), Roles: model.AgentRoles{Worker: true}, Active: true, Priority: 1}
	require.NoError(t, st.UpsertAgentProfile(context.Background(), worker))

	e := &model.Execution{
		ID:                 uuid.New(),
		EpicWorkspaceID:    epic.ID,
		Status:             model.ExecutionExecuting,
		MaxParallelWorkers: maxParallel,
		ReviewerCount:      3,
		ConsensusThreshold: model.ConsensusThresholdFor(3),
	}
	require.NoError(t, st.CreateExecution(context.Background(), e))
	return e
}

func addSubtask(t *testing.T, st *memstore.Store, executionID uuid.UUID, seq int, maxRetries int, deps ...uuid.UUID) *model.SubTask {
	t.Helper()
	s := &model.SubTask{
		ID:            uuid.New(),
		ExecutionID:   executionID,
		TaskID:        uuid.New(),
		Status:        model.SubTaskPending,
		DependsOn:     deps,
		SequenceOrder: seq,
		MaxRetries:    maxRetries,
	}
	require.NoError(t, st.CreateSubTask(context.Background(), s))
	return s
}

func TestExecuteReadyTasksRejectsNonExecutingExecution(t *testing.T) {
	st := memstore.New()
	e := &model.Execution{ID: uuid.New(), Status: model.ExecutionPlanned}
	require.NoError(t, st.CreateExecution(context.Background(), e))

	m := New(st, workspace.NewFakeWorkspaceProvider(), &agentruntime.FakeAgentRuntime{}, events.NewBus(), DefaultConfig(), nil)
	err := m.ExecuteReadyTasks(context.Background(), e.ID)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestFanOutFourCapacityTwoNeverExceedsBound(t *testing.T) {
	st := memstore.New()
	ws := workspace.NewFakeWorkspaceProvider()
	e := setupExecution(t, st, ws, 2)
	for i := 0; i < 4; i++ {
		addSubtask(t, st, e.ID, i, 2)
	}

	rt := newGatedRuntime()
	m := New(st, ws, rt, events.NewBus(), DefaultConfig(), nil)

	require.NoError(t, m.ExecuteReadyTasks(context.Background(), e.ID))

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&rt.started) == 2
	}, time.Second, time.Millisecond, "exactly 2 of 4 ready subtasks should be dispatched under a cap of 2")

	running, err := st.FindRunningSubtasks(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, running, 2, "capacity must never be exceeded while the first wave is in flight")

	rt.release()

	require.Eventually(t, func() bool {
		p, err := st.Progress(context.Background(), e.ID)
		require.NoError(t, err)
		return p.Completed == 4
	}, 2*time.Second, time.Millisecond, "all 4 subtasks should eventually complete across two waves")

	require.Eventually(t, func() bool {
		exec, err := st.GetExecution(context.Background(), e.ID)
		require.NoError(t, err)
		return exec.Status == model.ExecutionReviewing
	}, time.Second, time.Millisecond, "execution should advance to reviewing once every subtask is terminal")
}

func TestDiamondDependencyCascadesSkipOnMiddleFailure(t *testing.T) {
	st := memstore.New()
	ws := workspace.NewFakeWorkspaceProvider()
	e := setupExecution(t, st, ws, 1)

	a := addSubtask(t, st, e.ID, 0, 0)
	b := addSubtask(t, st, e.ID, 1, 0, a.ID)
	c := addSubtask(t, st, e.ID, 2, 0, a.ID)
	d := addSubtask(t, st, e.ID, 3, 0, b.ID, c.ID)

	// With one worker slot the agent calls run in order a, b, c: a succeeds,
	// the middle node b fails, and c succeeds.
	rt := &agentruntime.FakeAgentRuntime{Errs: []error{nil, errBoom}}
	m := New(st, ws, rt, events.NewBus(), DefaultConfig(), nil)

	require.NoError(t, m.ExecuteReadyTasks(context.Background(), e.ID))

	require.Eventually(t, func() bool {
		got, err := st.GetSubTask(context.Background(), c.ID)
		require.NoError(t, err)
		return got.Status == model.SubTaskCompleted
	}, time.Second, time.Millisecond)

	want := []struct {
		sub    *model.SubTask
		status model.SubTaskStatus
	}{
		{a, model.SubTaskCompleted},
		{b, model.SubTaskFailed},
		{c, model.SubTaskCompleted},
		{d, model.SubTaskSkipped},
	}
	for _, w := range want {
		got, err := st.GetSubTask(context.Background(), w.sub.ID)
		require.NoError(t, err)
		require.Equal(t, w.status, got.Status, "subtask %s: d cascade-skips when b fails, c still runs", w.sub.ID)
	}

	exec, err := st.GetExecution(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionExecuting, exec.Status,
		"1 of 4 failed is not a majority, and a Failed SubTask is not terminal for AllTerminal, so the execution is neither failed nor advanced to reviewing")
}

func TestMajorityFailureTransitionsExecutionToFailed(t *testing.T) {
	st := memstore.New()
	ws := workspace.NewFakeWorkspaceProvider()
	e := setupExecution(t, st, ws, 3)
	addSubtask(t, st, e.ID, 0, 0)
	addSubtask(t, st, e.ID, 1, 0)
	addSubtask(t, st, e.ID, 2, 0)

	rt := &agentruntime.FakeAgentRuntime{Errs: []error{errBoom, errBoom, nil}}
	m := New(st, ws, rt, events.NewBus(), DefaultConfig(), nil)

	require.NoError(t, m.ExecuteReadyTasks(context.Background(), e.ID))

	require.Eventually(t, func() bool {
		exec, err := st.GetExecution(context.Background(), e.ID)
		require.NoError(t, err)
		return exec.Status == model.ExecutionFailed
	}, time.Second, time.Millisecond, "2 of 3 failed is a strict majority")

	exec, err := st.GetExecution(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, exec.ErrorMessage)
	require.Equal(t, "Too many tasks failed", *exec.ErrorMessage)
}

func TestCompleteTaskReplayIsNoop(t *testing.T) {
	st := memstore.New()
	ws := workspace.NewFakeWorkspaceProvider()
	e := setupExecution(t, st, ws, 1)
	a := addSubtask(t, st, e.ID, 0, 0)

	m := New(st, ws, &agentruntime.FakeAgentRuntime{}, events.NewBus(), DefaultConfig(), nil)
	require.NoError(t, m.CompleteTask(context.Background(), e.ID, a.ID))

	got, err := st.GetSubTask(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, model.SubTaskCompleted, got.Status)
	completedAt := got.CompletedAt

	require.NoError(t, m.CompleteTask(context.Background(), e.ID, a.ID))
	got2, err := st.GetSubTask(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, completedAt, got2.CompletedAt, "replaying CompleteTask on an already-Completed SubTask must not touch it again")
}

func TestPauseResumePreservesRunnableSet(t *testing.T) {
	st := memstore.New()
	ws := workspace.NewFakeWorkspaceProvider()
	e := setupExecution(t, st, ws, 1)
	addSubtask(t, st, e.ID, 0, 2)
	b := addSubtask(t, st, e.ID, 1, 2, uuid.New()) // unsatisfiable dep: stays not-ready

	rt := newGatedRuntime()
	m := New(st, ws, rt, events.NewBus(), DefaultConfig(), nil)

	require.NoError(t, m.ExecuteReadyTasks(context.Background(), e.ID))
	require.Eventually(t, func() bool { return atomic.LoadInt64(&rt.started) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Pause(context.Background(), e.ID))
	exec, err := st.GetExecution(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionPlanned, exec.Status)

	err = m.ExecuteReadyTasks(context.Background(), e.ID)
	require.ErrorIs(t, err, ErrInvalidStateTransition, "no new dispatch while paused")

	require.NoError(t, m.Resume(context.Background(), e.ID))
	exec, err = st.GetExecution(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionExecuting, exec.Status)

	bUnchanged, err := st.GetSubTask(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, model.SubTaskPending, bUnchanged.Status, "a still-blocked subtask is untouched by pause/resume")

	rt.release()
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
