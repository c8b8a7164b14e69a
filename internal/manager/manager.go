// Package manager implements the Manager (Scheduler): the component that
// drives an Execution's SubTasks to completion once a plan has been
// materialized. Its bounded-parallelism tick is grounded on
// medivac/engine.go's launchAgents (a free-slot count gates how much new
// work is dispatched per pass), and its cascading-skip logic is grounded
// on 88lin-divinesense/ai/agents/orchestrator/dag_scheduler.go's
// cascadeSkip — an explicit worklist BFS over the reverse-dependency
// graph, not recursion.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bazelment/swarmctl/internal/agentruntime"
	"github.com/bazelment/swarmctl/internal/assignment"
	"github.com/bazelment/swarmctl/internal/events"
	"github.com/bazelment/swarmctl/internal/model"
	"github.com/bazelment/swarmctl/internal/store"
	"github.com/bazelment/swarmctl/internal/workspace"
)

// ErrInvalidStateTransition is returned when an operation is attempted
// against an Execution that is not in the status it requires.
var ErrInvalidStateTransition = errors.New("manager: invalid state transition")

// Config holds the Manager's tunable knobs (spec.md §6).
type Config struct {
	BranchPrefix string
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{BranchPrefix: "swarm"}
}

// Manager drives SubTask scheduling for many concurrent Executions. It
// never blocks a calling goroutine on agent work: dispatch happens in a
// detached goroutine per SubTask, and the eventual completion or failure
// is reported back through CompleteTask/FailTask, mirroring the
// fire-and-forget AgentRuntime.dispatch contract.
type Manager struct {
	store   store.Store
	ws      workspace.WorkspaceProvider
	runtime agentruntime.AgentRuntime
	policy  assignment.Policy
	bus     *events.Bus
	logger  *slog.Logger
	cfg     Config

	// wsMu serializes workspace creation per process, avoiding the branch
	// name races spec.md §5 calls out ("workspace creation serial per
	// Execution"). A single mutex is sufficient here: this Manager only
	// ever has one tick in flight per Execution in practice, and workspace
	// creation across different Executions never collides on branch name.
	wsMu sync.Mutex
}

// New constructs a Manager. logger defaults to slog.Default() if nil.
func New(st store.Store, ws workspace.WorkspaceProvider, runtime agentruntime.AgentRuntime, bus *events.Bus, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "swarm"
	}
	return &Manager{
		store:   st,
		ws:      ws,
		runtime: runtime,
		policy:  assignment.New(),
		bus:     bus,
		logger:  logger,
		cfg:     cfg,
	}
}

// ExecuteReadyTasks is the public scheduling tick. It is idempotent: a
// call that finds no free capacity or no ready SubTasks is a no-op.
func (m *Manager) ExecuteReadyTasks(ctx context.Context, executionID uuid.UUID) error {
	e, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: get execution: %w", err)
	}
	if e.Status != model.ExecutionExecuting {
		return fmt.Errorf("%w: execution %s is %s, want executing", ErrInvalidStateTransition, executionID, e.Status)
	}
	return m.runTick(ctx, e)
}

// tick is the internal re-entry point used after a completion or failure
// event. Unlike ExecuteReadyTasks it silently no-ops when the Execution
// has already left Executing (e.g. it was just driven to Reviewing,
// Failed, or Cancelled by this same event) rather than treating that as
// an error — late events for a finished Execution are expected, not
// exceptional (spec.md §5).
func (m *Manager) tick(ctx context.Context, executionID uuid.UUID) error {
	e, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: get execution: %w", err)
	}
	if e.Status != model.ExecutionExecuting {
		return nil
	}
	return m.runTick(ctx, e)
}

func (m *Manager) runTick(ctx context.Context, e *model.Execution) error {
	running, err := m.store.FindRunningSubtasks(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("manager: find running subtasks: %w", err)
	}
	free := e.MaxParallelWorkers - len(running)
	if free <= 0 {
		return nil
	}

	ready, err := m.store.FindReadySubtasks(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("manager: find ready subtasks: %w", err)
	}
	if len(ready) > free {
		ready = ready[:free]
	}

	for _, st := range ready {
		if err := m.startTask(ctx, e, st); err != nil {
			// Start failures are logged but never abort the tick: a worker
			// shortage for one SubTask shouldn't block the rest.
			m.logger.Warn("manager: start task failed", "subtask", st.ID, "error", err)
		}
	}

	return m.maybeAdvanceToReviewing(ctx, e.ID)
}

// maybeAdvanceToReviewing transitions an Executing Execution to Reviewing
// once every SubTask is Completed or Skipped, and emits ConsensusRequired
// exactly once (the status check itself makes re-entry a no-op, since the
// Execution is no longer Executing the second time this runs).
func (m *Manager) maybeAdvanceToReviewing(ctx context.Context, executionID uuid.UUID) error {
	e, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: get execution: %w", err)
	}
	if e.Status != model.ExecutionExecuting {
		return nil
	}

	allTerminal, err := m.store.AllTerminal(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: all terminal: %w", err)
	}
	if !allTerminal {
		return nil
	}

	if err := m.store.UpdateExecutionStatus(ctx, executionID, model.ExecutionReviewing); err != nil {
		return fmt.Errorf("manager: transition to reviewing: %w", err)
	}
	// Round is a hint; Consensus.StartReview assigns the authoritative
	// round number when it creates Review rows.
	m.bus.Publish(events.NewConsensusRequired(executionID, 0))
	return nil
}

// startTask assigns a worker, provisions its workspace, and hands the
// SubTask off to the AgentRuntime without blocking on its result.
func (m *Manager) startTask(ctx context.Context, e *model.Execution, st *model.SubTask) error {
	pool, err := m.workerPool(ctx)
	if err != nil {
		return fmt.Errorf("manager: worker pool: %w", err)
	}

	worker, err := m.policy.Pick(st.RequiredSkills, pool)
	if err != nil {
		return fmt.Errorf("manager: pick worker for subtask %s: %w", st.ID, err)
	}

	epicWS, err := m.ws.Get(ctx, e.EpicWorkspaceID)
	if err != nil {
		return fmt.Errorf("manager: get epic workspace: %w", err)
	}

	branch := fmt.Sprintf("%s/task-%s", m.cfg.BranchPrefix, st.ID.String()[:8])

	m.wsMu.Lock()
	handle, err := m.ws.Create(ctx, branch, epicWS.Branch)
	m.wsMu.Unlock()
	if err != nil {
		return fmt.Errorf("manager: create workspace: %w", err)
	}

	agentID := worker.ID
	st.AssignedAgent = &agentID
	st.WorkspaceID = &handle.ID
	st.BranchName = branch
	st.Status = model.SubTaskAssigned
	if err := m.store.UpdateSubTask(ctx, st); err != nil {
		return fmt.Errorf("manager: update subtask to assigned: %w", err)
	}

	now := time.Now()
	st.Status = model.SubTaskRunning
	st.StartedAt = &now
	if err := m.store.UpdateSubTask(ctx, st); err != nil {
		return fmt.Errorf("manager: update subtask to running: %w", err)
	}

	m.bus.Publish(events.NewTaskStarted(e.ID, st.ID, agentID))

	// Detach from ctx's cancellation: the dispatched agent must keep
	// running even if this tick's caller context is done, per spec.md §5
	// ("Manager never blocks a thread" / fire-and-forget dispatch).
	go m.runAgent(context.WithoutCancel(ctx), e.ID, st.ID, handle)

	return nil
}

func (m *Manager) workerPool(ctx context.Context) ([]model.WorkerView, error) {
	profiles, err := m.store.ListAgentProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agent profiles: %w", err)
	}

	var pool []model.WorkerView
	for _, p := range profiles {
		if !p.Active || !p.Roles.Worker {
			continue
		}
		skills, err := m.store.ListProfileSkills(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("list profile skills for %s: %w", p.ID, err)
		}
		skillSet := make(map[string]bool, len(skills))
		for _, ps := range skills {
			name, err := m.store.GetSkillName(ctx, ps.SkillID)
			if err != nil {
				continue
			}
			skillSet[name] = true
		}
		pool = append(pool, model.WorkerView{ID: p.ID, Priority: p.Priority, Skills: skillSet})
	}
	return pool, nil
}

// runAgent executes one SubTask's work via the AgentRuntime and reports
// the outcome back through CompleteTask or FailTask. It runs in its own
// goroutine, detached from the tick that spawned it.
func (m *Manager) runAgent(ctx context.Context, executionID, subtaskID uuid.UUID, handle workspace.Handle) {
	st, err := m.store.GetSubTask(ctx, subtaskID)
	if err != nil {
		m.logger.Error("manager: load subtask for dispatch", "subtask", subtaskID, "error", err)
		return
	}

	req := agentruntime.Request{
		Prompt:  workerPrompt(st),
		WorkDir: handle.Path,
	}

	result, err := m.runtime.Execute(ctx, req)
	switch {
	case err != nil:
		m.reportFailure(ctx, executionID, subtaskID, err.Error())
	case !result.Success:
		reason := result.Text
		if reason == "" {
			reason = "agent reported failure"
		}
		m.reportFailure(ctx, executionID, subtaskID, reason)
	default:
		if cerr := m.CompleteTask(ctx, executionID, subtaskID); cerr != nil {
			m.logger.Error("manager: complete task", "subtask", subtaskID, "error", cerr)
		}
	}
}

func (m *Manager) reportFailure(ctx context.Context, executionID, subtaskID uuid.UUID, reason string) {
	if err := m.FailTask(ctx, executionID, subtaskID, reason); err != nil {
		m.logger.Error("manager: fail task", "subtask", subtaskID, "error", err)
	}
}

func workerPrompt(st *model.SubTask) string {
	var b strings.Builder
	b.WriteString("Complete the assigned subtask in this workspace.\n")
	if len(st.RequiredSkills) > 0 {
		fmt.Fprintf(&b, "Required skills: %s\n", strings.Join(st.RequiredSkills, ", "))
	}
	return b.String()
}

// CompleteTask records a SubTask's successful completion, emits
// TaskCompleted and a fresh ExecutionProgress, and triggers another tick.
// It updates only the SubTask; no separate child Task record exists in
// the store, so none is advanced. Replaying it against an already-Completed
// SubTask is a no-op.
func (m *Manager) CompleteTask(ctx context.Context, executionID, subtaskID uuid.UUID) error {
	e, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: get execution: %w", err)
	}
	if e.Status != model.ExecutionExecuting {
		return nil
	}

	st, err := m.store.GetSubTask(ctx, subtaskID)
	if err != nil {
		return fmt.Errorf("manager: get subtask: %w", err)
	}
	if st.Status == model.SubTaskCompleted {
		return nil
	}

	now := time.Now()
	st.Status = model.SubTaskCompleted
	st.CompletedAt = &now
	if err := m.store.UpdateSubTask(ctx, st); err != nil {
		return fmt.Errorf("manager: update subtask to completed: %w", err)
	}

	durationMs := int64(st.DurationSeconds() * 1000)
	m.bus.Publish(events.NewTaskCompleted(executionID, subtaskID, durationMs))

	if err := m.publishProgress(ctx, executionID); err != nil {
		return err
	}

	return m.tick(ctx, executionID)
}

// FailTask records a SubTask's failure. If retries remain it resets the
// SubTask to Pending for another attempt; otherwise it marks the SubTask
// Failed, cascades Skipped to every non-terminal descendant, and checks
// for Execution-wide majority failure.
func (m *Manager) FailTask(ctx context.Context, executionID, subtaskID uuid.UUID, reason string) error {
	e, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: get execution: %w", err)
	}
	if e.Status != model.ExecutionExecuting {
		return nil
	}

	st, err := m.store.GetSubTask(ctx, subtaskID)
	if err != nil {
		return fmt.Errorf("manager: get subtask: %w", err)
	}
	if st.Status.IsTerminal() {
		return nil
	}

	if st.RetryCount < st.MaxRetries {
		st.RetryCount++
		st.Status = model.SubTaskPending
		st.WorkspaceID = nil
		st.BranchName = ""
		st.AssignedAgent = nil
		st.StartedAt = nil
		st.CompletedAt = nil
		st.ErrorMessage = &reason
		if err := m.store.UpdateSubTask(ctx, st); err != nil {
			return fmt.Errorf("manager: reset subtask for retry: %w", err)
		}
		m.logger.Info("manager: subtask retry scheduled", "subtask", subtaskID, "retry_count", st.RetryCount, "reason", reason)
		return m.tick(ctx, executionID)
	}

	st.Status = model.SubTaskFailed
	st.ErrorMessage = &reason
	now := time.Now()
	st.CompletedAt = &now
	if err := m.store.UpdateSubTask(ctx, st); err != nil {
		return fmt.Errorf("manager: mark subtask failed: %w", err)
	}
	m.bus.Publish(events.NewTaskFailed(executionID, subtaskID, reason, false))

	if err := m.cascadeSkip(ctx, executionID, subtaskID); err != nil {
		return fmt.Errorf("manager: cascade skip: %w", err)
	}

	if err := m.publishProgress(ctx, executionID); err != nil {
		return err
	}

	progress, err := m.store.Progress(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: progress: %w", err)
	}
	if progress.Total > 0 && progress.Failed*2 > progress.Total {
		const msg = "Too many tasks failed"
		if err := m.store.SetExecutionError(ctx, executionID, msg); err != nil {
			return fmt.Errorf("manager: set execution error: %w", err)
		}
		if err := m.store.UpdateExecutionStatus(ctx, executionID, model.ExecutionFailed); err != nil {
			return fmt.Errorf("manager: transition to failed: %w", err)
		}
		m.bus.Publish(events.NewExecutionFailed(executionID, model.ExecutionFailed, msg))
		return nil
	}

	return m.tick(ctx, executionID)
}

// cascadeSkip marks every non-terminal descendant of failedID (over the
// reverse-dependency graph) as Skipped, using an explicit worklist rather
// than recursion.
func (m *Manager) cascadeSkip(ctx context.Context, executionID, failedID uuid.UUID) error {
	subtasks, err := m.store.ListSubTasks(ctx, executionID)
	if err != nil {
		return fmt.Errorf("list subtasks: %w", err)
	}

	byID := make(map[uuid.UUID]*model.SubTask, len(subtasks))
	downstream := make(map[uuid.UUID][]uuid.UUID)
	for _, st := range subtasks {
		byID[st.ID] = st
		for _, dep := range st.DependsOn {
			downstream[dep] = append(downstream[dep], st.ID)
		}
	}

	queue := []uuid.UUID{failedID}
	visited := make(map[uuid.UUID]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		for _, nextID := range downstream[cur] {
			next := byID[nextID]
			if next == nil || next.Status.IsTerminal() {
				continue
			}
			reason := "skipped: upstream dependency failed"
			next.Status = model.SubTaskSkipped
			next.ErrorMessage = &reason
			if err := m.store.UpdateSubTask(ctx, next); err != nil {
				return fmt.Errorf("skip subtask %s: %w", next.ID, err)
			}
			m.bus.Publish(events.NewTaskFailed(executionID, next.ID, reason, true))
			queue = append(queue, next.ID)
		}
	}
	return nil
}

func (m *Manager) publishProgress(ctx context.Context, executionID uuid.UUID) error {
	progress, err := m.store.Progress(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: progress: %w", err)
	}
	m.bus.Publish(events.NewExecutionProgress(
		executionID, progress.Total, progress.Completed, progress.Running,
		progress.Failed, progress.Pending, progress.Skipped,
	))
	return nil
}

// GetProgress returns the Execution's current SubTask status counts.
func (m *Manager) GetProgress(ctx context.Context, executionID uuid.UUID) (store.Progress, error) {
	return m.store.Progress(ctx, executionID)
}

// Pause is legal only from Executing; it sets the Execution back to
// Planned. Running agents continue, but no new SubTask is dispatched
// until Resume.
func (m *Manager) Pause(ctx context.Context, executionID uuid.UUID) error {
	e, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: get execution: %w", err)
	}
	if e.Status != model.ExecutionExecuting {
		return fmt.Errorf("%w: pause requires executing, got %s", ErrInvalidStateTransition, e.Status)
	}
	return m.store.UpdateExecutionStatus(ctx, executionID, model.ExecutionPlanned)
}

// Resume is legal only from Planned; it sets the Execution back to
// Executing and runs a tick.
func (m *Manager) Resume(ctx context.Context, executionID uuid.UUID) error {
	e, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: get execution: %w", err)
	}
	if e.Status != model.ExecutionPlanned {
		return fmt.Errorf("%w: resume requires planned, got %s", ErrInvalidStateTransition, e.Status)
	}
	if err := m.store.UpdateExecutionStatus(ctx, executionID, model.ExecutionExecuting); err != nil {
		return fmt.Errorf("manager: transition to executing: %w", err)
	}
	return m.tick(ctx, executionID)
}

// Cancel unconditionally marks every Pending or Blocked SubTask Skipped
// and sets the Execution to Cancelled. Already-running SubTasks are not
// force-killed; their eventual completion/failure events are discarded
// because the Execution is no longer Executing.
func (m *Manager) Cancel(ctx context.Context, executionID uuid.UUID) error {
	subtasks, err := m.store.ListSubTasks(ctx, executionID)
	if err != nil {
		return fmt.Errorf("manager: list subtasks: %w", err)
	}
	for _, st := range subtasks {
		if st.Status == model.SubTaskPending || st.Status == model.SubTaskBlocked {
			st.Status = model.SubTaskSkipped
			if err := m.store.UpdateSubTask(ctx, st); err != nil {
				return fmt.Errorf("manager: skip subtask %s: %w", st.ID, err)
			}
		}
	}
	if err := m.store.UpdateExecutionStatus(ctx, executionID, model.ExecutionCancelled); err != nil {
		return err
	}
	m.bus.Publish(events.NewExecutionFailed(executionID, model.ExecutionCancelled, "cancelled"))
	return nil
}
