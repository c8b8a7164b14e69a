// Package events defines the progress/terminal events the core emits while
// running an Execution, and a bounded bus to carry them to subscribers. The
// event type hierarchy follows multiagent/planner's marker-interface
// MissionEvent pattern. Wire encoding is JSON with snake_case keys and a
// "type" discriminator field, populated by each constructor.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/bazelment/swarmctl/internal/model"
)

// Event is the marker interface implemented by every event type.
type Event interface {
	// event prevents external packages from implementing Event.
	event()
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
	// Terminal reports whether this event type is final for its Execution
	// and must never be dropped by a bounded bus.
	Terminal() bool
}

type base struct {
	Ts time.Time `json:"timestamp"`
}

func (b base) Timestamp() time.Time { return b.Ts }

func now() time.Time { return time.Now() }

// TaskStarted fires when a SubTask transitions to Running.
type TaskStarted struct {
	base
	Type        string    `json:"type"`
	ExecutionID uuid.UUID `json:"execution_id"`
	SubTaskID   uuid.UUID `json:"sub_task_id"`
	AgentID     uuid.UUID `json:"agent_id"`
}

func (TaskStarted) event()         {}
func (TaskStarted) Terminal() bool { return false }

// NewTaskStarted builds a TaskStarted event.
func NewTaskStarted(executionID, subTaskID, agentID uuid.UUID) TaskStarted {
	return TaskStarted{
		base: base{Ts: now()}, Type: "task_started",
		ExecutionID: executionID, SubTaskID: subTaskID, AgentID: agentID,
	}
}

// TaskCompleted fires when a SubTask transitions to Completed.
type TaskCompleted struct {
	base
	Type        string    `json:"type"`
	ExecutionID uuid.UUID `json:"execution_id"`
	SubTaskID   uuid.UUID `json:"sub_task_id"`
	DurationMs  int64     `json:"duration_ms"`
}

func (TaskCompleted) event()         {}
func (TaskCompleted) Terminal() bool { return false }

// NewTaskCompleted builds a TaskCompleted event.
func NewTaskCompleted(executionID, subTaskID uuid.UUID, durationMs int64) TaskCompleted {
	return TaskCompleted{
		base: base{Ts: now()}, Type: "task_completed",
		ExecutionID: executionID, SubTaskID: subTaskID, DurationMs: durationMs,
	}
}

// TaskFailed fires when a SubTask exhausts retries and transitions to
// Failed, or is skipped by cascade.
type TaskFailed struct {
	base
	Type        string    `json:"type"`
	ExecutionID uuid.UUID `json:"execution_id"`
	SubTaskID   uuid.UUID `json:"sub_task_id"`
	Reason      string    `json:"reason"`
	Skipped     bool      `json:"skipped"`
}

func (TaskFailed) event()         {}
func (TaskFailed) Terminal() bool { return false }

// NewTaskFailed builds a TaskFailed event.
func NewTaskFailed(executionID, subTaskID uuid.UUID, reason string, skipped bool) TaskFailed {
	return TaskFailed{
		base: base{Ts: now()}, Type: "task_failed",
		ExecutionID: executionID, SubTaskID: subTaskID, Reason: reason, Skipped: skipped,
	}
}

// ExecutionProgress fires whenever the Manager recomputes progress counts.
// High frequency; this is the canonical drop-oldest event.
type ExecutionProgress struct {
	base
	Type        string    `json:"type"`
	ExecutionID uuid.UUID `json:"execution_id"`
	Total       int       `json:"total"`
	Completed   int       `json:"completed"`
	Running     int       `json:"running"`
	Failed      int       `json:"failed"`
	Pending     int       `json:"pending"`
	Skipped     int       `json:"skipped"`
}

func (ExecutionProgress) event()         {}
func (ExecutionProgress) Terminal() bool { return false }

// NewExecutionProgress builds an ExecutionProgress event.
func NewExecutionProgress(executionID uuid.UUID, total, completed, running, failed, pending, skipped int) ExecutionProgress {
	return ExecutionProgress{
		base: base{Ts: now()}, Type: "execution_progress", ExecutionID: executionID, Total: total, Completed: completed,
		Running: running, Failed: failed, Pending: pending, Skipped: skipped,
	}
}

// ConsensusRequired fires when the Execution transitions to Reviewing and
// reviewers must be assigned.
type ConsensusRequired struct {
	base
	Type        string    `json:"type"`
	ExecutionID uuid.UUID `json:"execution_id"`
	Round       int       `json:"round"`
}

func (ConsensusRequired) event()         {}
func (ConsensusRequired) Terminal() bool { return false }

// NewConsensusRequired builds a ConsensusRequired event.
func NewConsensusRequired(executionID uuid.UUID, round int) ConsensusRequired {
	return ConsensusRequired{base: base{Ts: now()}, Type: "consensus_required", ExecutionID: executionID, Round: round}
}

// ExecutionCompleted marks an Execution reaching Completed. Terminal:
// never dropped by a bounded bus. No component in this module publishes
// it, and none moves an Execution to Completed.
type ExecutionCompleted struct {
	base
	Type        string    `json:"type"`
	ExecutionID uuid.UUID `json:"execution_id"`
}

func (ExecutionCompleted) event()         {}
func (ExecutionCompleted) Terminal() bool { return true }

// NewExecutionCompleted builds an ExecutionCompleted event.
func NewExecutionCompleted(executionID uuid.UUID) ExecutionCompleted {
	return ExecutionCompleted{base: base{Ts: now()}, Type: "execution_completed", ExecutionID: executionID}
}

// ExecutionFailed fires when the Manager moves the Execution to Failed
// (majority failure) or Cancelled (Manager.Cancel). Consensus.Finalize's
// move to Failed on a rejected round publishes no event. Terminal: never
// dropped by a bounded bus.
type ExecutionFailed struct {
	base
	Type        string                `json:"type"`
	ExecutionID uuid.UUID             `json:"execution_id"`
	Status      model.ExecutionStatus `json:"status"`
	Reason      string                `json:"reason"`
}

func (ExecutionFailed) event()         {}
func (ExecutionFailed) Terminal() bool { return true }

// NewExecutionFailed builds an ExecutionFailed event.
func NewExecutionFailed(executionID uuid.UUID, status model.ExecutionStatus, reason string) ExecutionFailed {
	return ExecutionFailed{
		base: base{Ts: now()}, Type: "execution_failed",
		ExecutionID: executionID, Status: status, Reason: reason,
	}
}
