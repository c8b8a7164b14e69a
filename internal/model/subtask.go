package model

import (
	"time"

	"github.com/google/uuid"
)

// SubTaskStatus is the lifecycle state of a SubTask.
type SubTaskStatus int

const (
	SubTaskPending SubTaskStatus = iota
	SubTaskBlocked
	SubTaskAssigned
	SubTaskRunning
	SubTaskCompleted
	SubTaskFailed
	SubTaskSkipped
)

// String returns the stable lowercase wire value for the status.
func (s SubTaskStatus) String() string {
	switch s {
	case SubTaskPending:
		return "pending"
	case SubTaskBlocked:
		return "blocked"
	case SubTaskAssigned:
		return "assigned"
	case SubTaskRunning:
		return "running"
	case SubTaskCompleted:
		return "completed"
	case SubTaskFailed:
		return "failed"
	case SubTaskSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the SubTask is absorbing for the round: it will
// not be revisited by the scheduler unless explicitly retried.
func (s SubTaskStatus) IsTerminal() bool {
	switch s {
	case SubTaskCompleted, SubTaskSkipped, SubTaskFailed:
		return true
	default:
		return false
	}
}

// SubTask is a child Task plus scheduling metadata produced by the Planner.
type SubTask struct {
	AssignedAgent  *uuid.UUID
	WorkspaceID    *uuid.UUID
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   *string
	BranchName     string
	ID             uuid.UUID
	ExecutionID    uuid.UUID
	TaskID         uuid.UUID
	Status         SubTaskStatus
	RequiredSkills []string
	DependsOn      []uuid.UUID
	SequenceOrder  int
	Complexity     int
	RetryCount     int
	MaxRetries     int
}

// DurationSeconds returns the elapsed run time, or 0 if not yet started or
// not yet completed.
func (s *SubTask) DurationSeconds() float64 {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt).Seconds()
}

// DependenciesSatisfied reports whether every dependency in depsStatus is
// Completed. An empty depends_on set is trivially satisfied.
func DependenciesSatisfied(dependsOn []uuid.UUID, depsStatus map[uuid.UUID]SubTaskStatus) bool {
	for _, d := range dependsOn {
		if depsStatus[d] != SubTaskCompleted {
			return false
		}
	}
	return true
}
