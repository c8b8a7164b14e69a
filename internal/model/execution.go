// Package model defines the persistent entities of the swarm orchestrator:
// Execution, SubTask, AgentProfile, AgentSkill, ProfileSkill, and Review.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus int

const (
	ExecutionPlanning ExecutionStatus = iota
	ExecutionPlanned
	ExecutionExecuting
	ExecutionReviewing
	ExecutionMerging
	ExecutionCompleted
	ExecutionFailed
	ExecutionCancelled
)

// String returns the stable lowercase wire value for the status.
func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionPlanning:
		return "planning"
	case ExecutionPlanned:
		return "planned"
	case ExecutionExecuting:
		return "executing"
	case ExecutionReviewing:
		return "reviewing"
	case ExecutionMerging:
		return "merging"
	case ExecutionCompleted:
		return "completed"
	case ExecutionFailed:
		return "failed"
	case ExecutionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its wire-stable lowercase string rather
// than the underlying int, matching String().
func (s ExecutionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsTerminal reports whether the Execution can no longer transition.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// Execution is the top-level coordinator record tying one Epic to its
// SubTasks and Reviews.
type Execution struct {
	PlannedAt           *time.Time
	ExecutionStartedAt  *time.Time
	ReviewStartedAt     *time.Time
	MergeStartedAt      *time.Time
	CompletedAt         *time.Time
	ErrorMessage        *string
	PlannerOutput       string
	ID                  uuid.UUID
	EpicTaskID          uuid.UUID
	EpicWorkspaceID     uuid.UUID
	PlannerAgentID      uuid.UUID
	Status              ExecutionStatus
	ReviewerCount       int
	ConsensusThreshold  int
	Approvals           int
	Rejections          int
	MaxParallelWorkers  int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ConsensusThresholdFor computes the pBFT quorum 2*floor((N-1)/3)+1 for N
// reviewers. Fixed once at Execution creation per the data model invariant.
func ConsensusThresholdFor(reviewerCount int) int {
	if reviewerCount <= 0 {
		return 1
	}
	f := (reviewerCount - 1) / 3
	return 2*f + 1
}
