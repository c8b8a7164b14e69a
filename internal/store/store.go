// Package store defines the persistence boundary the core consumes: typed
// CRUD on each entity plus the compound queries the Planner, Manager, and
// Consensus components need. The core treats the store as external
// (spec.md §1); this package also ships two concrete implementations,
// memstore and sqlstore.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bazelment/swarmctl/internal/model"
)

// ErrNotFound is returned when a typed lookup fails to find its entity.
// Callers treat it as a 404 per spec.md §7.
var ErrNotFound = errors.New("not found")

// Store is the minimum the core consumes from the persistence layer.
// Timestamps are set by the store at write time.
type Store interface {
	// Execution

	CreateExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*model.Execution, error)
	UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status model.ExecutionStatus) error
	SetPlannerOutput(ctx context.Context, id uuid.UUID, output string) error
	SetExecutionError(ctx context.Context, id uuid.UUID, msg string) error
	IncrementApproval(ctx context.Context, id uuid.UUID) (int, error)
	IncrementRejection(ctx context.Context, id uuid.UUID) (int, error)

	// SubTask

	CreateSubTask(ctx context.Context, s *model.SubTask) error
	GetSubTask(ctx context.Context, id uuid.UUID) (*model.SubTask, error)
	ListSubTasks(ctx context.Context, executionID uuid.UUID) ([]*model.SubTask, error)
	UpdateSubTask(ctx context.Context, s *model.SubTask) error
	FindReadySubtasks(ctx context.Context, executionID uuid.UUID) ([]*model.SubTask, error)
	FindRunningSubtasks(ctx context.Context, executionID uuid.UUID) ([]*model.SubTask, error)
	AllTerminal(ctx context.Context, executionID uuid.UUID) (bool, error)
	Progress(ctx context.Context, executionID uuid.UUID) (Progress, error)

	// Agents & skills

	ListAgentProfiles(ctx context.Context) ([]*model.AgentProfile, error)
	GetAgentProfile(ctx context.Context, id uuid.UUID) (*model.AgentProfile, error)
	UpsertAgentProfile(ctx context.Context, p *model.AgentProfile) error
	ListProfileSkills(ctx context.Context, agentID uuid.UUID) ([]model.ProfileSkill, error)
	GetSkillName(ctx context.Context, skillID uuid.UUID) (string, error)
	UpsertAgentSkill(ctx context.Context, s *model.AgentSkill) error
	FindSkillByName(ctx context.Context, name string) (*model.AgentSkill, error)
	SetProfileSkill(ctx context.Context, ps model.ProfileSkill) error

	// Review

	CreateReview(ctx context.Context, r *model.Review) error
	GetReview(ctx context.Context, id uuid.UUID) (*model.Review, error)
	UpdateReview(ctx context.Context, r *model.Review) error
	ListReviews(ctx context.Context, executionID uuid.UUID) ([]*model.Review, error)
	LatestRound(ctx context.Context, executionID uuid.UUID) (int, error)
}

// Progress is the compound snapshot returned by Progress and surfaced by
// Manager.GetProgress.
type Progress struct {
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Skipped   int
}
