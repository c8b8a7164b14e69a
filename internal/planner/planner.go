// Package planner implements the Planner component: producing a SwarmPlan
// for an Epic Task, persisting it, and materializing it into SubTask rows.
// The heuristic decomposition is grounded on
// original_source/crates/services/src/services/swarm/planner.rs; the
// sentinel-error-plus-wrapping convention follows
// multiagent/planner/planner.go.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bazelment/swarmctl/internal/model"
	"github.com/bazelment/swarmctl/internal/store"
)

// Sentinel errors for Planner operations.
var (
	ErrNotEpic     = errors.New("planner: task is not marked epic")
	ErrNoPlanner   = errors.New("planner: no active planner agent available")
	ErrInvalidPlan = errors.New("planner: invalid plan")
)

// EpicTask is the minimum the Planner needs from the task system to decide
// complexity and create an Execution. The task store itself is out of
// scope (spec.md §1); callers supply this view.
type EpicTask struct {
	ID          uuid.UUID
	Title       string
	Description string
	IsEpic      bool
}

// Decomposer turns an EpicTask into a SwarmPlan. HeuristicDecomposer is the
// reference implementation; an LLM-backed Decomposer can be substituted
// without touching the Planner, as long as it preserves the same
// invariants (forward-only depends_on, 1 ≤ |subtasks| ≤ MaxSubtasks,
// RequiresSwarm ↔ |subtasks| ≥ SwarmThreshold).
type Decomposer interface {
	Decompose(task EpicTask, cfg Config) model.SwarmPlan
}

// Config holds the Planner's tunable knobs (spec.md §6).
type Config struct {
	SwarmThreshold int
	MaxSubtasks    int
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{SwarmThreshold: 2, MaxSubtasks: 10}
}

// Planner produces and materializes SwarmPlans.
type Planner struct {
	store      store.Store
	decomposer Decomposer
	cfg        Config
}

// New constructs a Planner backed by st, using decomposer (or
// HeuristicDecomposer if nil) and cfg.
func New(st store.Store, decomposer Decomposer, cfg Config) *Planner {
	if decomposer == nil {
		decomposer = HeuristicDecomposer{}
	}
	return &Planner{store: st, decomposer: decomposer, cfg: cfg}
}

// CreateExecution creates an Execution for an Epic task. It fails with
// ErrNotEpic unless task.IsEpic is true (auto-marking the task epic is the
// caller's responsibility — the public API adapter, not this package, per
// spec.md §4.1). It picks the highest-priority active planner AgentProfile
// and fails with ErrNoPlanner if none exists.
func (p *Planner) CreateExecution(ctx context.Context, task EpicTask, epicWorkspaceID uuid.UUID) (*model.Execution, error) {
	if !task.IsEpic {
		return nil, ErrNotEpic
	}

	plannerAgent, err := p.findPlanner(ctx)
	if err != nil {
		return nil, err
	}

	reviewerCount := 3
	e := &model.Execution{
		EpicTaskID:         task.ID,
		EpicWorkspaceID:    epicWorkspaceID,
		PlannerAgentID:     plannerAgent.ID,
		Status:             model.ExecutionPlanning,
		ReviewerCount:      reviewerCount,
		ConsensusThreshold: model.ConsensusThresholdFor(reviewerCount),
		MaxParallelWorkers: 3,
	}
	if err := p.store.CreateExecution(ctx, e); err != nil {
		return nil, fmt.Errorf("planner: create execution: %w", err)
	}
	return e, nil
}

func (p *Planner) findPlanner(ctx context.Context) (*model.AgentProfile, error) {
	profiles, err := p.store.ListAgentProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("planner: list agent profiles: %w", err)
	}

	var best *model.AgentProfile
	for _, candidate := range profiles {
		if !candidate.Active || !candidate.Roles.Planner {
			continue
		}
		if best == nil || candidate.Priority > best.Priority ||
			(candidate.Priority == best.Priority && candidate.ID.String() < best.ID.String()) {
			best = candidate
		}
	}
	if best == nil {
		return nil, ErrNoPlanner
	}
	return best, nil
}

// GeneratePlan runs the configured Decomposer against the Execution's Epic
// task, writes the plan's stable JSON serialization as PlannerOutput, and
// transitions the Execution to Planned.
func (p *Planner) GeneratePlan(ctx context.Context, executionID uuid.UUID, task EpicTask) (model.SwarmPlan, error) {
	plan := p.decomposer.Decompose(task, p.cfg)
	if err := validatePlan(plan, p.cfg); err != nil {
		return model.SwarmPlan{}, err
	}

	encoded, err := encodePlan(plan)
	if err != nil {
		return model.SwarmPlan{}, fmt.Errorf("planner: encode plan: %w", err)
	}
	if err := p.store.SetPlannerOutput(ctx, executionID, encoded); err != nil {
		return model.SwarmPlan{}, fmt.Errorf("planner: persist plan: %w", err)
	}
	if err := p.store.UpdateExecutionStatus(ctx, executionID, model.ExecutionPlanned); err != nil {
		return model.SwarmPlan{}, fmt.Errorf("planner: transition to planned: %w", err)
	}
	return plan, nil
}

// ExecutePlan materializes plan into SubTask rows, preserving the plan's
// integer dependency indices by remapping them to freshly minted SubTask
// IDs in insertion order, and transitions the Execution to Executing.
func (p *Planner) ExecutePlan(ctx context.Context, executionID uuid.UUID, plan model.SwarmPlan) ([]*model.SubTask, error) {
	if err := validatePlan(plan, p.cfg); err != nil {
		return nil, err
	}

	idByIndex := make([]uuid.UUID, len(plan.Subtasks))
	for i := range plan.Subtasks {
		idByIndex[i] = uuid.New()
	}

	subtasks := make([]*model.SubTask, 0, len(plan.Subtasks))
	for i, planned := range plan.Subtasks {
		dependsOn := make([]uuid.UUID, len(planned.DependsOn))
		for j, idx := range planned.DependsOn {
			dependsOn[j] = idByIndex[idx]
		}

		st := &model.SubTask{
			ID:             idByIndex[i],
			ExecutionID:    executionID,
			TaskID:         uuid.New(),
			Status:         model.SubTaskPending,
			RequiredSkills: planned.RequiredSkills,
			DependsOn:      dependsOn,
			SequenceOrder:  i,
			Complexity:     planned.Complexity,
			MaxRetries:     2,
		}
		if err := p.store.CreateSubTask(ctx, st); err != nil {
			return nil, fmt.Errorf("planner: create subtask %d: %w", i, err)
		}
		subtasks = append(subtasks, st)
	}

	if err := p.store.UpdateExecutionStatus(ctx, executionID, model.ExecutionExecuting); err != nil {
		return nil, fmt.Errorf("planner: transition to executing: %w", err)
	}
	return subtasks, nil
}

// validatePlan enforces the invariants every Decomposer must preserve:
// forward-only depends_on, a non-empty subtask count within MaxSubtasks,
// and the RequiresSwarm ↔ |subtasks| ≥ SwarmThreshold correspondence.
func validatePlan(plan model.SwarmPlan, cfg Config) error {
	n := len(plan.Subtasks)
	if n == 0 {
		return fmt.Errorf("%w: plan has no subtasks", ErrInvalidPlan)
	}
	if cfg.MaxSubtasks > 0 && n > cfg.MaxSubtasks {
		return fmt.Errorf("%w: %d subtasks exceeds max %d", ErrInvalidPlan, n, cfg.MaxSubtasks)
	}

	for i, st := range plan.Subtasks {
		for _, dep := range st.DependsOn {
			if dep >= i {
				return fmt.Errorf("%w: subtask %d depends on non-prior index %d", ErrInvalidPlan, i, dep)
			}
			if dep < 0 {
				return fmt.Errorf("%w: subtask %d has negative dependency index %d", ErrInvalidPlan, i, dep)
			}
		}
	}

	wantSwarm := n >= cfg.SwarmThreshold
	if plan.RequiresSwarm != wantSwarm {
		return fmt.Errorf("%w: requires_swarm=%v inconsistent with %d subtasks (threshold %d)",
			ErrInvalidPlan, plan.RequiresSwarm, n, cfg.SwarmThreshold)
	}
	return nil
}

func encodePlan(plan model.SwarmPlan) (string, error) {
	b, err := json.Marshal(plan)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HeuristicDecomposer maps a complexity estimate to one of three fixed
// skeletons, grounded on
// original_source/crates/services/src/services/swarm/planner.rs
// generate_subtasks.
type HeuristicDecomposer struct{}

func (HeuristicDecomposer) Decompose(task EpicTask, cfg Config) model.SwarmPlan {
	complexity := EstimateComplexity(task.Title, task.Description)
	subtasks := skeletonFor(task, complexity)

	return model.SwarmPlan{
		ComplexityLabel: complexity.String(),
		Reasoning: fmt.Sprintf("task %q analyzed as %s complexity; %d subtasks identified",
			task.Title, complexity.String(), len(subtasks)),
		Subtasks:      subtasks,
		RequiresSwarm: len(subtasks) >= cfg.SwarmThreshold,
	}
}

func skeletonFor(task EpicTask, complexity model.TaskComplexity) []model.PlannedSubtask {
	switch complexity {
	case model.ComplexityTrivial, model.ComplexitySimple:
		return []model.PlannedSubtask{
			{
				Title:          task.Title,
				Description:    task.Description,
				RequiredSkills: []string{"backend"},
				DependsOn:      nil,
				Complexity:     1,
			},
		}
	case model.ComplexityModerate:
		return []model.PlannedSubtask{
			{
				Title:          "Analyze requirements: " + task.Title,
				Description:    "Analyze and document the requirements",
				RequiredSkills: []string{"architecture"},
				DependsOn:      nil,
				Complexity:     2,
			},
			{
				Title:          "Implement: " + task.Title,
				Description:    task.Description,
				RequiredSkills: []string{"backend", "frontend"},
				DependsOn:      []int{0},
				Complexity:     3,
			},
			{
				Title:          "Test: " + task.Title,
				Description:    "Write tests and verify implementation",
				RequiredSkills: []string{"testing"},
				DependsOn:      []int{1},
				Complexity:     2,
			},
		}
	default: // ComplexityComplex, ComplexityEpic
		return []model.PlannedSubtask{
			{
				Title:          "Architecture design: " + task.Title,
				Description:    "Design the overall architecture and components",
				RequiredSkills: []string{"architecture"},
				DependsOn:      nil,
				Complexity:     3,
			},
			{
				Title:          "Backend implementation",
				Description:    "Implement backend services and APIs",
				RequiredSkills: []string{"backend", "database"},
				DependsOn:      []int{0},
				Complexity:     4,
			},
			{
				Title:          "Frontend implementation",
				Description:    "Implement frontend components and UI",
				RequiredSkills: []string{"frontend"},
				DependsOn:      []int{0},
				Complexity:     4,
			},
			{
				Title:          "Integration",
				Description:    "Wire backend and frontend together",
				RequiredSkills: []string{"backend", "frontend"},
				DependsOn:      []int{1, 2},
				Complexity:     3,
			},
			{
				Title:          "Testing and QA",
				Description:    "End-to-end and regression testing",
				RequiredSkills: []string{"testing"},
				DependsOn:      []int{3},
				Complexity:     3,
			},
			{
				Title:          "Documentation",
				Description:    "Document the new functionality",
				RequiredSkills: []string{"documentation"},
				DependsOn:      []int{3},
				Complexity:     1,
			},
		}
	}
}

var baseKeywords = []string{
	"refactor", "implement", "build", "create", "design",
	"integrate", "migrate", "optimize", "architecture",
}

var complexityKeywords = []string{
	"system", "framework", "platform", "engine", "complete",
	"full", "entire", "comprehensive", "end-to-end",
}

// estimateTitleComplexity scores a title 1-5: +1 per base keyword match,
// +2 per complexity keyword match, clamped to 5.
func estimateTitleComplexity(title string) int {
	lower := strings.ToLower(title)
	score := 1
	for _, kw := range baseKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	for _, kw := range complexityKeywords {
		if strings.Contains(lower, kw) {
			score += 2
		}
	}
	if score > 5 {
		score = 5
	}
	return score
}

// EstimateComplexity maps a title and description to a TaskComplexity,
// supplementing the distilled spec with original_source's
// analyze_complexity heuristic. HeuristicDecomposer uses it for every
// subtask it builds; EpicTask has no complexity field of its own.
func EstimateComplexity(title, description string) model.TaskComplexity {
	descLen := len(description)
	titleComplexity := estimateTitleComplexity(title)

	switch {
	case descLen <= 50 && titleComplexity == 1:
		return model.ComplexityTrivial
	case descLen <= 200 && titleComplexity <= 2:
		return model.ComplexitySimple
	case descLen <= 500 && titleComplexity <= 3:
		return model.ComplexityModerate
	case descLen <= 1000:
		return model.ComplexityComplex
	default:
		return model.ComplexityEpic
	}
}

