// Package memstore is an in-process, mutex-guarded implementation of
// store.Store. It is the default backend for tests and single-process CLI
// use, grounded on medivac/issue/tracker.go's mutex-guarded map convention.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bazelment/swarmctl/internal/model"
	"github.com/bazelment/swarmctl/internal/store"
)

// Store is an in-memory store.Store. All methods are safe for concurrent
// use; counter increments take the single lock, satisfying the
// single-statement-atomicity requirement of spec.md §5/§7/§9.
type Store struct {
	mu           sync.Mutex
	executions   map[uuid.UUID]*model.Execution
	subtasks     map[uuid.UUID]*model.SubTask
	profiles     map[uuid.UUID]*model.AgentProfile
	skills       map[uuid.UUID]*model.AgentSkill
	profileSkill map[uuid.UUID][]model.ProfileSkill // agentID -> skills
	reviews      map[uuid.UUID]*model.Review
	now          func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		executions:   make(map[uuid.UUID]*model.Execution),
		subtasks:     make(map[uuid.UUID]*model.SubTask),
		profiles:     make(map[uuid.UUID]*model.AgentProfile),
		skills:       make(map[uuid.UUID]*model.AgentSkill),
		profileSkill: make(map[uuid.UUID][]model.ProfileSkill),
		reviews:      make(map[uuid.UUID]*model.Review),
		now:          time.Now,
	}
}

var _ store.Store = (*Store)(nil)

// --- Execution ---

func (s *Store) CreateExecution(_ context.Context, e *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := s.now()
	e.CreatedAt = now
	e.UpdatedAt = now
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *Store) GetExecution(_ context.Context, id uuid.UUID) (*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) UpdateExecutionStatus(_ context.Context, id uuid.UUID, status model.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	now := s.now()
	e.Status = status
	e.UpdatedAt = now
	switch status {
	case model.ExecutionPlanned:
		e.PlannedAt = &now
	case model.ExecutionExecuting:
		e.ExecutionStartedAt = &now
	case model.ExecutionReviewing:
		e.ReviewStartedAt = &now
	case model.ExecutionMerging:
		e.MergeStartedAt = &now
	case model.ExecutionCompleted, model.ExecutionFailed, model.ExecutionCancelled:
		e.CompletedAt = &now
	}
	return nil
}

func (s *Store) SetPlannerOutput(_ context.Context, id uuid.UUID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	e.PlannerOutput = output
	e.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetExecutionError(_ context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	e.ErrorMessage = &msg
	e.UpdatedAt = s.now()
	return nil
}

func (s *Store) IncrementApproval(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	e.Approvals++
	e.UpdatedAt = s.now()
	return e.Approvals, nil
}

func (s *Store) IncrementRejection(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	e.Rejections++
	e.UpdatedAt = s.now()
	return e.Rejections, nil
}

// --- SubTask ---

func (s *Store) CreateSubTask(_ context.Context, t *model.SubTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	cp := *t
	s.subtasks[t.ID] = &cp
	return nil
}

func (s *Store) GetSubTask(_ context.Context, id uuid.UUID) (*model.SubTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.subtasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListSubTasks(_ context.Context, executionID uuid.UUID) ([]*model.SubTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listSubtasksLocked(executionID), nil
}

func (s *Store) listSubtasksLocked(executionID uuid.UUID) []*model.SubTask {
	out := make([]*model.SubTask, 0)
	for _, t := range s.subtasks {
		if t.ExecutionID == executionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortBySequence(out)
	return out
}

func (s *Store) UpdateSubTask(_ context.Context, t *model.SubTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subtasks[t.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *t
	s.subtasks[t.ID] = &cp
	return nil
}

func (s *Store) FindReadySubtasks(_ context.Context, executionID uuid.UUID) ([]*model.SubTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statusByID := make(map[uuid.UUID]model.SubTaskStatus)
	for _, t := range s.subtasks {
		if t.ExecutionID == executionID {
			statusByID[t.ID] = t.Status
		}
	}

	out := make([]*model.SubTask, 0)
	for _, t := range s.listSubtasksLocked(executionID) {
		if t.Status != model.SubTaskPending {
			continue
		}
		if model.DependenciesSatisfied(t.DependsOn, statusByID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) FindRunningSubtasks(_ context.Context, executionID uuid.UUID) ([]*model.SubTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.SubTask, 0)
	for _, t := range s.listSubtasksLocked(executionID) {
		if t.Status == model.SubTaskRunning || t.Status == model.SubTaskAssigned {
			out = append(out, t)
		}
	}
	return out, nil
}

// AllTerminal reports whether every SubTask in the Execution is Completed
// or Skipped. A Failed SubTask does not count; majority-failure routes the
// Execution to Failed via a separate check in the Manager.
func (s *Store) AllTerminal(_ context.Context, executionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.subtasks {
		if t.ExecutionID != executionID {
			continue
		}
		if t.Status != model.SubTaskCompleted && t.Status != model.SubTaskSkipped {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) Progress(_ context.Context, executionID uuid.UUID) (store.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p store.Progress
	for _, t := range s.subtasks {
		if t.ExecutionID != executionID {
			continue
		}
		p.Total++
		switch t.Status {
		case model.SubTaskCompleted:
			p.Completed++
		case model.SubTaskRunning, model.SubTaskAssigned:
			p.Running++
		case model.SubTaskFailed:
			p.Failed++
		case model.SubTaskSkipped:
			p.Skipped++
		case model.SubTaskPending, model.SubTaskBlocked:
			p.Pending++
		}
	}
	return p, nil
}

// --- Agents & skills ---

func (s *Store) ListAgentProfiles(_ context.Context) ([]*model.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.AgentProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) GetAgentProfile(_ context.Context, id uuid.UUID) (*model.AgentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpsertAgentProfile(_ context.Context, p *model.AgentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

func (s *Store) ListProfileSkills(_ context.Context, agentID uuid.UUID) ([]model.ProfileSkill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ProfileSkill, len(s.profileSkill[agentID]))
	copy(out, s.profileSkill[agentID])
	return out, nil
}

func (s *Store) GetSkillName(_ context.Context, skillID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.skills[skillID]
	if !ok {
		return "", store.ErrNotFound
	}
	return sk.Name, nil
}

func (s *Store) UpsertAgentSkill(_ context.Context, sk *model.AgentSkill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sk.ID == uuid.Nil {
		sk.ID = uuid.New()
	}
	cp := *sk
	s.skills[sk.ID] = &cp
	return nil
}

func (s *Store) FindSkillByName(_ context.Context, name string) (*model.AgentSkill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sk := range s.skills {
		if sk.Name == name {
			cp := *sk
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SetProfileSkill(_ context.Context, ps model.ProfileSkill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.profileSkill[ps.AgentID]
	for i, e := range existing {
		if e.SkillID == ps.SkillID {
			existing[i] = ps
			return nil
		}
	}
	s.profileSkill[ps.AgentID] = append(existing, ps)
	return nil
}

// --- Review ---

func (s *Store) CreateReview(_ context.Context, r *model.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = s.now()
	cp := *r
	s.reviews[r.ID] = &cp
	return nil
}

func (s *Store) GetReview(_ context.Context, id uuid.UUID) (*model.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) UpdateReview(_ context.Context, r *model.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[r.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *r
	s.reviews[r.ID] = &cp
	return nil
}

func (s *Store) ListReviews(_ context.Context, executionID uuid.UUID) ([]*model.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Review, 0)
	for _, r := range s.reviews {
		if r.ExecutionID == executionID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) LatestRound(_ context.Context, executionID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, r := range s.reviews {
		if r.ExecutionID == executionID && r.Round > max {
			max = r.Round
		}
	}
	return max, nil
}

func sortBySequence(ts []*model.SubTask) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j-1].SequenceOrder > ts[j].SequenceOrder; j-- {
			ts[j-1], ts[j] = ts[j], ts[j-1]
		}
	}
}
