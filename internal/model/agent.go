package model

import "github.com/google/uuid"

// AgentProfile is a long-lived worker/reviewer/planner identity.
type AgentProfile struct {
	ID                 uuid.UUID
	Executor           string
	Roles              AgentRoles
	Priority           int
	Active             bool
	MaxConcurrentTasks int
}

// AgentRoles are the role bits an AgentProfile may hold, any combination.
type AgentRoles struct {
	Planner  bool
	Reviewer bool
	Worker   bool
}

// AgentSkill is a long-lived catalog entry.
type AgentSkill struct {
	ID       uuid.UUID
	Name     string
	Category string
}

// ProfileSkill links an AgentProfile to an AgentSkill with a proficiency
// rating (1-5).
type ProfileSkill struct {
	AgentID     uuid.UUID
	SkillID     uuid.UUID
	Proficiency int
}

// WorkerView is the narrow (agent_id, skill-set) view the Manager holds of
// the shared AgentProfile catalog, per spec.md §3 ownership rules.
type WorkerView struct {
	ID       uuid.UUID
	Priority int
	Skills   map[string]bool
}
