// Package sqlstore is a modernc.org/sqlite-backed implementation of
// store.Store, grounded on the schema-as-const-string / database/sql
// convention used for SQLite-backed stores across the example pack.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bazelment/swarmctl/internal/model"
	"github.com/bazelment/swarmctl/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	epic_task_id TEXT NOT NULL,
	epic_workspace_id TEXT NOT NULL,
	planner_agent_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'planning',
	planner_output TEXT NOT NULL DEFAULT '',
	reviewer_count INTEGER NOT NULL DEFAULT 3,
	consensus_threshold INTEGER NOT NULL DEFAULT 1,
	approvals INTEGER NOT NULL DEFAULT 0,
	rejections INTEGER NOT NULL DEFAULT 0,
	max_parallel_workers INTEGER NOT NULL DEFAULT 3,
	error_message TEXT,
	planned_at DATETIME,
	execution_started_at DATETIME,
	review_started_at DATETIME,
	merge_started_at DATETIME,
	completed_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS subtasks (
	id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	required_skills TEXT NOT NULL DEFAULT '[]',
	depends_on TEXT NOT NULL DEFAULT '[]',
	sequence_order INTEGER NOT NULL DEFAULT 0,
	complexity INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 0,
	assigned_agent TEXT,
	workspace_id TEXT,
	branch_name TEXT NOT NULL DEFAULT '',
	error_message TEXT,
	started_at DATETIME,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_subtasks_execution ON subtasks(execution_id);
CREATE INDEX IF NOT EXISTS idx_subtasks_status ON subtasks(execution_id, status);

CREATE TABLE IF NOT EXISTS agent_profiles (
	id TEXT PRIMARY KEY,
	executor TEXT NOT NULL,
	is_planner BOOLEAN NOT NULL DEFAULT 0,
	is_reviewer BOOLEAN NOT NULL DEFAULT 0,
	is_worker BOOLEAN NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT 1,
	max_concurrent_tasks INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS agent_skills (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	category TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS profile_skills (
	agent_id TEXT NOT NULL,
	skill_id TEXT NOT NULL,
	proficiency INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (agent_id, skill_id)
);

CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	reviewer_agent_id TEXT NOT NULL,
	vote TEXT NOT NULL DEFAULT 'pending',
	round INTEGER NOT NULL DEFAULT 1,
	confidence INTEGER,
	comments TEXT,
	review_diff_hash TEXT,
	submitted_at DATETIME,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reviews_execution ON reviews(execution_id);
`

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open creates or opens a SQLite database at dbPath and ensures the schema
// exists. WAL mode and a busy timeout follow the pattern used for
// concurrent single-writer daemons in the rest of the pack.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Execution ---

func (s *Store) CreateExecution(ctx context.Context, e *model.Execution) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, epic_task_id, epic_workspace_id, planner_agent_id, status,
			reviewer_count, consensus_threshold, max_parallel_workers, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.EpicTaskID.String(), e.EpicWorkspaceID.String(), e.PlannerAgentID.String(),
		e.Status.String(), e.ReviewerCount, e.ConsensusThreshold, e.MaxParallelWorkers, now, now,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create execution: %w", err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, epic_task_id, epic_workspace_id, planner_agent_id, status, planner_output,
			reviewer_count, consensus_threshold, approvals, rejections, max_parallel_workers,
			error_message, planned_at, execution_started_at, review_started_at, merge_started_at,
			completed_at, created_at, updated_at
		FROM executions WHERE id = ?`, id.String())
	return scanExecution(row)
}

func (s *Store) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status model.ExecutionStatus) error {
	now := time.Now().UTC()
	var timestampCol string
	switch status {
	case model.ExecutionPlanned:
		timestampCol = "planned_at"
	case model.ExecutionExecuting:
		timestampCol = "execution_started_at"
	case model.ExecutionReviewing:
		timestampCol = "review_started_at"
	case model.ExecutionMerging:
		timestampCol = "merge_started_at"
	case model.ExecutionCompleted, model.ExecutionFailed, model.ExecutionCancelled:
		timestampCol = "completed_at"
	}
	query := "UPDATE executions SET status = ?, updated_at = ?"
	args := []any{status.String(), now}
	if timestampCol != "" {
		query += fmt.Sprintf(", %s = ?", timestampCol)
		args = append(args, now)
	}
	query += " WHERE id = ?"
	args = append(args, id.String())

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: update execution status: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) SetPlannerOutput(ctx context.Context, id uuid.UUID, output string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE executions SET planner_output = ?, updated_at = ? WHERE id = ?`,
		output, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("sqlstore: set planner output: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) SetExecutionError(ctx context.Context, id uuid.UUID, msg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE executions SET error_message = ?, updated_at = ? WHERE id = ?`,
		msg, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("sqlstore: set execution error: %w", err)
	}
	return requireAffected(res)
}

// IncrementApproval performs the increment as a single UPDATE...RETURNING
// statement so concurrent voters never race on a read-modify-write.
func (s *Store) IncrementApproval(ctx context.Context, id uuid.UUID) (int, error) {
	var approvals int
	err := s.db.QueryRowContext(ctx,
		`UPDATE executions SET approvals = approvals + 1, updated_at = ? WHERE id = ? RETURNING approvals`,
		time.Now().UTC(), id.String(),
	).Scan(&approvals)
	if err == sql.ErrNoRows {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlstore: increment approval: %w", err)
	}
	return approvals, nil
}

func (s *Store) IncrementRejection(ctx context.Context, id uuid.UUID) (int, error) {
	var rejections int
	err := s.db.QueryRowContext(ctx,
		`UPDATE executions SET rejections = rejections + 1, updated_at = ? WHERE id = ? RETURNING rejections`,
		time.Now().UTC(), id.String(),
	).Scan(&rejections)
	if err == sql.ErrNoRows {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlstore: increment rejection: %w", err)
	}
	return rejections, nil
}

func scanExecution(row *sql.Row) (*model.Execution, error) {
	var e model.Execution
	var idStr, epicTaskStr, epicWSStr, plannerStr, statusStr string
	var plannedAt, execStartedAt, reviewStartedAt, mergeStartedAt, completedAt sql.NullTime
	var errMsg sql.NullString

	err := row.Scan(&idStr, &epicTaskStr, &epicWSStr, &plannerStr, &statusStr, &e.PlannerOutput,
		&e.ReviewerCount, &e.ConsensusThreshold, &e.Approvals, &e.Rejections, &e.MaxParallelWorkers,
		&errMsg, &plannedAt, &execStartedAt, &reviewStartedAt, &mergeStartedAt, &completedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan execution: %w", err)
	}

	e.ID = uuid.MustParse(idStr)
	e.EpicTaskID = uuid.MustParse(epicTaskStr)
	e.EpicWorkspaceID = uuid.MustParse(epicWSStr)
	e.PlannerAgentID = uuid.MustParse(plannerStr)
	e.Status = parseExecutionStatus(statusStr)
	if errMsg.Valid {
		e.ErrorMessage = &errMsg.String
	}
	e.PlannedAt = nullTimePtr(plannedAt)
	e.ExecutionStartedAt = nullTimePtr(execStartedAt)
	e.ReviewStartedAt = nullTimePtr(reviewStartedAt)
	e.MergeStartedAt = nullTimePtr(mergeStartedAt)
	e.CompletedAt = nullTimePtr(completedAt)
	return &e, nil
}

func parseExecutionStatus(s string) model.ExecutionStatus {
	switch s {
	case "planning":
		return model.ExecutionPlanning
	case "planned":
		return model.ExecutionPlanned
	case "executing":
		return model.ExecutionExecuting
	case "reviewing":
		return model.ExecutionReviewing
	case "merging":
		return model.ExecutionMerging
	case "completed":
		return model.ExecutionCompleted
	case "failed":
		return model.ExecutionFailed
	case "cancelled":
		return model.ExecutionCancelled
	default:
		return model.ExecutionPlanning
	}
}

// --- SubTask ---

func (s *Store) CreateSubTask(ctx context.Context, t *model.SubTask) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	skillsJSON, err := json.Marshal(t.RequiredSkills)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal required_skills: %w", err)
	}
	deps := make([]string, len(t.DependsOn))
	for i, d := range t.DependsOn {
		deps[i] = d.String()
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal depends_on: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subtasks (id, execution_id, task_id, status, required_skills, depends_on,
			sequence_order, complexity, retry_count, max_retries, branch_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.ExecutionID.String(), t.TaskID.String(), t.Status.String(),
		string(skillsJSON), string(depsJSON), t.SequenceOrder, t.Complexity, t.RetryCount,
		t.MaxRetries, t.BranchName,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create subtask: %w", err)
	}
	return nil
}

func (s *Store) GetSubTask(ctx context.Context, id uuid.UUID) (*model.SubTask, error) {
	row := s.db.QueryRowContext(ctx, subtaskSelect+` WHERE id = ?`, id.String())
	return scanSubTask(row)
}

func (s *Store) ListSubTasks(ctx context.Context, executionID uuid.UUID) ([]*model.SubTask, error) {
	rows, err := s.db.QueryContext(ctx, subtaskSelect+` WHERE execution_id = ? ORDER BY sequence_order`, executionID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list subtasks: %w", err)
	}
	defer rows.Close()
	return scanSubTasks(rows)
}

func (s *Store) UpdateSubTask(ctx context.Context, t *model.SubTask) error {
	skillsJSON, _ := json.Marshal(t.RequiredSkills)
	deps := make([]string, len(t.DependsOn))
	for i, d := range t.DependsOn {
		deps[i] = d.String()
	}
	depsJSON, _ := json.Marshal(deps)

	var assignedAgent, workspaceID, errMsg sql.NullString
	if t.AssignedAgent != nil {
		assignedAgent = sql.NullString{String: t.AssignedAgent.String(), Valid: true}
	}
	if t.WorkspaceID != nil {
		workspaceID = sql.NullString{String: t.WorkspaceID.String(), Valid: true}
	}
	if t.ErrorMessage != nil {
		errMsg = sql.NullString{String: *t.ErrorMessage, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE subtasks SET status = ?, required_skills = ?, depends_on = ?, retry_count = ?,
			assigned_agent = ?, workspace_id = ?, branch_name = ?, error_message = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?`,
		t.Status.String(), string(skillsJSON), string(depsJSON), t.RetryCount,
		assignedAgent, workspaceID, t.BranchName, errMsg,
		timePtrToNull(t.StartedAt), timePtrToNull(t.CompletedAt), t.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update subtask: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) FindReadySubtasks(ctx context.Context, executionID uuid.UUID) ([]*model.SubTask, error) {
	all, err := s.ListSubTasks(ctx, executionID)
	if err != nil {
		return nil, err
	}
	statusByID := make(map[uuid.UUID]model.SubTaskStatus, len(all))
	for _, t := range all {
		statusByID[t.ID] = t.Status
	}
	out := make([]*model.SubTask, 0)
	for _, t := range all {
		if t.Status == model.SubTaskPending && model.DependenciesSatisfied(t.DependsOn, statusByID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) FindRunningSubtasks(ctx context.Context, executionID uuid.UUID) ([]*model.SubTask, error) {
	rows, err := s.db.QueryContext(ctx,
		subtaskSelect+` WHERE execution_id = ? AND status IN ('running', 'assigned') ORDER BY sequence_order`,
		executionID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: find running subtasks: %w", err)
	}
	defer rows.Close()
	return scanSubTasks(rows)
}

// AllTerminal reports whether every SubTask in the Execution is Completed
// or Skipped. Failed is deliberately excluded: a majority-failed Execution
// is routed to Failed by the Manager's own majority check rather than by
// this gate, so a Failed SubTask alone never triggers the
// Executing-to-Reviewing transition.
func (s *Store) AllTerminal(ctx context.Context, executionID uuid.UUID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM subtasks
		WHERE execution_id = ? AND status NOT IN ('completed', 'skipped')`,
		executionID.String(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlstore: all terminal: %w", err)
	}
	return count == 0, nil
}

func (s *Store) Progress(ctx context.Context, executionID uuid.UUID) (store.Progress, error) {
	var p store.Progress
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM subtasks WHERE execution_id = ? GROUP BY status`,
		executionID.String())
	if err != nil {
		return p, fmt.Errorf("sqlstore: progress: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return p, fmt.Errorf("sqlstore: scan progress: %w", err)
		}
		p.Total += count
		switch status {
		case "completed":
			p.Completed = count
		case "running", "assigned":
			p.Running += count
		case "failed":
			p.Failed = count
		case "skipped":
			p.Skipped = count
		case "pending", "blocked":
			p.Pending += count
		}
	}
	return p, rows.Err()
}

const subtaskSelect = `
	SELECT id, execution_id, task_id, status, required_skills, depends_on, sequence_order,
		complexity, retry_count, max_retries, assigned_agent, workspace_id, branch_name,
		error_message, started_at, completed_at
	FROM subtasks`

func scanSubTask(row *sql.Row) (*model.SubTask, error) {
	var t model.SubTask
	var idStr, execStr, taskStr, statusStr, skillsJSON, depsJSON string
	var assignedAgent, workspaceID, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&idStr, &execStr, &taskStr, &statusStr, &skillsJSON, &depsJSON, &t.SequenceOrder,
		&t.Complexity, &t.RetryCount, &t.MaxRetries, &assignedAgent, &workspaceID, &t.BranchName,
		&errMsg, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan subtask: %w", err)
	}
	return hydrateSubTask(&t, idStr, execStr, taskStr, statusStr, skillsJSON, depsJSON,
		assignedAgent, workspaceID, errMsg, startedAt, completedAt)
}

func scanSubTasks(rows *sql.Rows) ([]*model.SubTask, error) {
	out := make([]*model.SubTask, 0)
	for rows.Next() {
		var t model.SubTask
		var idStr, execStr, taskStr, statusStr, skillsJSON, depsJSON string
		var assignedAgent, workspaceID, errMsg sql.NullString
		var startedAt, completedAt sql.NullTime

		if err := rows.Scan(&idStr, &execStr, &taskStr, &statusStr, &skillsJSON, &depsJSON, &t.SequenceOrder,
			&t.Complexity, &t.RetryCount, &t.MaxRetries, &assignedAgent, &workspaceID, &t.BranchName,
			&errMsg, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan subtask: %w", err)
		}
		hydrated, err := hydrateSubTask(&t, idStr, execStr, taskStr, statusStr, skillsJSON, depsJSON,
			assignedAgent, workspaceID, errMsg, startedAt, completedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, hydrated)
	}
	return out, rows.Err()
}

func hydrateSubTask(t *model.SubTask, idStr, execStr, taskStr, statusStr, skillsJSON, depsJSON string,
	assignedAgent, workspaceID, errMsg sql.NullString, startedAt, completedAt sql.NullTime) (*model.SubTask, error) {
	t.ID = uuid.MustParse(idStr)
	t.ExecutionID = uuid.MustParse(execStr)
	t.TaskID = uuid.MustParse(taskStr)
	t.Status = parseSubTaskStatus(statusStr)

	if err := json.Unmarshal([]byte(skillsJSON), &t.RequiredSkills); err != nil {
		return nil, fmt.Errorf("sqlstore: unmarshal required_skills: %w", err)
	}
	var depStrs []string
	if err := json.Unmarshal([]byte(depsJSON), &depStrs); err != nil {
		return nil, fmt.Errorf("sqlstore: unmarshal depends_on: %w", err)
	}
	t.DependsOn = make([]uuid.UUID, len(depStrs))
	for i, d := range depStrs {
		t.DependsOn[i] = uuid.MustParse(d)
	}

	if assignedAgent.Valid {
		id := uuid.MustParse(assignedAgent.String)
		t.AssignedAgent = &id
	}
	if workspaceID.Valid {
		id := uuid.MustParse(workspaceID.String)
		t.WorkspaceID = &id
	}
	if errMsg.Valid {
		t.ErrorMessage = &errMsg.String
	}
	t.StartedAt = nullTimePtr(startedAt)
	t.CompletedAt = nullTimePtr(completedAt)
	return t, nil
}

func parseSubTaskStatus(s string) model.SubTaskStatus {
	switch s {
	case "pending":
		return model.SubTaskPending
	case "blocked":
		return model.SubTaskBlocked
	case "assigned":
		return model.SubTaskAssigned
	case "running":
		return model.SubTaskRunning
	case "completed":
		return model.SubTaskCompleted
	case "failed":
		return model.SubTaskFailed
	case "skipped":
		return model.SubTaskSkipped
	default:
		return model.SubTaskPending
	}
}

// --- Agents & skills ---

func (s *Store) ListAgentProfiles(ctx context.Context) ([]*model.AgentProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, executor, is_planner, is_reviewer, is_worker, priority, active, max_concurrent_tasks
		FROM agent_profiles ORDER BY priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list agent profiles: %w", err)
	}
	defer rows.Close()

	out := make([]*model.AgentProfile, 0)
	for rows.Next() {
		p, err := scanAgentProfileRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetAgentProfile(ctx context.Context, id uuid.UUID) (*model.AgentProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, executor, is_planner, is_reviewer, is_worker, priority, active, max_concurrent_tasks
		FROM agent_profiles WHERE id = ?`, id.String())
	var p model.AgentProfile
	var idStr string
	err := row.Scan(&idStr, &p.Executor, &p.Roles.Planner, &p.Roles.Reviewer, &p.Roles.Worker,
		&p.Priority, &p.Active, &p.MaxConcurrentTasks)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get agent profile: %w", err)
	}
	p.ID = uuid.MustParse(idStr)
	return &p, nil
}

type scannableRow interface {
	Scan(dest ...any) error
}

func scanAgentProfileRow(row scannableRow) (*model.AgentProfile, error) {
	var p model.AgentProfile
	var idStr string
	if err := row.Scan(&idStr, &p.Executor, &p.Roles.Planner, &p.Roles.Reviewer, &p.Roles.Worker,
		&p.Priority, &p.Active, &p.MaxConcurrentTasks); err != nil {
		return nil, fmt.Errorf("sqlstore: scan agent profile: %w", err)
	}
	p.ID = uuid.MustParse(idStr)
	return &p, nil
}

func (s *Store) UpsertAgentProfile(ctx context.Context, p *model.AgentProfile) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_profiles (id, executor, is_planner, is_reviewer, is_worker, priority, active, max_concurrent_tasks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			executor=excluded.executor, is_planner=excluded.is_planner, is_reviewer=excluded.is_reviewer,
			is_worker=excluded.is_worker, priority=excluded.priority, active=excluded.active,
			max_concurrent_tasks=excluded.max_concurrent_tasks`,
		p.ID.String(), p.Executor, p.Roles.Planner, p.Roles.Reviewer, p.Roles.Worker,
		p.Priority, p.Active, p.MaxConcurrentTasks,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert agent profile: %w", err)
	}
	return nil
}

func (s *Store) ListProfileSkills(ctx context.Context, agentID uuid.UUID) ([]model.ProfileSkill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, skill_id, proficiency FROM profile_skills WHERE agent_id = ?`, agentID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list profile skills: %w", err)
	}
	defer rows.Close()

	out := make([]model.ProfileSkill, 0)
	for rows.Next() {
		var ps model.ProfileSkill
		var agentStr, skillStr string
		if err := rows.Scan(&agentStr, &skillStr, &ps.Proficiency); err != nil {
			return nil, fmt.Errorf("sqlstore: scan profile skill: %w", err)
		}
		ps.AgentID = uuid.MustParse(agentStr)
		ps.SkillID = uuid.MustParse(skillStr)
		out = append(out, ps)
	}
	return out, rows.Err()
}

func (s *Store) GetSkillName(ctx context.Context, skillID uuid.UUID) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM agent_skills WHERE id = ?`, skillID.String()).Scan(&name)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlstore: get skill name: %w", err)
	}
	return name, nil
}

func (s *Store) UpsertAgentSkill(ctx context.Context, sk *model.AgentSkill) error {
	if sk.ID == uuid.Nil {
		sk.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_skills (id, name, category) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, category=excluded.category`,
		sk.ID.String(), sk.Name, sk.Category,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert agent skill: %w", err)
	}
	return nil
}

func (s *Store) FindSkillByName(ctx context.Context, name string) (*model.AgentSkill, error) {
	var sk model.AgentSkill
	var idStr string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, category FROM agent_skills WHERE name = ?`, name).
		Scan(&idStr, &sk.Name, &sk.Category)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: find skill by name: %w", err)
	}
	sk.ID = uuid.MustParse(idStr)
	return &sk, nil
}

func (s *Store) SetProfileSkill(ctx context.Context, ps model.ProfileSkill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_skills (agent_id, skill_id, proficiency) VALUES (?, ?, ?)
		ON CONFLICT(agent_id, skill_id) DO UPDATE SET proficiency=excluded.proficiency`,
		ps.AgentID.String(), ps.SkillID.String(), ps.Proficiency,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: set profile skill: %w", err)
	}
	return nil
}

// --- Review ---

func (s *Store) CreateReview(ctx context.Context, r *model.Review) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, execution_id, reviewer_agent_id, vote, round, confidence, comments,
			review_diff_hash, submitted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.ExecutionID.String(), r.ReviewerAgentID.String(), r.Vote.String(), r.Round,
		intPtrToNull(r.Confidence), strPtrToNull(r.Comments), strPtrToNull(r.ReviewDiffHash),
		timePtrToNull(r.SubmittedAt), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: create review: %w", err)
	}
	return nil
}

func (s *Store) GetReview(ctx context.Context, id uuid.UUID) (*model.Review, error) {
	row := s.db.QueryRowContext(ctx, reviewSelect+` WHERE id = ?`, id.String())
	return scanReview(row)
}

func (s *Store) UpdateReview(ctx context.Context, r *model.Review) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET vote = ?, confidence = ?, comments = ?, review_diff_hash = ?, submitted_at = ?
		WHERE id = ?`,
		r.Vote.String(), intPtrToNull(r.Confidence), strPtrToNull(r.Comments),
		strPtrToNull(r.ReviewDiffHash), timePtrToNull(r.SubmittedAt), r.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update review: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) ListReviews(ctx context.Context, executionID uuid.UUID) ([]*model.Review, error) {
	rows, err := s.db.QueryContext(ctx, reviewSelect+` WHERE execution_id = ? ORDER BY round, created_at`, executionID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list reviews: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Review, 0)
	for rows.Next() {
		r, err := scanReviewRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) LatestRound(ctx context.Context, executionID uuid.UUID) (int, error) {
	var round sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(round) FROM reviews WHERE execution_id = ?`, executionID.String()).Scan(&round)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: latest round: %w", err)
	}
	if !round.Valid {
		return 0, nil
	}
	return int(round.Int64), nil
}

const reviewSelect = `
	SELECT id, execution_id, reviewer_agent_id, vote, round, confidence, comments, review_diff_hash,
		submitted_at, created_at
	FROM reviews`

func scanReview(row *sql.Row) (*model.Review, error) {
	var r model.Review
	var idStr, execStr, agentStr, voteStr string
	var confidence sql.NullInt64
	var comments, diffHash sql.NullString
	var submittedAt sql.NullTime

	err := row.Scan(&idStr, &execStr, &agentStr, &voteStr, &r.Round, &confidence, &comments, &diffHash,
		&submittedAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: scan review: %w", err)
	}
	return hydrateReview(&r, idStr, execStr, agentStr, voteStr, confidence, comments, diffHash, submittedAt)
}

func scanReviewRow(rows *sql.Rows) (*model.Review, error) {
	var r model.Review
	var idStr, execStr, agentStr, voteStr string
	var confidence sql.NullInt64
	var comments, diffHash sql.NullString
	var submittedAt sql.NullTime

	if err := rows.Scan(&idStr, &execStr, &agentStr, &voteStr, &r.Round, &confidence, &comments, &diffHash,
		&submittedAt, &r.CreatedAt); err != nil {
		return nil, fmt.Errorf("sqlstore: scan review: %w", err)
	}
	return hydrateReview(&r, idStr, execStr, agentStr, voteStr, confidence, comments, diffHash, submittedAt)
}

func hydrateReview(r *model.Review, idStr, execStr, agentStr, voteStr string, confidence sql.NullInt64,
	comments, diffHash sql.NullString, submittedAt sql.NullTime) (*model.Review, error) {
	r.ID = uuid.MustParse(idStr)
	r.ExecutionID = uuid.MustParse(execStr)
	r.ReviewerAgentID = uuid.MustParse(agentStr)
	r.Vote = parseVote(voteStr)
	if confidence.Valid {
		v := int(confidence.Int64)
		r.Confidence = &v
	}
	if comments.Valid {
		r.Comments = &comments.String
	}
	if diffHash.Valid {
		r.ReviewDiffHash = &diffHash.String
	}
	r.SubmittedAt = nullTimePtr(submittedAt)
	return r, nil
}

func parseVote(s string) model.Vote {
	switch strings.ToLower(s) {
	case "approve":
		return model.VoteApprove
	case "reject":
		return model.VoteReject
	case "abstain":
		return model.VoteAbstain
	default:
		return model.VotePending
	}
}

// --- helpers ---

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

func timePtrToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func strPtrToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func intPtrToNull(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
