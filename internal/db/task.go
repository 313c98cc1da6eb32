package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgelabs/forge/internal/errors"
	"github.com/forgelabs/forge/internal/plan"
)

// TaskStatus is the lifecycle state of an agent task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether a task in this status will never run again.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AgentTask is a persisted unit of work derived from one AtomicTask of an
// approved plan. TaskKey is the plan-local task id (unique per project);
// ID is globally unique.
type AgentTask struct {
	ID             string
	ProjectID      string
	TaskKey        string
	AgentName      string
	Status         TaskStatus
	Priority       int
	Complexity     plan.Complexity
	WaveNumber     *int
	DependsOn      []string
	Input          string
	Error          string
	Iterations     int
	Recommendation string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

const taskColumns = `id, project_id, task_key, agent_name, status, priority,
	complexity, wave_number, depends_on, input, error, iterations,
	recommendation, created_at, started_at, completed_at`

// CreateTasks persists one AgentTask per plan task in a single transaction.
// The plan must already be validated; this does not re-check it.
func (d *DB) CreateTasks(ctx context.Context, projectID string, p *plan.ExecutionPlan) ([]*AgentTask, error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create tasks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	tasks := make([]*AgentTask, 0, len(p.Tasks))
	for i := range p.Tasks {
		at := &p.Tasks[i]
		deps := at.Dependencies
		if deps == nil {
			deps = []string{}
		}
		depsJSON, err := json.Marshal(deps)
		if err != nil {
			return nil, fmt.Errorf("marshal dependencies for %s: %w", at.ID, err)
		}
		input, err := json.Marshal(at)
		if err != nil {
			return nil, fmt.Errorf("marshal task input for %s: %w", at.ID, err)
		}

		t := &AgentTask{
			ID:         uuid.NewString(),
			ProjectID:  projectID,
			TaskKey:    at.ID,
			AgentName:  at.AgentName,
			Status:     StatusPending,
			Priority:   at.Priority,
			Complexity: plan.ParseComplexity(string(at.Complexity)),
			DependsOn:  deps,
			Input:      string(input),
			CreatedAt:  now,
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO agent_tasks (id, project_id, task_key, agent_name,
				status, priority, complexity, depends_on, input, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProjectID, t.TaskKey, t.AgentName, string(t.Status),
			t.Priority, string(t.Complexity), string(depsJSON), t.Input,
			now.Format(time.RFC3339))
		if err != nil {
			return nil, fmt.Errorf("insert task %s: %w", at.ID, err)
		}
		tasks = append(tasks, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create tasks: %w", err)
	}
	return tasks, nil
}

// GetTask loads a single task by its global id.
func (d *DB) GetTask(ctx context.Context, id string) (*AgentTask, error) {
	row := d.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrTaskNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// GetTaskByKey loads a task by its plan-local key within a project.
func (d *DB) GetTaskByKey(ctx context.Context, projectID, taskKey string) (*AgentTask, error) {
	row := d.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks WHERE project_id = ? AND task_key = ?`,
		projectID, taskKey)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrTaskNotFound(taskKey)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s/%s: %w", projectID, taskKey, err)
	}
	return t, nil
}

// ListTasks returns every task of a project ordered by creation then key.
func (d *DB) ListTasks(ctx context.Context, projectID string) ([]*AgentTask, error) {
	return d.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks
		 WHERE project_id = ? ORDER BY created_at, task_key`, projectID)
}

// PendingTasks returns the tasks of a project still awaiting execution.
func (d *DB) PendingTasks(ctx context.Context, projectID string) ([]*AgentTask, error) {
	return d.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks
		 WHERE project_id = ? AND status = ? ORDER BY priority, task_key`,
		projectID, string(StatusPending))
}

// TasksByStatus returns a project's tasks in the given status.
func (d *DB) TasksByStatus(ctx context.Context, projectID string, status TaskStatus) ([]*AgentTask, error) {
	return d.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM agent_tasks
		 WHERE project_id = ? AND status = ? ORDER BY priority, task_key`,
		projectID, string(status))
}

// FailedTaskKeys returns the plan-local keys of a project's failed tasks.
// Dependents of these keys can never become ready.
func (d *DB) FailedTaskKeys(ctx context.Context, projectID string) (map[string]bool, error) {
	rows, err := d.Query(
		`SELECT task_key FROM agent_tasks WHERE project_id = ? AND status = ?`,
		projectID, string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("query failed tasks: %w", err)
	}
	defer rows.Close()

	failed := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan failed task: %w", err)
		}
		failed[key] = true
	}
	return failed, rows.Err()
}

// CompletedTaskKeys returns the plan-local keys of a project's completed
// tasks.
func (d *DB) CompletedTaskKeys(ctx context.Context, projectID string) (map[string]bool, error) {
	rows, err := d.Query(
		`SELECT task_key FROM agent_tasks WHERE project_id = ? AND status = ?`,
		projectID, string(StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("query completed tasks: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan completed task: %w", err)
		}
		done[key] = true
	}
	return done, rows.Err()
}

// MaxWave returns the highest wave number assigned in a project, or 0 if
// no wave was claimed yet.
func (d *DB) MaxWave(ctx context.Context, projectID string) (int, error) {
	var wave sql.NullInt64
	err := d.QueryRowContext(ctx,
		`SELECT MAX(wave_number) FROM agent_tasks WHERE project_id = ?`,
		projectID).Scan(&wave)
	if err != nil {
		return 0, fmt.Errorf("query max wave: %w", err)
	}
	if !wave.Valid {
		return 0, nil
	}
	return int(wave.Int64), nil
}

// ClaimWave atomically transitions every listed task from pending to
// in_progress and stamps the wave number. If any task is no longer pending
// the whole claim fails with ErrWaveClaimLost and no task is modified.
func (d *DB) ClaimWave(ctx context.Context, projectID string, taskIDs []string, waveNumber int) error {
	if len(taskIDs) == 0 {
		return nil
	}

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin claim wave: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range taskIDs {
		res, err := tx.Exec(ctx, `
			UPDATE agent_tasks
			SET status = ?, wave_number = ?, started_at = ?
			WHERE id = ? AND project_id = ? AND status = ?`,
			string(StatusInProgress), waveNumber, now,
			id, projectID, string(StatusPending))
		if err != nil {
			return fmt.Errorf("claim task %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim task %s: rows affected: %w", id, err)
		}
		if n == 0 {
			// Someone else claimed it, or it is already terminal.
			return errors.ErrWaveClaimLost(projectID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit claim wave: %w", err)
	}
	return nil
}

// ReleaseTask reverts an in_progress task back to pending, clearing its
// wave assignment. Used as compensation when dispatch fails after a claim.
func (d *DB) ReleaseTask(ctx context.Context, id string) error {
	res, err := d.ExecContext(ctx, `
		UPDATE agent_tasks
		SET status = ?, wave_number = NULL, started_at = NULL
		WHERE id = ? AND status = ?`,
		string(StatusPending), id, string(StatusInProgress))
	if err != nil {
		return fmt.Errorf("release task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release task %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return errors.ErrTaskInvalidState(id, "unknown", string(StatusInProgress))
	}
	return nil
}

// MarkCompleted records a task as finished successfully.
func (d *DB) MarkCompleted(ctx context.Context, id string, iterations int) error {
	return d.finishTask(ctx, id, StatusCompleted, "", iterations, "")
}

// MarkFailed records a task as permanently failed with the terminal error
// and an optional recovery recommendation.
func (d *DB) MarkFailed(ctx context.Context, id, errMsg string, iterations int, recommendation string) error {
	return d.finishTask(ctx, id, StatusFailed, errMsg, iterations, recommendation)
}

func (d *DB) finishTask(ctx context.Context, id string, status TaskStatus, errMsg string, iterations int, recommendation string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := d.ExecContext(ctx, `
		UPDATE agent_tasks
		SET status = ?, error = ?, iterations = ?, recommendation = ?,
			completed_at = ?
		WHERE id = ? AND status = ?`,
		string(status), errMsg, iterations, recommendation, now,
		id, string(StatusInProgress))
	if err != nil {
		return fmt.Errorf("mark task %s %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark task %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return errors.ErrTaskInvalidState(id, "unknown", string(StatusInProgress))
	}
	return nil
}

// DeleteTasks removes all tasks of a project. Used when a rejected plan is
// revised before any execution started.
func (d *DB) DeleteTasks(ctx context.Context, projectID string) error {
	if _, err := d.ExecContext(ctx,
		`DELETE FROM agent_tasks WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("delete tasks for %s: %w", projectID, err)
	}
	return nil
}

func (d *DB) queryTasks(ctx context.Context, query string, args ...any) ([]*AgentTask, error) {
	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*AgentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*AgentTask, error) {
	var (
		t           AgentTask
		status      string
		complexity  string
		wave        sql.NullInt64
		depsJSON    string
		createdAt   string
		startedAt   sql.NullString
		completedAt sql.NullString
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.TaskKey, &t.AgentName, &status,
		&t.Priority, &complexity, &wave, &depsJSON, &t.Input, &t.Error,
		&t.Iterations, &t.Recommendation, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Status = TaskStatus(status)
	t.Complexity = plan.Complexity(complexity)
	if wave.Valid {
		w := int(wave.Int64)
		t.WaveNumber = &w
	}
	if err := json.Unmarshal([]byte(depsJSON), &t.DependsOn); err != nil {
		return nil, fmt.Errorf("unmarshal depends_on: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if startedAt.Valid {
		if ts, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			t.StartedAt = &ts
		}
	}
	if completedAt.Valid {
		if ts, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			t.CompletedAt = &ts
		}
	}
	return &t, nil
}
