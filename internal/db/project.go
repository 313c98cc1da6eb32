package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgelabs/forge/internal/errors"
	"github.com/forgelabs/forge/internal/project"
)

const projectColumns = `project_id, user_id, current_phase, blueprint,
	blueprint_parsed, tech_stack, architecture, plan_approval_status,
	plan_revision_count, plan_json, failed_phase, failure_msg, version,
	created_at, updated_at`

// SaveProject inserts or updates a project context. The version column is
// bumped on every save so concurrent writers can detect lost updates.
func (d *DB) SaveProject(ctx context.Context, p *project.Context) error {
	if err := p.Validate(); err != nil {
		return err
	}

	techStack, err := json.Marshal(p.TechStack)
	if err != nil {
		return fmt.Errorf("marshal tech stack: %w", err)
	}
	parsed := ""
	if p.BlueprintParsed != nil {
		b, err := json.Marshal(p.BlueprintParsed)
		if err != nil {
			return fmt.Errorf("marshal parsed blueprint: %w", err)
		}
		parsed = string(b)
	}

	now := time.Now().UTC()
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.Version++

	_, err = d.ExecContext(ctx, `
		INSERT INTO projects (project_id, user_id, current_phase, blueprint,
			blueprint_parsed, tech_stack, architecture, plan_approval_status,
			plan_revision_count, plan_json, failed_phase, failure_msg,
			version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			user_id = excluded.user_id,
			current_phase = excluded.current_phase,
			blueprint = excluded.blueprint,
			blueprint_parsed = excluded.blueprint_parsed,
			tech_stack = excluded.tech_stack,
			architecture = excluded.architecture,
			plan_approval_status = excluded.plan_approval_status,
			plan_revision_count = excluded.plan_revision_count,
			plan_json = excluded.plan_json,
			failed_phase = excluded.failed_phase,
			failure_msg = excluded.failure_msg,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		p.ProjectID, p.UserID, string(p.CurrentPhase), p.Blueprint,
		parsed, string(techStack), p.Architecture,
		string(p.PlanApprovalStatus), p.PlanRevisionCount, p.PlanJSON,
		string(p.FailedPhase), p.FailureMsg, p.Version,
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ProjectID, err)
	}
	return nil
}

// GetProject loads a project context by id.
func (d *DB) GetProject(ctx context.Context, projectID string) (*project.Context, error) {
	row := d.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE project_id = ?`, projectID)

	var (
		p           project.Context
		phase       string
		parsed      string
		techStack   string
		approval    string
		failedPhase string
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&p.ProjectID, &p.UserID, &phase, &p.Blueprint,
		&parsed, &techStack, &p.Architecture, &approval,
		&p.PlanRevisionCount, &p.PlanJSON, &failedPhase, &p.FailureMsg,
		&p.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrProjectNotFound(projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}

	p.CurrentPhase = project.Phase(phase)
	p.PlanApprovalStatus = project.ApprovalStatus(approval)
	p.FailedPhase = project.Phase(failedPhase)
	if err := json.Unmarshal([]byte(techStack), &p.TechStack); err != nil {
		return nil, fmt.Errorf("unmarshal tech stack: %w", err)
	}
	if parsed != "" {
		if err := json.Unmarshal([]byte(parsed), &p.BlueprintParsed); err != nil {
			return nil, fmt.Errorf("unmarshal parsed blueprint: %w", err)
		}
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		p.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		p.UpdatedAt = ts
	}
	return &p, nil
}

// ProjectPhase returns just the current phase without loading the full
// context.
func (d *DB) ProjectPhase(ctx context.Context, projectID string) (project.Phase, error) {
	var phase string
	err := d.QueryRowContext(ctx,
		`SELECT current_phase FROM projects WHERE project_id = ?`, projectID).
		Scan(&phase)
	if err == sql.ErrNoRows {
		return "", errors.ErrProjectNotFound(projectID)
	}
	if err != nil {
		return "", fmt.Errorf("get project phase %s: %w", projectID, err)
	}
	return project.Phase(phase), nil
}

// SetProjectPhase updates the phase only. Failure context is recorded when
// the new phase is failed.
func (d *DB) SetProjectPhase(ctx context.Context, projectID string, phase project.Phase) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := d.ExecContext(ctx, `
		UPDATE projects SET current_phase = ?, version = version + 1,
			updated_at = ?
		WHERE project_id = ?`,
		string(phase), now, projectID)
	if err != nil {
		return fmt.Errorf("set project phase %s: %w", projectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set project phase %s: rows affected: %w", projectID, err)
	}
	if n == 0 {
		return errors.ErrProjectNotFound(projectID)
	}
	return nil
}

// MarkProjectFailed transitions a project to the failed phase, recording
// which phase broke and why.
func (d *DB) MarkProjectFailed(ctx context.Context, projectID string, failedPhase project.Phase, msg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := d.ExecContext(ctx, `
		UPDATE projects SET current_phase = ?, failed_phase = ?,
			failure_msg = ?, version = version + 1, updated_at = ?
		WHERE project_id = ?`,
		string(project.PhaseFailed), string(failedPhase), msg, now, projectID)
	if err != nil {
		return fmt.Errorf("mark project failed %s: %w", projectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark project failed %s: rows affected: %w", projectID, err)
	}
	if n == 0 {
		return errors.ErrProjectNotFound(projectID)
	}
	return nil
}

// ListProjects returns all project contexts ordered by creation time.
func (d *DB) ListProjects(ctx context.Context) ([]*project.Context, error) {
	rows, err := d.Query(
		`SELECT project_id FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	projects := make([]*project.Context, 0, len(ids))
	for _, id := range ids {
		p, err := d.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}
