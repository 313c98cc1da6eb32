package db

import (
	"context"
	"fmt"
	"time"
)

// EventRecord is one persisted orchestration event.
type EventRecord struct {
	ID        int64
	ProjectID string
	TaskID    string
	EventType string
	Data      string
	Source    string
	CreatedAt time.Time
}

// SaveEvents appends a batch of event records in one transaction.
func (d *DB) SaveEvents(ctx context.Context, events []EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save events: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range events {
		ts := e.CreatedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO event_log (project_id, task_id, event_type, data,
				source, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ProjectID, e.TaskID, e.EventType, e.Data, e.Source,
			ts.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert event %s: %w", e.EventType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save events: %w", err)
	}
	return nil
}

// ListEvents returns a project's events oldest first, up to limit.
// A limit of 0 means no limit.
func (d *DB) ListEvents(ctx context.Context, projectID string, limit int) ([]EventRecord, error) {
	query := `SELECT id, project_id, task_id, event_type, data, source,
		created_at FROM event_log WHERE project_id = ? ORDER BY id`
	args := []any{projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var (
			e         EventRecord
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.TaskID, &e.EventType,
			&e.Data, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
