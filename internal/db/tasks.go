package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Task statuses
const (
	TaskStatusPending    = "PENDING"
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusCompleted  = "COMPLETED"
)

// Task represents a to-do item assigned to a user, either created
// manually or generated from a weekly report.
type Task struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Priority      string     `json:"priority"`
	Status        string     `json:"status"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	WeekStartDate *time.Time `json:"week_start_date,omitempty"`
	WeekEndDate   *time.Time `json:"week_end_date,omitempty"`
	IsAiGenerated bool       `json:"is_ai_generated"`
	AssignedBy    *string    `json:"assigned_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CreateTask inserts a task row
func (d *DB) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}

	query := `
		INSERT INTO tasks (
			id, user_id, title, description, priority, status,
			due_date, week_start_date, week_end_date, is_ai_generated, assigned_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := d.client.ExecContext(ctx, query,
		t.ID, t.UserID, t.Title, t.Description, t.Priority, t.Status,
		t.DueDate, t.WeekStartDate, t.WeekEndDate, t.IsAiGenerated, t.AssignedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// CountAITasks returns how many AI-generated tasks exist for a user and
// week start date. Used as the idempotency guard before generation.
func (d *DB) CountAITasks(ctx context.Context, userID string, weekStart time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM tasks
		WHERE user_id = $1 AND week_start_date = $2 AND is_ai_generated
	`
	var count int
	if err := d.client.QueryRowContext(ctx, query, userID, weekStart).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count AI tasks: %w", err)
	}
	return count, nil
}

// ListTasksForUser returns a user's tasks ordered by due date then priority
func (d *DB) ListTasksForUser(ctx context.Context, userID string, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, title, description, priority, status,
			due_date, week_start_date, week_end_date, is_ai_generated, assigned_by,
			created_at, updated_at
		FROM tasks
		WHERE user_id = $1
		ORDER BY due_date ASC NULLS LAST, created_at DESC
		LIMIT $2
	`
	rows, err := d.client.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Title, &t.Description, &t.Priority, &t.Status,
			&t.DueDate, &t.WeekStartDate, &t.WeekEndDate, &t.IsAiGenerated, &t.AssignedBy,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus transitions a task's status
func (d *DB) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	result, err := d.client.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2`, status, taskID)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		log.Warn().Str("task_id", taskID).Msg("Task status update matched no rows")
	}
	return nil
}
