package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"rackops/internal/models"
)

// CreateTasksForJob creates one pending task per target identifier, all in
// one transaction against an existing job.
func (s *Store) CreateTasksForJob(ctx context.Context, jobID uuid.UUID, targetIDs []string) ([]models.Task, error) {
	if len(targetIDs) == 0 {
		return nil, fmt.Errorf("%w: no target identifiers", ErrValidation)
	}
	for _, id := range targetIDs {
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: malformed target identifier %q", ErrValidation, id)
		}
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tasks := make([]models.Task, 0, len(targetIDs))
	for _, targetID := range targetIDs {
		var task models.Task
		err = tx.GetContext(ctx, &task, `
			INSERT INTO tasks (job_id, target_id, status)
			VALUES ($1, $2, 'pending')
			RETURNING `+taskColumns, jobID, targetID)
		if err != nil {
			return nil, fmt.Errorf("failed to create task for %s: %w", targetID, err)
		}
		tasks = append(tasks, task)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task creation: %w", err)
	}
	return tasks, nil
}

// UpdateTask records executor progress on a task. Terminal tasks are
// immutable; a log line is appended, not replaced.
func (s *Store) UpdateTask(ctx context.Context, id uuid.UUID, status models.TaskStatus, progress int, logLine string) (*models.Task, error) {
	switch status {
	case models.TaskPending, models.TaskRunning, models.TaskCompleted, models.TaskFailed:
	default:
		return nil, fmt.Errorf("%w: unknown task status %q", ErrValidation, status)
	}
	if progress < 0 || progress > 100 {
		return nil, fmt.Errorf("%w: progress must be 0-100", ErrValidation)
	}

	var task models.Task
	err := s.db.GetContext(ctx, &task, `
		UPDATE tasks SET status = $1, progress = $2,
			log = CASE WHEN $3 <> '' THEN COALESCE(log || E'\n', '') || $3 ELSE log END,
			started_at = CASE WHEN $1 = 'running' THEN COALESCE(started_at, NOW()) ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = $4 AND status NOT IN ('completed', 'failed')
		RETURNING `+taskColumns, status, progress, logLine, id)
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	var current models.TaskStatus
	err = s.db.GetContext(ctx, &current, `SELECT status FROM tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task status: %w", err)
	}
	return nil, fmt.Errorf("%w: task is %s", ErrInvalidTransition, current)
}

func (s *Store) ListTasks(ctx context.Context, jobID uuid.UUID) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT `+taskColumns+` FROM tasks
		WHERE job_id = $1
		ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}
