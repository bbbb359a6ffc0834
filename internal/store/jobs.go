package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rackops/internal/models"
)

type CreateJobParams struct {
	Kind        string
	TargetScope json.RawMessage
	Details     json.RawMessage
	CreatedBy   string // empty for machine-originated jobs
	ScheduleAt  *time.Time
}

// CreateJob inserts a new pending job. Composite kinds also create their
// child jobs in the same transaction: component_order 1..N in the kind's
// precedence order, target_scope inherited, details not inherited. A parent
// with a partial child set never becomes visible.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (*models.Job, []models.Job, error) {
	if !s.kinds.Known(p.Kind) {
		return nil, nil, fmt.Errorf("%w: unknown job kind %q", ErrValidation, p.Kind)
	}
	if err := validateTargetScope(p.TargetScope); err != nil {
		return nil, nil, err
	}
	if err := validateDetails(p.Details); err != nil {
		return nil, nil, err
	}

	var createdBy *string
	if p.CreatedBy != "" {
		createdBy = &p.CreatedBy
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var job models.Job
	err = tx.GetContext(ctx, &job, `
		INSERT INTO jobs (kind, target_scope, details, status, created_by, schedule_at)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		RETURNING `+jobColumns, p.Kind, orBraces(p.TargetScope), orBraces(p.Details), createdBy, p.ScheduleAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create job: %w", err)
	}

	var children []models.Job
	for i, component := range s.kinds.Components(p.Kind) {
		var child models.Job
		err = tx.GetContext(ctx, &child, `
			INSERT INTO jobs (kind, target_scope, details, status, parent_job_id, component_order)
			VALUES ($1, $2, '{}', 'pending', $3, $4)
			RETURNING `+jobColumns, component, job.TargetScope, job.ID, i+1)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create child job %s: %w", component, err)
		}
		children = append(children, child)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit job creation: %w", err)
	}
	return &job, children, nil
}

// Transition moves a job to newStatus, merging patch into details. The state
// machine lives in the WHERE clause so a concurrent update cannot leave a
// half-applied transition: the last valid transition wins and an invalid one
// simply matches zero rows.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, newStatus models.JobStatus, patch json.RawMessage) (*models.Job, error) {
	sources := models.TransitionSources(newStatus)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no transition to %q exists", ErrInvalidTransition, newStatus)
	}
	if err := validateDetails(patch); err != nil {
		return nil, err
	}

	from := make([]string, len(sources))
	for i, st := range sources {
		from[i] = string(st)
	}

	var job models.Job
	err := s.db.GetContext(ctx, &job, `
		UPDATE jobs SET status = $1,
			details = details || $2,
			started_at = CASE WHEN $1 = 'running' THEN COALESCE(started_at, NOW()) ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed', 'failed', 'cancelled') THEN NOW() ELSE completed_at END
		WHERE id = $3 AND status = ANY($4)
		RETURNING `+jobColumns, newStatus, orBraces(patch), id, pq.Array(from))
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	// Distinguish a missing job from an invalid transition.
	var current models.JobStatus
	err = s.db.GetContext(ctx, &current, `SELECT status FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, newStatus)
}

// Cancel is a transition to cancelled with the reason recorded in details.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Job, error) {
	patch := json.RawMessage(`{}`)
	if reason != "" {
		b, err := json.Marshal(map[string]string{"cancel_reason": reason})
		if err != nil {
			return nil, err
		}
		patch = b
	}
	return s.Transition(ctx, id, models.JobCancelled, patch)
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetJobChildren returns a job's decomposed children in component order.
func (s *Store) GetJobChildren(ctx context.Context, id uuid.UUID) ([]models.Job, error) {
	var children []models.Job
	err := s.db.SelectContext(ctx, &children, `
		SELECT `+jobColumns+` FROM jobs
		WHERE parent_job_id = $1
		ORDER BY component_order ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get child jobs: %w", err)
	}
	return children, nil
}

type ListFilter struct {
	Status   string
	Kind     string
	ParentID *uuid.UUID
}

func (s *Store) ListJobs(ctx context.Context, filter ListFilter) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.ParentID != nil {
		args = append(args, *filter.ParentID)
		query += fmt.Sprintf(" AND parent_job_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	var jobs []models.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return jobs, nil
}

// ClaimableJobs is the executor pickup feed: pending jobs whose schedule_at
// has been reached, oldest first, siblings in component order. The store
// records the intended order; enforcing it is the executor's job.
func (s *Store) ClaimableJobs(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.SelectContext(ctx, &jobs, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'pending' AND (schedule_at IS NULL OR schedule_at <= NOW())
		ORDER BY created_at ASC, component_order ASC NULLS FIRST
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimable jobs: %w", err)
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return jobs, nil
}
